package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/citytransit/transitq"
	"github.com/citytransit/transitq/config"
	"github.com/citytransit/transitq/gtfs"
	"github.com/citytransit/transitq/internal/logging"
	"github.com/citytransit/transitq/metrics"
	"github.com/citytransit/transitq/planner"
	"github.com/citytransit/transitq/refresh"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	staticURL := flag.String("static", "", "GTFS static feed URL or file (overrides config)")
	tripUpdatesURL := flag.String("tripUpdates", "", "GTFS-RT TripUpdates URL or file (overrides config)")
	alertsURL := flag.String("alerts", "", "GTFS-RT ServiceAlerts URL or file (overrides config)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *staticURL != "" {
		cfg.Static.URL = *staticURL
	}
	if *tripUpdatesURL != "" {
		cfg.Realtime.TripUpdatesURL = *tripUpdatesURL
	}
	if *alertsURL != "" {
		cfg.Realtime.ServiceAlertsURL = *alertsURL
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if cfg.Static.URL == "" {
		fmt.Fprintln(os.Stderr, "a static feed URL is required (-static or static.url in config)")
		os.Exit(1)
	}

	log := logging.New(cfg.Log)
	met := metrics.New(prometheus.DefaultRegisterer)

	indexOpts := gtfs.DefaultIndexOptions()
	indexOpts.MaxTransferMeters = float64(cfg.Static.TransferRadiusM)

	co := refresh.NewCoordinator(refresh.Options{
		Static:           newFeedSource(cfg.Static.URL, time.Duration(cfg.Static.TimeoutSeconds)*time.Second),
		Trips:            optionalSource(cfg.Realtime.TripUpdatesURL, cfg.Realtime.TimeoutSeconds),
		Alerts:           optionalSource(cfg.Realtime.ServiceAlertsURL, cfg.Realtime.TimeoutSeconds),
		IndexOpts:        indexOpts,
		StaticInterval:   time.Duration(cfg.Static.RefreshHours) * time.Hour,
		RealtimeInterval: time.Duration(cfg.Realtime.IntervalSeconds) * time.Second,
		MaxBackoff:       time.Duration(cfg.Realtime.MaxBackoffSeconds) * time.Second,
		Logger:           log.With().Str("component", "refresh").Logger(),
		Metrics:          met,
	})

	engine := transitq.NewEngine(co, transitq.Options{
		Staleness:      time.Duration(cfg.Realtime.StalenessSeconds) * time.Second,
		DefaultHorizon: time.Duration(cfg.Query.DefaultHorizonMinutes) * time.Minute,
		MaxHorizon:     time.Duration(cfg.Query.MaxHorizonMinutes) * time.Minute,
		Planner: planner.Options{
			MaxTransfers: cfg.Query.MaxTransfers,
			MinTransfer:  time.Duration(cfg.Query.MinTransferMinutes) * time.Minute,
			Window:       time.Duration(cfg.Query.WindowMinutes) * time.Minute,
			MaxResults:   cfg.Query.MaxItineraries,
		},
		Logger:  log.With().Str("component", "engine").Logger(),
		Metrics: met,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := co.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("refresh coordinator stopped")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(engine, log.With().Str("component", "http").Logger()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("server listening")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	} else {
		log.Info().Msg("server shut down")
	}
}

func optionalSource(urlOrPath string, timeoutSec int) refresh.Source {
	if urlOrPath == "" {
		return nil
	}
	return newFeedSource(urlOrPath, time.Duration(timeoutSec)*time.Second)
}
