// Package refresh owns the background feed lifecycle: fetching the
// static schedule and the realtime feeds, validating them, and swapping
// validated snapshots in for queries. Queries keep being served from the
// previous snapshot throughout every refresh.
package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/citytransit/transitq/gtfs"
	"github.com/citytransit/transitq/gtfsrt"
	"github.com/citytransit/transitq/metrics"
)

// Source produces one raw feed payload per Fetch. Implementations wrap
// HTTP endpoints or local files and must honor ctx cancellation.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

// FetchError marks a transient failure to retrieve a feed. The previous
// snapshot stays in service when one occurs.
type FetchError struct {
	Feed string
	Err  error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Feed, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Options configures the coordinator. Zero intervals fall back to
// defaults.
type Options struct {
	Static    Source // required
	Trips     Source // optional
	Alerts    Source // optional
	IndexOpts gtfs.IndexOptions

	StaticInterval   time.Duration
	RealtimeInterval time.Duration
	// MaxBackoff caps the exponential backoff applied after consecutive
	// realtime fetch failures.
	MaxBackoff time.Duration
	// Retention is how long trip updates survive without being renewed
	// before the overlay prunes them.
	Retention time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.StaticInterval <= 0 {
		o.StaticInterval = 24 * time.Hour
	}
	if o.RealtimeInterval <= 0 {
		o.RealtimeInterval = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 10 * time.Minute
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop()
	}
	return o
}

// Status is a point-in-time view of feed health.
type Status struct {
	StaticVersion  string
	LastStaticLoad time.Time
	RealtimeAge    time.Duration
	RealtimeTrips  int
	LastError      string
	State          string
}

// Coordinator runs the refresh loops and publishes snapshots. The
// schedule index swaps atomically; readers holding the old index finish
// against it undisturbed.
type Coordinator struct {
	opts    Options
	log     zerolog.Logger
	met     *metrics.Metrics
	overlay *gtfsrt.Overlay

	idx atomic.Pointer[gtfs.ScheduleIndex]
	seq atomic.Uint64

	mu             sync.Mutex
	state          string
	staticVersion  string
	lastStaticLoad time.Time
	lastErr        string
}

func NewCoordinator(opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		opts:    opts,
		log:     opts.Logger,
		met:     opts.Metrics,
		overlay: gtfsrt.NewOverlay(),
		state:   "idle",
	}
}

// Index returns the active schedule index, nil before the first
// successful static load.
func (c *Coordinator) Index() *gtfs.ScheduleIndex { return c.idx.Load() }

// Snapshot returns the current realtime view. Never nil.
func (c *Coordinator) Snapshot() *gtfsrt.Snapshot { return c.overlay.Snapshot() }

// Status reports feed health for the refreshStatus surface.
func (c *Coordinator) Status(now time.Time) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.overlay.Snapshot()
	return Status{
		StaticVersion:  c.staticVersion,
		LastStaticLoad: c.lastStaticLoad,
		RealtimeAge:    snap.Age(now),
		RealtimeTrips:  snap.TripCount(),
		LastError:      c.lastErr,
		State:          c.state,
	}
}

func (c *Coordinator) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) setError(err error) {
	c.mu.Lock()
	if err != nil {
		c.lastErr = err.Error()
	} else {
		c.lastErr = ""
	}
	c.mu.Unlock()
}

// RefreshStatic runs one static cycle: fetch, parse, validate, swap. A
// failure at any stage leaves the previous index in service.
func (c *Coordinator) RefreshStatic(ctx context.Context) error {
	c.setState("fetching")
	c.met.FeedFetches.WithLabelValues("static").Inc()
	raw, err := c.opts.Static.Fetch(ctx)
	if err != nil {
		c.met.FeedFetchErrors.WithLabelValues("static").Inc()
		ferr := &FetchError{Feed: "static", Err: err}
		c.setError(ferr)
		c.setState("idle")
		c.log.Error().Err(err).Msg("static feed fetch failed, keeping previous snapshot")
		return ferr
	}

	c.setState("validating")
	feed, err := gtfs.ParseFeed(raw)
	if err != nil {
		c.met.FeedRejections.Inc()
		c.setError(err)
		c.setState("idle")
		c.log.Error().Err(err).Msg("static feed rejected, keeping previous snapshot")
		return err
	}
	version := feedVersion(raw)
	idx, err := gtfs.BuildIndex(feed, version, c.opts.IndexOpts)
	if err != nil {
		c.met.FeedRejections.Inc()
		c.setError(err)
		c.setState("idle")
		c.log.Error().Err(err).Msg("static feed failed validation, keeping previous snapshot")
		return err
	}

	c.idx.Store(idx)
	c.met.FeedSwaps.Inc()
	c.met.StaticTrips.Set(float64(idx.TripCount()))
	now := time.Now()
	c.mu.Lock()
	c.staticVersion = version
	c.lastStaticLoad = now
	c.lastErr = ""
	c.state = "swapped"
	c.mu.Unlock()
	c.log.Info().
		Str("version", version).
		Int("trips", idx.TripCount()).
		Int("stops", idx.StopCount()).
		Msg("static schedule swapped in")
	return nil
}

// RefreshRealtime runs one realtime cycle: fetch and apply trip updates
// and alerts, then publish a pruned snapshot.
func (c *Coordinator) RefreshRealtime(ctx context.Context) error {
	seq := c.seq.Add(1)
	fetchedAt := time.Now()
	var firstErr error

	if c.opts.Trips != nil {
		c.met.FeedFetches.WithLabelValues("trip_updates").Inc()
		raw, err := c.opts.Trips.Fetch(ctx)
		if err != nil {
			c.met.FeedFetchErrors.WithLabelValues("trip_updates").Inc()
			firstErr = &FetchError{Feed: "trip_updates", Err: err}
		} else {
			updates, ts, err := gtfsrt.DecodeTripUpdates(raw, seq, fetchedAt)
			if err != nil {
				firstErr = err
			} else {
				for _, u := range updates {
					c.overlay.Apply(u)
				}
				if !ts.IsZero() {
					c.overlay.SetFeedTimestamp(ts)
				}
			}
		}
	}

	if c.opts.Alerts != nil {
		c.met.FeedFetches.WithLabelValues("alerts").Inc()
		raw, err := c.opts.Alerts.Fetch(ctx)
		if err != nil {
			c.met.FeedFetchErrors.WithLabelValues("alerts").Inc()
			if firstErr == nil {
				firstErr = &FetchError{Feed: "alerts", Err: err}
			}
		} else {
			alerts, ts, err := gtfsrt.DecodeAlerts(raw, seq)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				c.overlay.ApplyAlerts(alerts, seq)
				if !ts.IsZero() {
					c.overlay.SetFeedTimestamp(ts)
				}
			}
		}
	}

	now := time.Now()
	c.overlay.Publish(now, now.Add(-c.opts.Retention))
	snap := c.overlay.Snapshot()
	if age := snap.Age(now); age < time.Duration(1<<62-1) {
		c.met.RealtimeAge.Set(age.Seconds())
	}
	c.met.RealtimeTrips.Set(float64(snap.TripCount()))

	c.setError(firstErr)
	if firstErr != nil {
		c.log.Warn().Err(firstErr).Msg("realtime refresh degraded, schedule-only answers will age")
	}
	return firstErr
}

// Run drives both refresh loops until ctx is done. The realtime loop
// backs off exponentially on consecutive failures and resets on the
// first success.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.RefreshStatic(ctx); err != nil {
		if c.idx.Load() == nil {
			return fmt.Errorf("initial static load: %w", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.opts.StaticInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.RefreshStatic(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		interval := c.opts.RealtimeInterval
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if err := c.RefreshRealtime(ctx); err != nil {
				interval *= 2
				if interval > c.opts.MaxBackoff {
					interval = c.opts.MaxBackoff
				}
			} else {
				interval = c.opts.RealtimeInterval
			}
			timer.Reset(interval)
		}
	}()

	wg.Wait()
	return ctx.Err()
}

// feedVersion derives a stable version tag from the raw feed bytes.
func feedVersion(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:6])
}
