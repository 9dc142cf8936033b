package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the configuration. When path is empty the
// TRANSITQ_CONFIG environment variable and then config.yml are tried; a
// missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	paths := []string{path, os.Getenv("TRANSITQ_CONFIG"), "config.yml"}
	var data []byte
	for _, p := range paths {
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			break
		}
		if path != "" && p == path {
			return nil, err
		}
	}
	cfg := &AppConfig{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 16180
	}
	if cfg.Static.RefreshHours == 0 {
		cfg.Static.RefreshHours = 24
	}
	if cfg.Static.TimeoutSeconds == 0 {
		cfg.Static.TimeoutSeconds = 120
	}
	if cfg.Static.TransferRadiusM == 0 {
		cfg.Static.TransferRadiusM = 400
	}
	if cfg.Realtime.IntervalSeconds == 0 {
		cfg.Realtime.IntervalSeconds = 30
	}
	if cfg.Realtime.TimeoutSeconds == 0 {
		cfg.Realtime.TimeoutSeconds = 15
	}
	if cfg.Realtime.MaxBackoffSeconds == 0 {
		cfg.Realtime.MaxBackoffSeconds = 300
	}
	if cfg.Realtime.StalenessSeconds == 0 {
		cfg.Realtime.StalenessSeconds = 120
	}
	if cfg.Query.DefaultHorizonMinutes == 0 {
		cfg.Query.DefaultHorizonMinutes = 60
	}
	if cfg.Query.MaxHorizonMinutes == 0 {
		cfg.Query.MaxHorizonMinutes = 360
	}
	if cfg.Query.MaxTransfers == 0 {
		cfg.Query.MaxTransfers = 3
	}
	if cfg.Query.MinTransferMinutes == 0 {
		cfg.Query.MinTransferMinutes = 3
	}
	if cfg.Query.WindowMinutes == 0 {
		cfg.Query.WindowMinutes = 120
	}
	if cfg.Query.MaxItineraries == 0 {
		cfg.Query.MaxItineraries = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
