package config

// ServerConfig contains the HTTP server configuration.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0"`
}

// StaticFeedConfig points at the GTFS static feed. URL may also be a
// local file path for development.
type StaticFeedConfig struct {
	URL             string `yaml:"url" validate:"omitempty"`
	RefreshHours    int    `yaml:"refreshHours" validate:"gte=0"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds" validate:"gte=0"`
	TransferRadiusM int    `yaml:"transferRadiusM" validate:"gte=0"`
}

// RealtimeFeedConfig points at the GTFS-realtime feeds.
type RealtimeFeedConfig struct {
	TripUpdatesURL   string `yaml:"tripUpdatesURL" validate:"omitempty"`
	ServiceAlertsURL string `yaml:"serviceAlertsURL" validate:"omitempty"`
	IntervalSeconds  int    `yaml:"intervalSeconds" validate:"gte=0"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds" validate:"gte=0"`
	// MaxBackoffSeconds caps the retry backoff after repeated fetch
	// failures.
	MaxBackoffSeconds int `yaml:"maxBackoffSeconds" validate:"gte=0"`
	StalenessSeconds  int `yaml:"stalenessSeconds" validate:"gte=0"`
}

// QueryConfig carries the query-side policy knobs.
type QueryConfig struct {
	DefaultHorizonMinutes int `yaml:"defaultHorizonMinutes" validate:"gte=0"`
	MaxHorizonMinutes     int `yaml:"maxHorizonMinutes" validate:"gte=0"`
	MaxTransfers          int `yaml:"maxTransfers" validate:"gte=0"`
	MinTransferMinutes    int `yaml:"minTransferMinutes" validate:"gte=0"`
	WindowMinutes         int `yaml:"windowMinutes" validate:"gte=0"`
	MaxItineraries        int `yaml:"maxItineraries" validate:"gte=0"`
}

// LogConfig controls log output and rotation.
type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" validate:"gte=0"`
	MaxBackups int    `yaml:"maxBackups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"maxAgeDays" validate:"gte=0"`
	Console    bool   `yaml:"console"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Static   StaticFeedConfig   `yaml:"static"`
	Realtime RealtimeFeedConfig `yaml:"realtime"`
	Query    QueryConfig        `yaml:"query"`
	Log      LogConfig          `yaml:"log"`
}
