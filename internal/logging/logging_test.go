package logging

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/citytransit/transitq/config"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, c := range cases {
		log := New(config.LogConfig{Level: c.level})
		if got := log.GetLevel(); got != c.want {
			t.Errorf("level %q -> %v, want %v", c.level, got, c.want)
		}
	}
}
