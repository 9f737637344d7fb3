package config

import (
	"time"

	"github.com/spf13/viper"
)

// Settings are the runtime knobs that are not worth a CLI flag. Every value
// has a default and can be overridden through SHOPSYNC_* environment
// variables, e.g. SHOPSYNC_PAGE_LIMIT=500.
type Settings struct {
	// RequestTimeout bounds every single API request.
	RequestTimeout time.Duration

	// PageLimit is the page size used for export fetches. The server caps
	// it at MaxPageLimit.
	PageLimit int

	// BatchSize is the number of records per bulk sync request on import.
	BatchSize int

	// BackoffBase and BackoffCap parameterize retry backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// LogLevel for the console handler.
	LogLevel string
}

// MaxPageLimit is the largest page size the API server accepts.
const MaxPageLimit = 500

// LoadSettings resolves settings from defaults and environment.
func LoadSettings() Settings {
	v := viper.New()
	v.SetEnvPrefix("SHOPSYNC")
	v.AutomaticEnv()

	v.SetDefault("request_timeout", "60s")
	v.SetDefault("page_limit", 250)
	v.SetDefault("batch_size", 100)
	v.SetDefault("backoff_base", "200ms")
	v.SetDefault("backoff_cap", "5s")
	v.SetDefault("log_level", "info")

	s := Settings{
		RequestTimeout: v.GetDuration("request_timeout"),
		PageLimit:      v.GetInt("page_limit"),
		BatchSize:      v.GetInt("batch_size"),
		BackoffBase:    v.GetDuration("backoff_base"),
		BackoffCap:     v.GetDuration("backoff_cap"),
		LogLevel:       v.GetString("log_level"),
	}

	if s.PageLimit <= 0 || s.PageLimit > MaxPageLimit {
		s.PageLimit = MaxPageLimit
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	return s
}
