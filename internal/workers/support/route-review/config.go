// internal/workers/support/route-review/config.go
package routereview

import (
	"time"

	"support-reply-workers/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 10,
		Timeout:       10 * time.Second,
	}
}

func ConfigFromApp(app *config.Config) *Config {
	cfg := LoadConfig()
	if app == nil {
		return cfg
	}
	if wc, ok := app.Workers[TaskType]; ok {
		cfg.Enabled = wc.Enabled
		cfg.MaxJobsActive = wc.MaxJobsActive
		if wc.Timeout > 0 {
			cfg.Timeout = config.GetDuration(wc.Timeout)
		}
	}
	return cfg
}
