// internal/workers/support/generate-reply/config.go
package generatereply

import (
	"time"

	"support-reply-workers/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
	AuditEnabled  bool
}

// LoadConfig returns the defaults. Two rewrite attempts plus the case load must fit in
// Timeout.
func LoadConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       45 * time.Second,
	}
}

// ConfigFromApp overlays the workers.generate-reply section and the audit switch.
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
	cfg.AuditEnabled = app.Audit.Enabled
	return cfg
}
