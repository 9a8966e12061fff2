package pipeline

import (
	"support-reply-workers/internal/common/config"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/pipeline/composer"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/humanizer"
	"support-reply-workers/internal/pipeline/tmpl"
	"support-reply-workers/internal/pipeline/updates"
	"support-reply-workers/internal/pipeline/validator"
)

// Build wires a pipeline from configuration. Template assets are loaded and compiled here,
// so a syntax error fails process start. completer may be nil when the humanizer is disabled.
func Build(cfg *config.Config, completer humanizer.Completer, obs *observability.Observability, log logger.Logger) (*Pipeline, error) {
	cache := tmpl.NewCache(tmpl.WithCompileHook(func(fingerprint string) {
		metrics.TemplateCompilations.Inc()
		log.Debug("template compiled", map[string]interface{}{"fingerprint": fingerprint[:12]})
	}))

	reg, err := composer.LoadDir(cfg.Pipeline.TemplateDir, cache)
	if err != nil {
		return nil, err
	}
	comp, err := composer.New(reg, cache, log)
	if err != nil {
		return nil, err
	}

	pc := cfg.Pipeline
	return New(Components{
		Detector: detector.New(detector.Config{
			DeadlineWarningDays: pc.Detector.DeadlineWarningDays,
			ValidatedStatuses:   pc.Detector.ValidatedStatuses,
		}),
		Composer: comp,
		Humanizer: humanizer.New(completer, humanizer.Config{
			Enabled:     pc.Humanizer.Enabled && completer != nil,
			MaxAttempts: pc.Humanizer.MaxAttempts,
			Timeout:     config.GetDuration(cfg.APIs.GenAI.Timeout),
		}, log),
		Validator: validator.New(validator.Config{
			DenyTerms:            pc.Validator.DenyTerms,
			AlwaysAllowedAmounts: pc.Validator.AlwaysAllowedAmounts,
		}),
		Updates:       updates.New(updates.Config{LockedFields: pc.Updates.LockedFields}, log),
		Observability: obs,
	}, log)
}
