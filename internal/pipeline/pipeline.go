// Package pipeline runs one case through detection, composition, rewrite, validation and
// update determination.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/composer"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/humanizer"
	"support-reply-workers/internal/pipeline/updates"
	"support-reply-workers/internal/pipeline/validator"
)

// Reply outcomes, as recorded in metrics.
const (
	OutcomeAutoSend    = "auto_send"
	OutcomeNeedsReview = "needs_review"
)

// Output is everything the caller needs to persist updates and send or withhold the draft.
type Output struct {
	CaseID            string            `json:"caseId"`
	Body              string            `json:"body"`
	ContentType       string            `json:"contentType"`
	Validation        validator.Report  `json:"validation"`
	UpdatePlan        updates.Plan      `json:"updatePlan"`
	PrimaryState      string            `json:"primaryState"`
	States            []detector.State  `json:"states"`
	Master            string            `json:"master"`
	MissingPartials   []string          `json:"missingPartials,omitempty"`
	DeterministicBody string            `json:"deterministicBody"`
	WasRewritten      bool              `json:"wasRewritten"`
	RewriteAttempts   int               `json:"rewriteAttempts"`
	RewriteIssues     []humanizer.Issue `json:"rewriteIssues,omitempty"`
	NeedsReview       bool              `json:"needsReview"`
}

// Outcome is OutcomeNeedsReview when validation failed.
func (o *Output) Outcome() string {
	if o.NeedsReview {
		return OutcomeNeedsReview
	}
	return OutcomeAutoSend
}

// Components are the stages. Humanizer may be nil (no rewrite); Observability may be nil.
type Components struct {
	Detector      *detector.Detector
	Composer      *composer.Composer
	Humanizer     *humanizer.Humanizer
	Validator     *validator.Validator
	Updates       *updates.Determiner
	Observability *observability.Observability
}

type Pipeline struct {
	c      Components
	logger logger.Logger
}

func New(c Components, log logger.Logger) (*Pipeline, error) {
	if c.Detector == nil || c.Composer == nil || c.Validator == nil || c.Updates == nil {
		return nil, errors.New("pipeline: detector, composer, validator and updates are required")
	}
	return &Pipeline{c: c, logger: log.With(map[string]interface{}{"component": "pipeline"})}, nil
}

// ProcessSnapshot validates the raw snapshot and processes it.
func (p *Pipeline) ProcessSnapshot(ctx context.Context, snap casecontext.Snapshot, intent casecontext.Intent) (*Output, error) {
	cc, err := casecontext.New(snap)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, cc, intent)
}

// Process runs every stage for one case. Only a malformed context is an error; rewrite
// failures and validation failures are reported in the Output.
func (p *Pipeline) Process(ctx context.Context, cc *casecontext.Context, intent casecontext.Intent) (*Output, error) {
	obs := p.c.Observability

	_, done := obs.StartStage(ctx, "detect")
	set, err := p.c.Detector.Detect(cc, intent)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("detect states: %w", err)
	}

	caseID := cc.CaseID()
	log := p.logger.With(map[string]interface{}{"caseId": caseID, "primaryState": string(set.Primary)})
	for _, st := range set.States {
		metrics.StatesDetected.WithLabelValues(string(st.ID), st.Tier.String()).Inc()
	}

	_, done = obs.StartStage(ctx, "compose", attribute.String("primary_state", string(set.Primary)))
	comp := p.c.Composer.Render(set, intent)
	done(nil)

	conv := cc.Conversation()
	out := &Output{
		CaseID:            caseID,
		ContentType:       comp.ContentType,
		PrimaryState:      string(set.Primary),
		States:            set.States,
		Master:            comp.Master,
		MissingPartials:   comp.MissingPartials,
		DeterministicBody: comp.Body,
		Body:              comp.Body,
	}

	if p.c.Humanizer.Enabled() {
		hctx, done := obs.StartStage(ctx, "humanize")
		hr := p.c.Humanizer.Humanize(hctx, comp.Body, conv, 0)
		done(nil)
		out.Body = hr.Text
		out.WasRewritten = hr.WasRewritten
		out.RewriteAttempts = hr.Attempts
		out.RewriteIssues = hr.Issues
	}

	_, done = obs.StartStage(ctx, "validate")
	gt := p.c.Validator.GroundTruth(cc, set)
	report := validator.Validate(out.Body, gt)
	if out.WasRewritten && !report.Valid {
		if fallback := validator.Validate(comp.Body, gt); fallback.Valid {
			out.RewriteIssues = append(out.RewriteIssues, humanizer.Issue{
				Attempt: out.RewriteAttempts,
				Kind:    humanizer.IssueFailedValidation,
				Detail:  strings.Join(report.Kinds(), ", "),
			})
			log.Warn("rewrite failed validation, using deterministic body", map[string]interface{}{"kinds": report.Kinds()})
			out.Body = comp.Body
			out.WasRewritten = false
			report = fallback
		}
	}
	done(nil)
	out.Validation = report
	out.NeedsReview = !report.Valid
	for _, d := range report.All() {
		metrics.ValidationDiagnostics.WithLabelValues(d.Kind, string(d.Severity)).Inc()
	}

	_, done = obs.StartStage(ctx, "updates")
	out.UpdatePlan = p.c.Updates.Determine(set, conv)
	done(nil)

	metrics.RepliesProcessed.WithLabelValues(out.PrimaryState, out.Outcome()).Inc()
	log.Info("reply processed", map[string]interface{}{
		"outcome":      out.Outcome(),
		"wasRewritten": out.WasRewritten,
		"errors":       len(report.Errors),
		"warnings":     len(report.Warnings),
		"applied":      len(out.UpdatePlan.Applied),
		"blocked":      len(out.UpdatePlan.Blocked),
	})
	return out, nil
}
