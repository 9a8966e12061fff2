// Package humanizer asks a generative-text service to rewrite a deterministic reply for tone,
// accepting the rewrite only when every fact-bearing literal survives verbatim.
package humanizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support-reply-workers/internal/common/genai"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/literals"
)

const (
	DefaultMaxAttempts = 2
	maxHistory         = 6
)

// Issue kinds.
const (
	IssueServiceError    = "service_error"
	IssueTimeout         = "timeout"
	IssueFactCheckFailed = "fact_check_failed"
)

// IssueFailedValidation is recorded by callers that discard an accepted rewrite.
const IssueFailedValidation = "failed_validation"

// Completer is the generative-text call. *genai.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req genai.CompletionRequest) (*genai.CompletionResponse, error)
}

type Config struct {
	Enabled     bool
	MaxAttempts int
	Timeout     time.Duration // per attempt
}

// Issue records why one attempt was rejected.
type Issue struct {
	Attempt    int      `json:"attempt"`
	Kind       string   `json:"kind"`
	Detail     string   `json:"detail"`
	Missing    []string `json:"missing,omitempty"`
	Introduced []string `json:"introduced,omitempty"`
}

// Result is the humanizer outcome. When WasRewritten is false, Text is the deterministic
// body unchanged.
type Result struct {
	Text         string  `json:"text"`
	WasRewritten bool    `json:"wasRewritten"`
	Attempts     int     `json:"attempts"`
	Issues       []Issue `json:"issues,omitempty"`
}

type Humanizer struct {
	client Completer
	cfg    Config
	logger logger.Logger
}

func New(client Completer, cfg Config, log logger.Logger) *Humanizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Humanizer{
		client: client,
		cfg:    cfg,
		logger: log.With(map[string]interface{}{"component": "humanizer"}),
	}
}

// Enabled reports whether Humanize will call the service at all.
func (h *Humanizer) Enabled() bool {
	return h != nil && h.cfg.Enabled && h.client != nil
}

// Humanize rewrites body at most maxAttempts times (clamped to [1, 2]; 0 uses the configured
// value). It never returns an error: service failures and rejected rewrites fall back to body.
func (h *Humanizer) Humanize(ctx context.Context, body string, conv casecontext.Conversation, maxAttempts int) Result {
	if !h.Enabled() || strings.TrimSpace(body) == "" {
		return Result{Text: body}
	}
	if maxAttempts == 0 {
		maxAttempts = h.cfg.MaxAttempts
	}
	maxAttempts = clampAttempts(maxAttempts)

	var (
		issues []Issue
		last   literals.Preservation
	)
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		attempts = attempt

		text, err := h.call(ctx, buildRequest(body, conv, last))
		if err != nil {
			kind := IssueServiceError
			if errors.Is(err, genai.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				kind = IssueTimeout
			}
			metrics.HumanizerAttempts.WithLabelValues(kind).Inc()
			issues = append(issues, Issue{Attempt: attempt, Kind: kind, Detail: err.Error()})
			h.logger.Warn("rewrite attempt failed", map[string]interface{}{"attempt": attempt, "kind": kind, "error": err.Error()})
			continue
		}

		last = literals.CheckPreservation(body, text)
		if !last.OK() {
			metrics.HumanizerAttempts.WithLabelValues(IssueFactCheckFailed).Inc()
			issues = append(issues, Issue{
				Attempt:    attempt,
				Kind:       IssueFactCheckFailed,
				Detail:     describe(last),
				Missing:    last.Missing,
				Introduced: last.Introduced,
			})
			h.logger.Warn("rewrite rejected by fact check", map[string]interface{}{
				"attempt":    attempt,
				"missing":    last.Missing,
				"introduced": last.Introduced,
			})
			continue
		}

		metrics.HumanizerAttempts.WithLabelValues("accepted").Inc()
		return Result{Text: text, WasRewritten: true, Attempts: attempt, Issues: issues}
	}

	metrics.HumanizerFallbacks.Inc()
	h.logger.Info("falling back to deterministic body", map[string]interface{}{"attempts": attempts, "issues": len(issues)})
	return Result{Text: body, Attempts: attempts, Issues: issues}
}

func (h *Humanizer) call(ctx context.Context, req genai.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := h.client.Complete(ctx, req)
	metrics.HumanizerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", genai.ErrEmptyCompletion
	}
	return text, nil
}

func clampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > DefaultMaxAttempts {
		return DefaultMaxAttempts
	}
	return n
}

func describe(p literals.Preservation) string {
	var parts []string
	if len(p.Missing) > 0 {
		parts = append(parts, "dropped "+strings.Join(p.Missing, ", "))
	}
	if len(p.Introduced) > 0 {
		parts = append(parts, "introduced "+strings.Join(p.Introduced, ", "))
	}
	return strings.Join(parts, "; ")
}

// ==========================
// Prompt
// ==========================

const systemPrompt = `You rewrite customer-support replies about exam registrations so they read naturally.
Rules:
- You may reorder or merge paragraphs and answer a clearly asked question first.
- Keep every date, amount, identifier, region code and time range exactly as written. Do not add any new ones.
- If the reply proposes options and asks the customer to confirm, keep it a proposal. Never state that a choice has been recorded or confirmed.
- Do not add instructions, promises or facts that are not in the reply.
- Keep the greeting and the signature. Answer with the rewritten reply only.`

// buildRequest builds one attempt. prev is the fact check of the previous attempt; on a retry
// its missing and introduced literals are spelled out.
func buildRequest(body string, conv casecontext.Conversation, prev literals.Preservation) genai.CompletionRequest {
	var user strings.Builder
	if history := historyExcerpt(conv); history != "" {
		user.WriteString("Conversation so far:\n")
		user.WriteString(history)
		user.WriteString("\n\n")
	}
	user.WriteString("Reply to rewrite:\n")
	user.WriteString(body)

	if len(prev.Missing) > 0 || len(prev.Introduced) > 0 {
		user.WriteString("\n\nYour previous rewrite was rejected.")
		if len(prev.Missing) > 0 {
			fmt.Fprintf(&user, "\nIt dropped these literals. Each must appear exactly as written: %s.", strings.Join(prev.Missing, ", "))
		}
		if len(prev.Introduced) > 0 {
			fmt.Fprintf(&user, "\nIt added these literals, which must not appear: %s.", strings.Join(prev.Introduced, ", "))
		}
	}

	return genai.CompletionRequest{
		Messages: []genai.Message{
			{Role: genai.RoleSystem, Content: systemPrompt},
			{Role: genai.RoleUser, Content: user.String()},
		},
	}
}

func historyExcerpt(conv casecontext.Conversation) string {
	msgs := conv.Messages
	if len(msgs) > maxHistory {
		msgs = msgs[len(msgs)-maxHistory:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		who := "Customer"
		if m.Direction == casecontext.Outbound {
			who = "Support"
		}
		if b := strings.TrimSpace(m.Body); b != "" {
			lines = append(lines, who+": "+b)
		}
	}
	return strings.Join(lines, "\n")
}
