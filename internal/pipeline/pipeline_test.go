package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-reply-workers/internal/common/config"
	"support-reply-workers/internal/common/genai"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/composer"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/humanizer"
	"support-reply-workers/internal/pipeline/tmpl"
	"support-reply-workers/internal/pipeline/updates"
	"support-reply-workers/internal/pipeline/validator"
)

// ==========================
// Test Helpers
// ==========================

var testNow = time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)

type completerFunc func(ctx context.Context, req genai.CompletionRequest) (*genai.CompletionResponse, error)

func (f completerFunc) Complete(ctx context.Context, req genai.CompletionRequest) (*genai.CompletionResponse, error) {
	return f(ctx, req)
}

func createTestPipeline(t *testing.T, completer humanizer.Completer) *Pipeline {
	t.Helper()
	log := logger.NewTestLogger(t)
	cache := tmpl.NewCache()
	reg, err := composer.LoadDir("../../templates", cache)
	require.NoError(t, err)
	comp, err := composer.New(reg, cache, log)
	require.NoError(t, err)

	detCfg := detector.DefaultConfig()
	detCfg.Now = func() time.Time { return testNow }

	p, err := New(Components{
		Detector:      detector.New(detCfg),
		Composer:      comp,
		Humanizer:     humanizer.New(completer, humanizer.Config{Enabled: completer != nil, MaxAttempts: 2, Timeout: time.Second}, log),
		Validator:     validator.New(validator.Config{}),
		Updates:       updates.New(updates.Config{}, log),
		Observability: observability.NewNoop(),
	}, log)
	require.NoError(t, err)
	return p
}

func deadlineMissedSnapshot() casecontext.Snapshot {
	return casecontext.Snapshot{
		Record: map[string]interface{}{
			"caseId":               "C-1",
			"contactName":          "Marie",
			"status":               "pending",
			"examDate":             "2026-02-27",
			"registrationDeadline": "2026-02-20",
			"alternativeSessions": []map[string]interface{}{
				{"id": "S-1", "date": "2026-03-31", "regionCode": "FR-75", "timeRange": "09:00-12:00"},
				{"id": "S-2", "date": "2026-04-28"},
			},
		},
		Conversation: []casecontext.Message{
			{Direction: casecontext.Inbound, Body: "Can I change the date of my exam?", Timestamp: testNow},
		},
	}
}

func lockedSnapshot() casecontext.Snapshot {
	return casecontext.Snapshot{
		Record: map[string]interface{}{
			"caseId":               "C-2",
			"contactName":          "Paul",
			"status":               "validated",
			"examDate":             "2026-03-10",
			"registrationDeadline": "2026-02-20",
		},
		Conversation: []casecontext.Message{
			{Direction: casecontext.Outbound, Body: "Your registration is validated.", Timestamp: testNow.Add(-48 * time.Hour)},
			{Direction: casecontext.Inbound, Body: "I need to change my exam date, I am sick.", Timestamp: testNow},
		},
	}
}

var dateChangeIntent = casecontext.Intent{Primary: "date_change_request"}

const deadlineMissedBody = "Hello Marie,\n\n" +
	"Thank you for your message about changing your exam date.\n\n" +
	"The registration deadline for your session (2026-02-20) has passed, so we cannot keep that exam date.\n" +
	"We can offer you the following sessions instead:\n" +
	"- Option 1: 2026-03-31, 09:00-12:00 (FR-75)\n" +
	"- Option 2: 2026-04-28\n" +
	"Please reply with the option number that suits you and we will check availability before confirming.\n\n" +
	"We are still waiting for the exam centre to confirm your registration status.\n\n" +
	"Kind regards,\nThe registration support team"

// ==========================
// End-to-end
// ==========================

func TestProcess_DeadlineMissedProposal(t *testing.T) {
	p := createTestPipeline(t, nil)

	out, err := p.ProcessSnapshot(context.Background(), deadlineMissedSnapshot(), dateChangeIntent)
	require.NoError(t, err)

	assert.Equal(t, string(detector.DeadlineMissed), out.PrimaryState)
	assert.Equal(t, "deadline_missed", out.Master)
	assert.Equal(t, deadlineMissedBody, out.Body)
	assert.Equal(t, out.DeterministicBody, out.Body)
	assert.Equal(t, composer.ContentTypeText, out.ContentType)
	assert.True(t, out.Validation.Valid, out.Validation.Errors)
	assert.False(t, out.NeedsReview)
	assert.False(t, out.WasRewritten)
	assert.Equal(t, OutcomeAutoSend, out.Outcome())
	assert.Equal(t, map[string]interface{}{updates.FieldDateChangeRequested: true}, out.UpdatePlan.Applied)
}

func TestProcess_Deterministic(t *testing.T) {
	p := createTestPipeline(t, nil)

	first, err := p.ProcessSnapshot(context.Background(), deadlineMissedSnapshot(), dateChangeIntent)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.ProcessSnapshot(context.Background(), deadlineMissedSnapshot(), dateChangeIntent)
		require.NoError(t, err)
		assert.Equal(t, first.Body, again.Body)
	}
}

func TestProcess_LockedRegistrationBlocksUpdate(t *testing.T) {
	p := createTestPipeline(t, nil)

	out, err := p.ProcessSnapshot(context.Background(), lockedSnapshot(), casecontext.Intent{})
	require.NoError(t, err)

	assert.Equal(t, string(detector.RegistrationLocked), out.PrimaryState)
	assert.Equal(t, "registration_locked", out.Master)
	assert.Contains(t, out.Body, "2026-02-20")
	assert.Contains(t, out.Body, "2026-03-10")
	assert.True(t, out.Validation.Valid, out.Validation.Errors)

	assert.NotContains(t, out.UpdatePlan.Applied, "examDate")
	assert.Contains(t, out.UpdatePlan.Blocked, "examDate")
}

// ==========================
// Rewrite handling
// ==========================

func TestProcess_AcceptsValidRewrite(t *testing.T) {
	rewrite := "Hello Marie,\n\nThanks for your message. Your deadline (2026-02-20) has passed, but two sessions are open: " +
		"option 1 on 2026-03-31 (09:00-12:00, FR-75) or option 2 on 2026-04-28. Which one would you like?\n\nKind regards"
	p := createTestPipeline(t, completerFunc(func(context.Context, genai.CompletionRequest) (*genai.CompletionResponse, error) {
		return &genai.CompletionResponse{Content: rewrite}, nil
	}))

	out, err := p.ProcessSnapshot(context.Background(), deadlineMissedSnapshot(), dateChangeIntent)
	require.NoError(t, err)

	assert.True(t, out.WasRewritten)
	assert.Equal(t, rewrite, out.Body)
	assert.Equal(t, deadlineMissedBody, out.DeterministicBody)
	assert.True(t, out.Validation.Valid)
}

func TestProcess_InvalidRewriteFallsBackToDeterministicBody(t *testing.T) {
	p := createTestPipeline(t, completerFunc(func(_ context.Context, req genai.CompletionRequest) (*genai.CompletionResponse, error) {
		return &genai.CompletionResponse{Content: deadlineMissedBody + "\nA late fee of 35€ applies."}, nil
	}))

	out, err := p.ProcessSnapshot(context.Background(), deadlineMissedSnapshot(), dateChangeIntent)
	require.NoError(t, err)

	assert.False(t, out.WasRewritten)
	assert.Equal(t, deadlineMissedBody, out.Body)
	assert.True(t, out.Validation.Valid)
	assert.False(t, out.NeedsReview)
	require.NotEmpty(t, out.RewriteIssues)
	last := out.RewriteIssues[len(out.RewriteIssues)-1]
	assert.Equal(t, humanizer.IssueFailedValidation, last.Kind)
	assert.Contains(t, last.Detail, validator.KindUnallowedAmount)
}

func TestProcess_ServiceDownStillReplies(t *testing.T) {
	p := createTestPipeline(t, completerFunc(func(context.Context, genai.CompletionRequest) (*genai.CompletionResponse, error) {
		return nil, genai.ErrUnavailable
	}))

	out, err := p.ProcessSnapshot(context.Background(), deadlineMissedSnapshot(), dateChangeIntent)
	require.NoError(t, err)

	assert.False(t, out.WasRewritten)
	assert.Equal(t, 2, out.RewriteAttempts)
	assert.Equal(t, deadlineMissedBody, out.Body)
}

// ==========================
// Preconditions
// ==========================

func TestProcess_MalformedContext(t *testing.T) {
	p := createTestPipeline(t, nil)

	snap := deadlineMissedSnapshot()
	delete(snap.Record, "contactName")
	_, err := p.ProcessSnapshot(context.Background(), snap, casecontext.Intent{})
	assert.True(t, errors.Is(err, casecontext.ErrMalformedContext))

	_, err = p.Process(context.Background(), nil, casecontext.Intent{})
	assert.True(t, errors.Is(err, casecontext.ErrMalformedContext))
}

func TestProcess_MalformedContextKeepsCause(t *testing.T) {
	p := createTestPipeline(t, nil)

	snap := deadlineMissedSnapshot()
	delete(snap.Record, "status")
	_, err := p.ProcessSnapshot(context.Background(), snap, casecontext.Intent{})

	require.Error(t, err)
	assert.ErrorIs(t, err, casecontext.ErrMalformedContext)
	assert.Contains(t, err.Error(), "status")
	assert.Equal(t, 1, strings.Count(err.Error(), casecontext.ErrMalformedContext.Error()), "sentinel is wrapped once")
}

func TestNew_RequiresStages(t *testing.T) {
	_, err := New(Components{}, logger.NewNoOpLogger())
	assert.Error(t, err)
}

func TestBuild_FromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.TemplateDir = "../../templates"
	cfg.Pipeline.Humanizer.Enabled = true // no completer: stays disabled

	p, err := Build(cfg, nil, nil, logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := p.ProcessSnapshot(context.Background(), lockedSnapshot(), casecontext.Intent{})
	require.NoError(t, err)
	assert.False(t, out.WasRewritten)
	assert.NotEmpty(t, out.Body)

	cfg.Pipeline.TemplateDir = "./does-not-exist"
	_, err = Build(cfg, nil, nil, logger.NewNoOpLogger())
	assert.ErrorIs(t, err, composer.ErrTemplateLoad)
}
