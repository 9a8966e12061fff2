package routereview

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-reply-workers/internal/common/errors"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/pipeline"
	"support-reply-workers/internal/pipeline/updates"
	"support-reply-workers/internal/pipeline/validator"
	"support-reply-workers/internal/review"
)

// ==========================
// Mock Implementations
// ==========================

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, item review.Item) (review.Item, error) {
	args := m.Called(ctx, item)
	return args.Get(0).(review.Item), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, item review.Item) (string, error) {
	args := m.Called(ctx, item)
	return args.String(0), args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "support-reply",
		ElementId:          "Activity_RouteReview",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func createTestConfig() *Config {
	cfg := LoadConfig()
	cfg.Timeout = time.Second
	return cfg
}

func createTestInput(needsReview bool) *Input {
	return &Input{
		CaseID: "C-1",
		Reply: pipeline.Output{
			CaseID:            "C-1",
			Body:              "Hello Marie, the fee is 35€.",
			DeterministicBody: "Hello Marie, the fee is 20€.",
			ContentType:       "text",
			PrimaryState:      "promo_fee_available",
			Validation: validator.Report{
				Valid:    !needsReview,
				Errors:   []validator.Diagnostic{{Kind: validator.KindUnallowedAmount, Severity: validator.SeverityError, Literal: "35€"}},
				Warnings: []validator.Diagnostic{{Kind: validator.KindRepeatedMessage, Severity: validator.SeverityWarning}},
			},
			UpdatePlan:  updates.Plan{Blocked: map[string]string{"examDate": "examDate cannot be changed automatically: registration locked"}},
			NeedsReview: needsReview,
		},
	}
}

// ==========================
// Execute Tests
// ==========================

func TestHandler_Execute_QueuesAndNotifies(t *testing.T) {
	queue := new(MockQueue)
	notifier := new(MockNotifier)

	queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(item review.Item) bool {
		return item.CaseID == "C-1" &&
			item.Body == "Hello Marie, the fee is 35€." &&
			len(item.Diagnostics) == 2 &&
			item.Diagnostics[0].Kind == validator.KindUnallowedAmount &&
			item.BlockedUpdates["examDate"] != ""
	})).Return(review.Item{ID: "review-1", CaseID: "C-1"}, nil).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(item review.Item) bool {
		return item.ID == "review-1"
	})).Return("msg-1", nil).Once()

	h := NewHandler(createTestConfig(), Dependencies{Queue: queue, Notifier: notifier}, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), createTestInput(true))

	require.NoError(t, err)
	assert.True(t, out.ReviewQueued)
	assert.Equal(t, "review-1", out.ReviewID)
	assert.Equal(t, "msg-1", out.NotificationID)
	queue.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestHandler_Execute_ValidDraftPassesThrough(t *testing.T) {
	queue := new(MockQueue)

	h := NewHandler(createTestConfig(), Dependencies{Queue: queue}, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), createTestInput(false))

	require.NoError(t, err)
	assert.False(t, out.ReviewQueued)
	assert.Empty(t, out.ReviewID)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestHandler_Execute_NotifierFailureIsNotFatal(t *testing.T) {
	queue := new(MockQueue)
	notifier := new(MockNotifier)

	queue.On("Enqueue", mock.Anything, mock.Anything).Return(review.Item{ID: "review-2"}, nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return("", stderrors.New("throttled"))

	h := NewHandler(createTestConfig(), Dependencies{Queue: queue, Notifier: notifier}, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), createTestInput(true))

	require.NoError(t, err)
	assert.True(t, out.ReviewQueued)
	assert.Empty(t, out.NotificationID)
}

func TestHandler_Execute_WithoutNotifier(t *testing.T) {
	queue := new(MockQueue)
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(review.Item{ID: "review-3"}, nil)

	h := NewHandler(createTestConfig(), Dependencies{Queue: queue}, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), createTestInput(true))

	require.NoError(t, err)
	assert.Equal(t, "review-3", out.ReviewID)
}

func TestHandler_Execute_EnqueueFailureIsRetryable(t *testing.T) {
	queue := new(MockQueue)
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(review.Item{}, stderrors.New("connection refused"))

	h := NewHandler(createTestConfig(), Dependencies{Queue: queue}, logger.NewTestLogger(t))
	_, err := h.Execute(context.Background(), createTestInput(true))

	require.Error(t, err)
	stdErr := errors.AsStandardError(err)
	assert.Equal(t, errors.ErrCodeReviewEnqueueFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

// ==========================
// Input Parsing Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h := NewHandler(createTestConfig(), Dependencies{}, logger.NewTestLogger(t))

	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   bool
	}{
		{
			name: "generate-reply output",
			variables: map[string]interface{}{
				"caseId": "C-1",
				"reply":  map[string]interface{}{"body": "Hello", "needsReview": true, "validation": map[string]interface{}{"valid": false}},
			},
		},
		{name: "reply missing", variables: map[string]interface{}{"caseId": "C-1"}, wantErr: true},
		{name: "needsReview missing", variables: map[string]interface{}{"caseId": "C-1", "reply": map[string]interface{}{"body": "x"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := h.parseInput(createMockJob(7, tt.variables))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.AsStandardError(err).Code)
				return
			}
			require.NoError(t, err)
			assert.True(t, in.Reply.NeedsReview)
			assert.Equal(t, "Hello", in.Reply.Body)
		})
	}
}
