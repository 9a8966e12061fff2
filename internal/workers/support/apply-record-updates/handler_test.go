package applyrecordupdates

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-reply-workers/internal/casestore"
	"support-reply-workers/internal/common/errors"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/pipeline/updates"
)

// ==========================
// Mock Implementations
// ==========================

type MockRecordWriter struct {
	mock.Mock
}

func (m *MockRecordWriter) ApplyUpdates(ctx context.Context, caseID string, plan updates.Plan) (*casestore.ApplyResult, error) {
	args := m.Called(ctx, caseID, plan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*casestore.ApplyResult), args.Error(1)
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
		ElementId:          "Activity_ApplyRecordUpdates",
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

func createTestInput(plan updates.Plan) *Input {
	in := &Input{CaseID: "C-1"}
	in.Reply.UpdatePlan = plan
	return in
}

// ==========================
// Execute Tests
// ==========================

func TestHandler_Execute_WithStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE support_cases`).
		WithArgs("C-1", `{"examDate":"2026-04-28","examSessionId":"S-2"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO case_notes`).
		WithArgs("C-1", "regionCode", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	log := logger.NewTestLogger(t)
	h := NewHandler(createTestConfig(), casestore.New(db, log), observability.NewNoop(), log)

	out, err := h.Execute(context.Background(), createTestInput(updates.Plan{
		Applied: map[string]interface{}{"examDate": "2026-04-28", "examSessionId": "S-2"},
		Blocked: map[string]string{"regionCode": "regionCode cannot be changed automatically: registration locked"},
	}))

	require.NoError(t, err)
	assert.True(t, out.RecordUpdated)
	assert.Equal(t, []string{"examDate", "examSessionId"}, out.AppliedFields)
	assert.Equal(t, []string{"regionCode"}, out.BlockedFields)
	assert.Equal(t, 1, out.NotesWritten)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_EmptyPlan(t *testing.T) {
	store := new(MockRecordWriter)
	store.On("ApplyUpdates", mock.Anything, "C-1", updates.Plan{}).
		Return(&casestore.ApplyResult{AppliedFields: []string{}, BlockedFields: []string{}}, nil)

	h := NewHandler(createTestConfig(), store, nil, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), createTestInput(updates.Plan{}))

	require.NoError(t, err)
	assert.False(t, out.RecordUpdated)
	assert.Zero(t, out.NotesWritten)
}

func TestHandler_Execute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{name: "case missing", err: fmt.Errorf("%w: C-1", casestore.ErrCaseNotFound), wantCode: errors.ErrCodeCaseNotFound},
		{name: "database error", err: stderrors.New("deadlock detected"), wantCode: errors.ErrCodeRecordUpdateFailed, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockRecordWriter)
			store.On("ApplyUpdates", mock.Anything, "C-1", mock.Anything).Return(nil, tt.err)

			h := NewHandler(createTestConfig(), store, nil, logger.NewTestLogger(t))
			_, err := h.Execute(context.Background(), createTestInput(updates.Plan{
				Applied: map[string]interface{}{"dateChangeRequested": true},
			}))

			require.Error(t, err)
			stdErr := errors.AsStandardError(err)
			assert.Equal(t, tt.wantCode, stdErr.Code)
			assert.Equal(t, tt.retryable, stdErr.Retryable)
		})
	}
}

// ==========================
// Input Parsing Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h := NewHandler(createTestConfig(), nil, nil, logger.NewTestLogger(t))

	t.Run("plan from generate-reply", func(t *testing.T) {
		in, err := h.parseInput(createMockJob(3, map[string]interface{}{
			"caseId": "C-1",
			"reply": map[string]interface{}{
				"body": "Hello",
				"updatePlan": map[string]interface{}{
					"applied": map[string]interface{}{"dateChangeRequested": true},
					"blocked": map[string]interface{}{},
				},
			},
		}))
		require.NoError(t, err)
		assert.Equal(t, true, in.Reply.UpdatePlan.Applied["dateChangeRequested"])
	})

	t.Run("null maps are accepted", func(t *testing.T) {
		_, err := h.parseInput(createMockJob(3, map[string]interface{}{
			"caseId": "C-1",
			"reply":  map[string]interface{}{"updatePlan": map[string]interface{}{"applied": nil, "blocked": nil}},
		}))
		require.NoError(t, err)
	})

	t.Run("blocked reasons must be strings", func(t *testing.T) {
		_, err := h.parseInput(createMockJob(3, map[string]interface{}{
			"caseId": "C-1",
			"reply":  map[string]interface{}{"updatePlan": map[string]interface{}{"blocked": map[string]interface{}{"examDate": 1}}},
		}))
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.AsStandardError(err).Code)
	})

	t.Run("plan missing", func(t *testing.T) {
		_, err := h.parseInput(createMockJob(3, map[string]interface{}{"caseId": "C-1", "reply": map[string]interface{}{}}))
		require.Error(t, err)
	})
}
