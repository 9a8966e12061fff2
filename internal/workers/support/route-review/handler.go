// internal/workers/support/route-review/handler.go
package routereview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"support-reply-workers/internal/common/errors"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/common/validation"
	"support-reply-workers/internal/review"
)

const TaskType = "route-review"

var schema = validation.NewSchema(inputSchema)

type ReviewQueue interface {
	Enqueue(ctx context.Context, item review.Item) (review.Item, error)
}

type ReviewNotifier interface {
	Notify(ctx context.Context, item review.Item) (string, error)
}

// Dependencies of the handler. Notifier and Observability may be nil.
type Dependencies struct {
	Queue         ReviewQueue
	Notifier      ReviewNotifier
	Observability *observability.Observability
}

type Handler struct {
	config       *Config
	deps         Dependencies
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		deps:         deps,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}

	h.completeJob(ctx, client, job, output, start)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse job variables: %v", err))
	}
	if res := validation.ValidateInput(variables, schema); !res.Valid {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("validation errors: %v", res.GetErrorMessages()))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("decode job variables: %v", err))
	}
	return &input, nil
}

// execute queues drafts that failed validation. Valid drafts pass through untouched.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if !input.Reply.NeedsReview {
		return &Output{ReviewQueued: false}, nil
	}

	item, err := h.deps.Queue.Enqueue(ctx, review.Item{
		CaseID:            input.CaseID,
		PrimaryState:      input.Reply.PrimaryState,
		Body:              input.Reply.Body,
		DeterministicBody: input.Reply.DeterministicBody,
		ContentType:       input.Reply.ContentType,
		Diagnostics:       input.Reply.Validation.All(),
		BlockedUpdates:    input.Reply.UpdatePlan.Blocked,
	})
	if err != nil {
		return nil, errors.NewReviewEnqueueFailedError(input.CaseID, err)
	}

	out := &Output{ReviewQueued: true, ReviewID: item.ID}
	if h.deps.Notifier != nil {
		id, err := h.deps.Notifier.Notify(ctx, item)
		if err != nil {
			h.logger.Warn("review alert not sent", map[string]interface{}{
				"caseId":   input.CaseID,
				"reviewId": item.ID,
				"error":    err.Error(),
			})
		}
		out.NotificationID = id
	}
	return out, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output, start time.Time) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		h.failJob(ctx, client, job, err, start)
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.deps.Observability.RecordJobProcessed(ctx, TaskType, "completed")
	h.deps.Observability.RecordJobDuration(ctx, TaskType, time.Since(start), "completed")
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	stdErr := errors.AsStandardError(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.deps.Observability.RecordJobProcessed(ctx, TaskType, "failed")
	h.deps.Observability.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
