// internal/workers/support/generate-reply/handler.go
package generatereply

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"support-reply-workers/internal/audit"
	"support-reply-workers/internal/casestore"
	"support-reply-workers/internal/common/errors"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/common/validation"
	"support-reply-workers/internal/pipeline"
	"support-reply-workers/internal/pipeline/casecontext"
)

const TaskType = "generate-reply"

var schema = validation.NewSchema(inputSchema)

type CaseLoader interface {
	Load(ctx context.Context, caseID string) (casecontext.Snapshot, error)
}

type ReplyGenerator interface {
	ProcessSnapshot(ctx context.Context, snap casecontext.Snapshot, intent casecontext.Intent) (*pipeline.Output, error)
}

type AuditSink interface {
	Index(ctx context.Context, rec audit.Record) error
}

// Dependencies of the handler. Audit and Observability may be nil.
type Dependencies struct {
	Cases         CaseLoader
	Pipeline      ReplyGenerator
	Audit         AuditSink
	Observability *observability.Observability
}

type Handler struct {
	config       *Config
	deps         Dependencies
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		deps:         deps,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
		now:          time.Now,
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
	input.processInstanceKey = job.GetProcessInstanceKey()
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	snap, err := h.loadSnapshot(ctx, input)
	if err != nil {
		return nil, err
	}

	reply, err := h.deps.Pipeline.ProcessSnapshot(ctx, snap, input.Intent)
	if err != nil {
		if stderrors.Is(err, casecontext.ErrMalformedContext) {
			return nil, errors.NewContextMalformedError(input.CaseID, err)
		}
		return nil, err
	}

	h.recordAudit(ctx, input, reply)

	h.logger.Info("reply generated", map[string]interface{}{
		"caseId":       input.CaseID,
		"primaryState": reply.PrimaryState,
		"outcome":      reply.Outcome(),
		"rewritten":    reply.WasRewritten,
	})

	return &Output{
		Reply:        reply,
		ReplyBody:    reply.Body,
		NeedsReview:  reply.NeedsReview,
		PrimaryState: reply.PrimaryState,
		Outcome:      reply.Outcome(),
	}, nil
}

func (h *Handler) loadSnapshot(ctx context.Context, input *Input) (casecontext.Snapshot, error) {
	if input.CaseContext != nil {
		return *input.CaseContext, nil
	}
	snap, err := h.deps.Cases.Load(ctx, input.CaseID)
	switch {
	case stderrors.Is(err, casestore.ErrCaseNotFound):
		return snap, errors.NewCaseNotFoundError(input.CaseID)
	case err != nil:
		return snap, errors.NewCaseLoadFailedError(input.CaseID, err)
	}
	return snap, nil
}

// recordAudit is best effort: the reply is already built and must not be lost to an
// indexing failure.
func (h *Handler) recordAudit(ctx context.Context, input *Input, reply *pipeline.Output) {
	if !h.config.AuditEnabled || h.deps.Audit == nil {
		return
	}
	rec := audit.FromOutput(reply, h.now())
	rec.ProcessInstance = input.processInstanceKey
	if err := h.deps.Audit.Index(ctx, rec); err != nil {
		stdErr := errors.NewAuditIndexFailedError(err)
		h.logger.Warn("audit record not indexed", map[string]interface{}{
			"caseId":    input.CaseID,
			"errorCode": string(stdErr.Code),
			"error":     err.Error(),
		})
	}
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
	h.logger.Info("job completed", map[string]interface{}{"jobKey": job.GetKey()})
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
