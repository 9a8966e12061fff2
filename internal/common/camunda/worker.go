// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"support-reply-workers/internal/common/logger"
)

// JobHandler is implemented by every worker package's Handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type Worker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

// WorkerOptions are the per-task knobs read from the workers config section.
type WorkerOptions struct {
	TaskType      string
	Name          string
	MaxJobsActive int
	Timeout       time.Duration
}

// Open starts polling taskType. The job timeout is the broker-side lock; keep it above
// the handler's own context timeout.
func Open(client zbc.Client, opts WorkerOptions, handler JobHandler, log logger.Logger) *Worker {
	if opts.MaxJobsActive <= 0 {
		opts.MaxJobsActive = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}

	jw := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(handler.Handle).
		Name(opts.Name).
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout).
		Open()

	l := log.WithFields(map[string]interface{}{"taskType": opts.TaskType})
	l.Info("worker started", map[string]interface{}{"maxJobsActive": opts.MaxJobsActive})
	return &Worker{worker: jw, logger: l, taskType: opts.TaskType}
}

// Close stops polling and waits for in-flight jobs.
func (w *Worker) Close() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
