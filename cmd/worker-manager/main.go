// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"support-reply-workers/internal/audit"
	"support-reply-workers/internal/casestore"
	awsclient "support-reply-workers/internal/common/aws"
	"support-reply-workers/internal/common/camunda"
	"support-reply-workers/internal/common/config"
	"support-reply-workers/internal/common/database"
	"support-reply-workers/internal/common/genai"
	httpclient "support-reply-workers/internal/common/http"
	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/observability"
	"support-reply-workers/internal/pipeline"
	"support-reply-workers/internal/pipeline/humanizer"
	"support-reply-workers/internal/review"

	ard "support-reply-workers/internal/workers/support/apply-record-updates"
	gr "support-reply-workers/internal/workers/support/generate-reply"
	rr "support-reply-workers/internal/workers/support/route-review"
)

// retryWithBackoff attempts operation up to maxRetries times, doubling the delay each time.
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			log.Warn(operationName+" failed, retrying", map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

type backends struct {
	pg    *database.PostgresClient
	redis *database.RedisClient
	es    *database.ElasticsearchClient
}

// connectBackends dials the stores concurrently. Elasticsearch is only dialled when the
// audit trail is enabled.
func connectBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (*backends, error) {
	b := &backends{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return retryWithBackoff(gctx, func() error {
			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(gctx); err != nil {
				_ = pg.Close()
				return err
			}
			b.pg = pg
			return nil
		}, 15, 2*time.Second, log, "PostgreSQL connection")
	})

	g.Go(func() error {
		return retryWithBackoff(gctx, func() error {
			rc, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rc.Ping(gctx); err != nil {
				_ = rc.Close()
				return err
			}
			b.redis = rc
			return nil
		}, 10, 2*time.Second, log, "Redis connection")
	})

	if cfg.Audit.Enabled {
		g.Go(func() error {
			return retryWithBackoff(gctx, func() error {
				es, err := database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
				if err != nil {
					return err
				}
				if err := es.Ping(gctx); err != nil {
					return err
				}
				b.es = es
				return nil
			}, 15, 2*time.Second, log, "Elasticsearch connection")
		})
	}

	if err := g.Wait(); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

func (b *backends) close() {
	if b.pg != nil {
		_ = b.pg.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})
	log.Info("starting worker manager", map[string]interface{}{"environment": cfg.App.Environment})

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Backends ---
	be, err := connectBackends(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("backend connection failed", zap.Error(err))
	}
	defer be.close()
	log.Info("backends connected", map[string]interface{}{"audit": be.es != nil})

	// --- Pipeline ---
	var completer humanizer.Completer
	if cfg.Pipeline.Humanizer.Enabled {
		// ceiling above the per-attempt deadline the humanizer sets on each call
		hc := httpclient.NewClient(config.GetDuration(cfg.APIs.GenAI.Timeout) + 5*time.Second)
		completer = genai.New(cfg.APIs.GenAI, hc.Standard())
	}
	replies, err := pipeline.Build(cfg, completer, obs, log)
	if err != nil {
		zapLog.Fatal("pipeline build failed", zap.Error(err))
	}

	cases := casestore.New(be.pg.DB, log)
	queue := review.NewQueue(be.redis.Client, cfg.Review.QueueKey, log)

	var notifier rr.ReviewNotifier
	if cfg.Integrations.AWS.SNS.Enabled && cfg.Review.SNSTopicARN != "" {
		pub, err := awsclient.NewSNSPublisher(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns publisher init failed", zap.Error(err))
		}
		notifier = review.NewNotifier(pub, cfg.Review.SNSTopicARN)
	}

	var auditSink gr.AuditSink
	if be.es != nil {
		auditSink = audit.NewIndexer(be.es.Client, cfg.Audit.Index, log)
	}

	// --- Zeebe ---
	zb, err := camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda), log)
	if err != nil {
		zapLog.Fatal("zeebe client failed", zap.Error(err))
	}
	defer func() { _ = zb.Close() }()

	var workers []*camunda.Worker
	open := func(taskType string, enabled bool, maxJobs int, timeout time.Duration, h camunda.JobHandler) {
		if !enabled {
			log.Info("worker disabled by configuration", map[string]interface{}{"taskType": taskType})
			return
		}
		workers = append(workers, camunda.Open(zb.GetClient(), camunda.WorkerOptions{
			TaskType:      taskType,
			Name:          cfg.App.Name,
			MaxJobsActive: maxJobs,
			// lock outlives the handler timeout so a slow job is failed, not re-activated
			Timeout: timeout + 5*time.Second,
		}, h, log))
	}

	grCfg := gr.ConfigFromApp(cfg)
	open(gr.TaskType, grCfg.Enabled, grCfg.MaxJobsActive, grCfg.Timeout, gr.NewHandler(grCfg, gr.Dependencies{
		Cases:         cases,
		Pipeline:      replies,
		Audit:         auditSink,
		Observability: obs,
	}, log))

	rrCfg := rr.ConfigFromApp(cfg)
	open(rr.TaskType, rrCfg.Enabled, rrCfg.MaxJobsActive, rrCfg.Timeout, rr.NewHandler(rrCfg, rr.Dependencies{
		Queue:         queue,
		Notifier:      notifier,
		Observability: obs,
	}, log))

	ardCfg := ard.ConfigFromApp(cfg)
	open(ard.TaskType, ardCfg.Enabled, ardCfg.MaxJobsActive, ardCfg.Timeout, ard.NewHandler(ardCfg, cases, obs, log))

	log.Info("workers registered", map[string]interface{}{"count": len(workers)})

	// --- Health & Metrics Server ---
	srv := newStatusServer(cfg.App.HTTPAddress, readinessChecks(be, zb), log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("shutdown signal received, stopping workers", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("status server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("worker manager stopped", nil)
}
