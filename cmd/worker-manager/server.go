// cmd/worker-manager/server.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"support-reply-workers/internal/common/camunda"
	"support-reply-workers/internal/common/logger"
)

type check func(ctx context.Context) error

func readinessChecks(b *backends, zb *camunda.Client) map[string]check {
	checks := map[string]check{
		"postgres": b.pg.Ping,
		"redis":    b.redis.Ping,
		"zeebe":    zb.HealthCheck,
	}
	if b.es != nil {
		checks["elasticsearch"] = b.es.Ping
	}
	return checks
}

// newStatusServer serves /health (liveness), /ready (every dependency answers) and
// /metrics.
func newStatusServer(addr string, checks map[string]check, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, c := range checks {
			if err := c(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		if status != http.StatusOK {
			log.Warn("readiness check failed", map[string]interface{}{"checks": results})
		}
		writeJSON(w, status, map[string]interface{}{"status": http.StatusText(status), "checks": results})
	})
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("status server listening", map[string]interface{}{"address": addr})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
