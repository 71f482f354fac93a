// Package ops serves the operational endpoints of a cart node.
package ops

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a component is healthy.
type HealthChecker interface {
	Healthy() bool
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func() bool

// Healthy implements HealthChecker.
func (f HealthCheckerFunc) Healthy() bool { return f() }

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}

// NewHandler serves /metrics and /healthz. /healthz answers 503 while any
// component is unhealthy.
func NewHandler(components map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Components: make(map[string]bool, len(components))}
		code := http.StatusOK
		for name, checker := range components {
			healthy := checker != nil && checker.Healthy()
			resp.Components[name] = healthy
			if !healthy {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
	return r
}
