// Package ops exposes the operational HTTP surface every binary carries:
// liveness, readiness and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerParams wire the ops router.
type HandlerParams struct {
	ServiceName string
	Logger      *logger.Logger
	Registry    *prometheus.Registry
	// Checks run on /health/ready; a nil Pinger is skipped so binaries
	// only declare the dependencies they actually hold.
	Checks map[string]Pinger
}

// NewHandler returns the router served on the ops port.
func NewHandler(params HandlerParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recoverer(params.Logger),
		RequestID(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", healthLive(params.ServiceName))
		r.Get("/ready", healthReady(params.ServiceName, params.Logger, params.Checks))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			params.Registry,
			promhttp.HandlerOpts{},
		))
	}

	return r
}

func healthLive(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "live",
			"service": service,
		})
	}
}

func healthReady(service string, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{
			"status":  "ready",
			"service": service,
		}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				continue
			}
			body[name] = "ok"
		}

		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
