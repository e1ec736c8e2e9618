// Package httpstatus provides the optional ambient status server: a
// /healthz liveness probe and a /metrics Prometheus endpoint, started
// only in watch mode.
package httpstatus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hysreader/hys/config"
)

// HealthFunc reports the daemon's current health; returning a non-nil
// error marks the process unhealthy (e.g. last digest run failed).
type HealthFunc func() error

// New creates a configured status server. It is never required: callers
// that don't start it simply never expose liveness or metrics.
func New(cfg config.StatusConfig, health HealthFunc, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(BasicAuth(cfg.Auth))

	r.Get("/healthz", handleHealthz(health))
	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func handleHealthz(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeHealth(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		if err := health(); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
		writeHealth(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, body healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
