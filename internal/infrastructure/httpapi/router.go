package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"request-recorder/internal/capture"
	"request-recorder/internal/infrastructure/config"
	obs "request-recorder/internal/infrastructure/observability"
	"request-recorder/internal/usecase"
)

type Deps struct {
	Cfg     config.Config
	Logger  *zerolog.Logger
	Metrics *obs.Metrics
	Engine  *capture.Engine
	Svc     *usecase.SessionService
	Monitor *MonitorHub
}

func NewRouterWithDeps(d *Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":    "request-recorder",
			"version": obs.Version,
			"time":    time.Now().UTC(),
		})
	})

	// capture control (popup messages)
	mux.HandleFunc("/api/capture/status", d.handleCaptureStatus)
	mux.HandleFunc("/api/capture/start", d.handleCaptureStart)
	mux.HandleFunc("/api/capture/stop", d.handleCaptureStop)

	// session CRUD + request listings (dashboard)
	mux.HandleFunc("/api/sessions", d.handleSessions)
	mux.HandleFunc("/api/sessions/", d.handleSessionByID)

	// settings
	mux.HandleFunc("/api/settings", d.handleSettings)

	// structural diff of two persisted records
	mux.HandleFunc("/api/diff", d.handleDiff)

	// phase-event ingest from the browser-side observer
	mux.HandleFunc("/api/events/ws", d.handleEventsWS)
	// lifecycle broadcast to UI clients
	mux.HandleFunc("/api/monitor/ws", d.Monitor.HandleWS)

	return withCORS(d.Cfg, mux)
}

func withCORS(cfg config.Config, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
