package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/deusflow/ottpulse/internal/app"
	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
)

type statusSource interface {
	Status() app.Status
}

type statsSource interface {
	GetStats() map[string]interface{}
}

// newMux builds the HTTP routes. extraction may be nil.
func newMux(status statusSource, m *metrics.Metrics, extraction statsSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", healthHandler)
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /status", statusHandler(status, m))
	mux.HandleFunc("GET /metrics", metricsHandler(m, extraction))
	return mux
}

// healthHandler reports liveness. It answers alive for as long as the
// process serves requests, whatever the last cycle did.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func statusHandler(status statusSource, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := status.Status()
		stats := m.GetStats()

		var lastRun string
		if !st.LastRun.IsZero() {
			lastRun = st.LastRun.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state":                 st.State,
			"backend":               st.Backend,
			"cached_links":          st.SeenLinks,
			"registered_users":      st.Users,
			"last_successful_cycle": lastRun,
			"healthy":               stats["is_healthy"],
			"last_error":            stats["last_error"],
		})
	}
}

func metricsHandler(m *metrics.Metrics, extraction statsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := m.GetStats()
		if extraction != nil {
			stats["extraction"] = extraction.GetStats()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}
