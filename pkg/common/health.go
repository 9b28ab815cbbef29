package common

import (
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// HealthServer serves liveness and readiness probes on a small HTTP mux.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer starts a health endpoint in the background. The readiness
// flag is owned by the caller; flip it once the process can serve.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	hs := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", hs.handleHealth)
	mux.HandleFunc("/v1/readiness", hs.handleReadiness)

	port := os.Getenv("HEALTH_PORT")
	if port == "" {
		port = "8081"
	}

	hs.server = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() { _ = hs.server.ListenAndServe() }()

	return hs
}

// Server exposes the underlying http.Server for shutdown.
func (hs *HealthServer) Server() *http.Server { return hs.server }

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !hs.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
