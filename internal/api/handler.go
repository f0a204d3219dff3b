// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves reconciliation over HTTP.
//
//	POST /reconcile     run merges and emails, respond with the report
//	GET  /applications  list tracked applications
//	GET  /health        dependency checks
//	GET  /metrics       Prometheus metrics
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/tracker/internal/metrics"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/reconcile"
)

// maxBodyBytes caps /reconcile request bodies.
const maxBodyBytes = 16 << 20

// Reconciler runs reconciliation. *reconcile.Orchestrator implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, emails []models.EmailRecord, merges []models.MergeRequest) (*reconcile.Report, error)
	PendingMerges(ctx context.Context) ([]models.MergeRequest, error)
}

// Lister lists tracked applications.
type Lister interface {
	List(ctx context.Context) ([]models.Application, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// ReconcileRequest is the POST /reconcile body.
type ReconcileRequest struct {
	Emails []models.EmailRecord  `json:"emails"`
	Merges []models.MergeRequest `json:"merges"`

	// PendingMerges also runs the merge requests recorded in merge_into
	// cells, after the explicit ones.
	PendingMerges bool `json:"pending_merges"`
}

// errorResponse carries a failure and whatever the run reported before it.
type errorResponse struct {
	Error  string            `json:"error"`
	Report *reconcile.Report `json:"report,omitempty"`
}

// Handler serves the API. Reconciliation runs are serialised: one run at a
// time per process.
type Handler struct {
	rec    Reconciler
	apps   Lister
	checks map[string]HealthCheck

	mu sync.Mutex
}

// NewHandler creates an API handler. checks are run by /health, keyed by
// dependency name.
func NewHandler(rec Reconciler, apps Lister, checks map[string]HealthCheck) *Handler {
	return &Handler{rec: rec, apps: apps, checks: checks}
}

// RunLock is held for the duration of every reconciliation run. Background
// runs share it to stay serialised with requests.
func (h *Handler) RunLock() sync.Locker {
	return &h.mu
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reconcile", h.ServeReconcile)
	mux.HandleFunc("/applications", h.ServeApplications)
	mux.HandleFunc("/health", h.ServeHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ServeReconcile handles POST /reconcile.
func (h *Handler) ServeReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	var req ReconcileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		slog.Info("reconcile body not valid JSON", "body_len", len(body), "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	started := time.Now()
	merges := req.Merges
	if req.PendingMerges {
		pending, err := h.rec.PendingMerges(ctx)
		if err != nil {
			slog.Error("failed to collect pending merges", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		merges = append(merges, pending...)
	}

	report, err := h.rec.Reconcile(ctx, req.Emails, merges)
	metrics.ObserveRun(started, err)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Report: report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ServeApplications handles GET /applications.
func (h *Handler) ServeApplications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	apps, err := h.apps.List(r.Context())
	if err != nil {
		slog.Error("failed to list applications", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if apps == nil {
		apps = []models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// ServeHealth handles GET /health. Any failing check makes the service
// unhealthy.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	result := map[string]string{"status": "healthy"}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			result["status"] = "unhealthy"
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Serve starts the API server on the given port.
// It binds the port immediately and signals readiness via the first returned
// channel before starting to accept connections. The server shuts down when
// ctx is done; the second channel closes once it has stopped.
func Serve(ctx context.Context, port int, handler http.Handler) (ready, stopped <-chan struct{}, err error) {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return readyCh, done, nil
}
