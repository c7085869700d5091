// Package handler implements the HTTP layer: the command endpoint, the
// snapshot endpoint, raw content replacement, exports, and interface
// statistics.
//
// All state changes flow through POST /api/command, which carries one
// command plus the revision the client based it on. Responses are always
// a JSON envelope with status ack, stale, or error; stale responses carry
// the current snapshot so the client can rebase.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"labtopo/internal/codec"
	"labtopo/internal/host"
	"labtopo/internal/status"
)

// StatsCollector reads live interface counters from a node.
type StatsCollector interface {
	Collect(ctx context.Context, addr string) ([]status.InterfaceStats, error)
}

// API handles all topology endpoints.
type API struct {
	host   *host.Host
	events http.Handler
	stats  StatsCollector
	logger *log.Logger
}

// New creates the API over the host. events serves the SSE stream; stats
// may be nil when interface statistics are not configured.
func New(h *host.Host, events http.Handler, logger *log.Logger) *API {
	if logger == nil {
		logger = log.Default()
	}
	return &API{host: h, events: events, logger: logger}
}

// SetStatsCollector enables the interface-statistics endpoint.
func (a *API) SetStatsCollector(c StatsCollector) {
	a.stats = c
}

// Routes registers every endpoint on the mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/snapshot", a.GetSnapshot)
	mux.HandleFunc("POST /api/command", a.PostCommand)
	mux.HandleFunc("POST /api/content", a.PostContent)
	mux.HandleFunc("POST /api/resync", a.PostResync)
	mux.HandleFunc("GET /api/export/{format}", a.Export)
	mux.HandleFunc("GET /api/interfaces", a.GetInterfaces)
	if a.events != nil {
		mux.Handle("GET /events", a.events)
	}
}

// commandRequest is the wire form of one command submission.
type commandRequest struct {
	Command      string          `json:"command"`
	Payload      json.RawMessage `json:"payload"`
	BaseRevision int             `json:"baseRevision"`
	SkipHistory  bool            `json:"skipHistory,omitempty"`
}

// GetSnapshot returns the current snapshot and revision.
func (a *API) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.host.Snapshot(r.Context())
	if err != nil {
		a.logger.Printf("Failed to build snapshot: %v", err)
		a.writeError(w, "Failed to build snapshot", err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, snap, http.StatusOK)
}

// PostCommand decodes and applies one command. Decode failures are 400s;
// everything past decoding is reported through the result envelope with
// status 200, including stale rejections and command errors.
func (a *API) PostCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	cmd, err := host.DecodeCommand(req.Command, req.Payload)
	if err != nil {
		a.writeError(w, "Invalid command", err.Error(), http.StatusBadRequest)
		return
	}

	result := a.host.Apply(r.Context(), host.Request{
		Command:      cmd,
		BaseRevision: req.BaseRevision,
		SkipHistory:  req.SkipHistory,
	})
	a.writeJSON(w, result, http.StatusOK)
}

// contentRequest is the wire form of a raw content replacement.
type contentRequest struct {
	BaseRevision int    `json:"baseRevision"`
	Content      string `json:"content"`
}

// PostContent replaces the whole document text.
func (a *API) PostContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	result := a.host.ReplaceContent(r.Context(), req.BaseRevision, []byte(req.Content))
	a.writeJSON(w, result, http.StatusOK)
}

// PostResync rebuilds the snapshot from disk and pushes it to
// subscribers.
func (a *API) PostResync(w http.ResponseWriter, r *http.Request) {
	snap, err := a.host.Resync(r.Context())
	if err != nil {
		a.logger.Printf("Resync failed: %v", err)
		a.writeError(w, "Resync failed", err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, snap, http.StatusOK)
}

// Export renders the current snapshot in the requested format.
func (a *API) Export(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	exporter := codec.ForFormat(format)
	if exporter == nil {
		a.writeError(w, "Unknown export format", format, http.StatusBadRequest)
		return
	}

	snap, err := a.host.Snapshot(r.Context())
	if err != nil {
		a.logger.Printf("Failed to build snapshot: %v", err)
		a.writeError(w, "Failed to build snapshot", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.%s", snap.Name, exporter.Format()))
	if err := exporter.Export(snap, w); err != nil {
		a.logger.Printf("Export to %s failed: %v", format, err)
	}
}

// GetInterfaces returns live interface counters for one node address.
func (a *API) GetInterfaces(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		a.writeError(w, "Interface statistics not configured", "", http.StatusServiceUnavailable)
		return
	}
	addr := r.URL.Query().Get("addr")
	if addr == "" {
		a.writeError(w, "Address required", "", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	stats, err := a.stats.Collect(ctx, addr)
	if err != nil {
		a.logger.Printf("Interface stats for %s failed: %v", addr, err)
		a.writeError(w, "Failed to collect interface statistics", err.Error(), http.StatusBadGateway)
		return
	}
	a.writeJSON(w, stats, http.StatusOK)
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Printf("Failed to encode response: %v", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, msg, details string, statusCode int) {
	a.writeJSON(w, ErrorResponse{Error: msg, Details: details}, statusCode)
}
