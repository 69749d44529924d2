// Package api implements the read-only query gateway: event listings,
// source catalog, pipeline statistics, and health.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/metrics"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/store"
)

// Storage is the read-only store surface the gateway depends on.
type Storage interface {
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, f store.EventFilter) ([]store.Event, error)
	GetEvent(ctx context.Context, eventID string) (*store.Event, error)
	ListSources(ctx context.Context, activeOnly bool) ([]store.Source, error)
	CountSources(ctx context.Context) (total, active int, err error)
	CountRawCaptures(ctx context.Context) (int, error)
	CountEventsByStatus(ctx context.Context) (map[string]int, error)
	LastCaptureTime(ctx context.Context) (*time.Time, error)
}

// MetricsReader reads per-service metrics snapshots.
type MetricsReader interface {
	GetAllServiceMetrics(ctx context.Context) (map[string]*metrics.ServiceMetrics, error)
}

// Handlers wraps dependencies for HTTP handlers.
type Handlers struct {
	storage       Storage
	metricsReader MetricsReader
}

// NewHandlers creates a new handlers instance. metricsReader may be nil when
// Redis is unavailable; the stats endpoint then omits service metrics.
func NewHandlers(storage Storage, metricsReader MetricsReader) *Handlers {
	return &Handlers{storage: storage, metricsReader: metricsReader}
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports gateway liveness and database reachability.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Database:  "healthy",
		Timestamp: time.Now().UTC(),
	}

	if err := h.storage.Ping(r.Context()); err != nil {
		slog.Error("Health check database ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unhealthy"
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListEvents returns events filtered by status, type, and zone.
// GET /api/events?status=&type=&zone=&limit=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Zone:   q.Get("zone"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	events, err := h.storage.ListEvents(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list events", "error", err)
		http.Error(w, "Failed to retrieve events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent returns one event by id.
// GET /api/events/{event_id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimPrefix(r.URL.Path, "/api/events/")
	// Reject non-UUID ids here; the events PK is a uuid column and a bad
	// value would otherwise surface as a database cast error.
	if _, err := uuid.Parse(eventID); err != nil {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}

	event, err := h.storage.GetEvent(r.Context(), eventID)
	if err != nil {
		slog.Error("Failed to get event", "event_id", eventID, "error", err)
		http.Error(w, "Failed to retrieve event", http.StatusInternalServerError)
		return
	}
	if event == nil {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// SourceResponse is the public shape of a configured source. The parser
// configuration stays internal.
type SourceResponse struct {
	SourceID     string `json:"source_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Domain       string `json:"domain"`
	Active       bool   `json:"active"`
	FrequencySec int    `json:"frequency_sec"`
}

// ListSources returns the source catalog.
// GET /api/sources?active_only=
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if raw := r.URL.Query().Get("active_only"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "active_only must be a boolean", http.StatusBadRequest)
			return
		}
		activeOnly = parsed
	}

	sources, err := h.storage.ListSources(r.Context(), activeOnly)
	if err != nil {
		slog.Error("Failed to list sources", "error", err)
		http.Error(w, "Failed to retrieve sources", http.StatusInternalServerError)
		return
	}

	resp := make([]SourceResponse, 0, len(sources))
	for _, s := range sources {
		resp = append(resp, SourceResponse{
			SourceID:     s.SourceID,
			Name:         s.Name,
			Type:         s.Type,
			Domain:       s.Domain,
			Active:       s.Active,
			FrequencySec: s.FrequencySec,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// StatsResponse is the pipeline statistics body.
type StatsResponse struct {
	TotalSources    int                                `json:"total_sources"`
	ActiveSources   int                                `json:"active_sources"`
	TotalRawEvents  int                                `json:"total_raw_events"`
	TotalEvents     int                                `json:"total_events"`
	EventsByStatus  map[string]int                     `json:"events_by_status"`
	LastCapture     *time.Time                         `json:"last_capture,omitempty"`
	ServiceMetrics  map[string]*metrics.ServiceMetrics `json:"service_metrics,omitempty"`
}

// Stats returns aggregate pipeline statistics.
// GET /api/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, active, err := h.storage.CountSources(ctx)
	if err != nil {
		slog.Error("Failed to count sources", "error", err)
		http.Error(w, "Failed to retrieve statistics", http.StatusInternalServerError)
		return
	}

	rawCount, err := h.storage.CountRawCaptures(ctx)
	if err != nil {
		slog.Error("Failed to count raw captures", "error", err)
		http.Error(w, "Failed to retrieve statistics", http.StatusInternalServerError)
		return
	}

	byStatus, err := h.storage.CountEventsByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count events by status", "error", err)
		http.Error(w, "Failed to retrieve statistics", http.StatusInternalServerError)
		return
	}
	totalEvents := 0
	for _, n := range byStatus {
		totalEvents += n
	}

	lastCapture, err := h.storage.LastCaptureTime(ctx)
	if err != nil {
		slog.Warn("Failed to query last capture time", "error", err)
	}

	resp := StatsResponse{
		TotalSources:   total,
		ActiveSources:  active,
		TotalRawEvents: rawCount,
		TotalEvents:    totalEvents,
		EventsByStatus: byStatus,
		LastCapture:    lastCapture,
	}

	if h.metricsReader != nil {
		if sm, err := h.metricsReader.GetAllServiceMetrics(ctx); err == nil && len(sm) > 0 {
			resp.ServiceMetrics = sm
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
