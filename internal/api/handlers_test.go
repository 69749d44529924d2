package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/store"
)

type fakeStorage struct {
	pingErr     error
	events      []store.Event
	eventsErr   error
	lastFilter  store.EventFilter
	event       *store.Event
	sources     []store.Source
	lastActive  bool
	total       int
	active      int
	rawCount    int
	byStatus    map[string]int
	lastCapture *time.Time
}

func (f *fakeStorage) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeStorage) ListEvents(_ context.Context, filter store.EventFilter) ([]store.Event, error) {
	f.lastFilter = filter
	return f.events, f.eventsErr
}

func (f *fakeStorage) GetEvent(_ context.Context, _ string) (*store.Event, error) {
	return f.event, nil
}

func (f *fakeStorage) ListSources(_ context.Context, activeOnly bool) ([]store.Source, error) {
	f.lastActive = activeOnly
	return f.sources, nil
}

func (f *fakeStorage) CountSources(_ context.Context) (int, int, error) {
	return f.total, f.active, nil
}

func (f *fakeStorage) CountRawCaptures(_ context.Context) (int, error) {
	return f.rawCount, nil
}

func (f *fakeStorage) CountEventsByStatus(_ context.Context) (map[string]int, error) {
	return f.byStatus, nil
}

func (f *fakeStorage) LastCaptureTime(_ context.Context) (*time.Time, error) {
	return f.lastCapture, nil
}

func serve(t *testing.T, storage Storage, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(NewHandlers(storage, nil))
	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeStorage{}, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if resp.Status != "healthy" || resp.Database != "healthy" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_DegradedWhenDatabaseDown(t *testing.T) {
	rec := serve(t, &fakeStorage{pingErr: errors.New("refused")}, http.MethodGet, "/health")

	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "degraded" || resp.Database != "unhealthy" {
		t.Errorf("health = %+v", resp)
	}
}

func TestListEvents_PassesFilters(t *testing.T) {
	storage := &fakeStorage{events: []store.Event{{EventID: "evt-1"}}}
	rec := serve(t, storage, http.MethodGet, "/api/events?status=CONFIRMADO&type=sismo&zone=Pichincha&limit=10")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := store.EventFilter{Status: events.StatusConfirmado, Type: events.TypeSismo, Zone: "Pichincha", Limit: 10}
	if storage.lastFilter != want {
		t.Errorf("filter = %+v, want %+v", storage.lastFilter, want)
	}
}

func TestListEvents_EmptyResultIsJSONArray(t *testing.T) {
	rec := serve(t, &fakeStorage{}, http.MethodGet, "/api/events")
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestListEvents_BadLimit(t *testing.T) {
	rec := serve(t, &fakeStorage{}, http.MethodGet, "/api/events?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListEvents_StoreError(t *testing.T) {
	rec := serve(t, &fakeStorage{eventsErr: errors.New("db down")}, http.MethodGet, "/api/events")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetEvent(t *testing.T) {
	id := "6fa459ea-ee8a-3ca4-894e-db77e160355e"
	storage := &fakeStorage{event: &store.Event{EventID: id, Status: events.StatusConfirmado}}
	rec := serve(t, storage, http.MethodGet, "/api/events/"+id)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var e store.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("body: %v", err)
	}
	if e.EventID != id {
		t.Errorf("event = %+v", e)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	rec := serve(t, &fakeStorage{event: nil}, http.MethodGet, "/api/events/6fa459ea-ee8a-3ca4-894e-db77e160355e")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetEvent_NonUUIDRejectedBeforeStore(t *testing.T) {
	rec := serve(t, &fakeStorage{}, http.MethodGet, "/api/events/not-a-uuid")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListSources_DefaultsToActiveOnly(t *testing.T) {
	storage := &fakeStorage{sources: []store.Source{
		{SourceID: "src-1", Name: "IGEPN", Type: "sismo", Domain: "igepn.edu.ec", Active: true, FrequencySec: 300,
			ParserConfig: map[string]string{"title_selector": "h1"}},
	}}
	rec := serve(t, storage, http.MethodGet, "/api/sources")

	if !storage.lastActive {
		t.Error("active_only should default to true")
	}

	var resp []SourceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(resp) != 1 || resp[0].SourceID != "src-1" {
		t.Errorf("sources = %+v", resp)
	}
	// Parser internals never leak through the API.
	if body := rec.Body.String(); json.Valid([]byte(body)) && containsField(body, "parser_config") {
		t.Error("response exposes parser_config")
	}
}

func containsField(body, field string) bool {
	var generic []map[string]any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return false
	}
	for _, m := range generic {
		if _, ok := m[field]; ok {
			return true
		}
	}
	return false
}

func TestListSources_ActiveOnlyFalse(t *testing.T) {
	storage := &fakeStorage{}
	serve(t, storage, http.MethodGet, "/api/sources?active_only=false")
	if storage.lastActive {
		t.Error("active_only=false should reach the store")
	}
}

func TestStats(t *testing.T) {
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	storage := &fakeStorage{
		total: 5, active: 3, rawCount: 120,
		byStatus: map[string]int{
			events.StatusConfirmado:     4,
			events.StatusEnVerificacion: 2,
			events.StatusNoVerificado:   6,
		},
		lastCapture: &last,
	}
	rec := serve(t, storage, http.MethodGet, "/api/stats")

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if resp.TotalSources != 5 || resp.ActiveSources != 3 || resp.TotalRawEvents != 120 {
		t.Errorf("stats = %+v", resp)
	}
	if resp.TotalEvents != 12 {
		t.Errorf("total events = %d, want 12", resp.TotalEvents)
	}
	if resp.LastCapture == nil || !resp.LastCapture.Equal(last) {
		t.Errorf("last capture = %v", resp.LastCapture)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, &fakeStorage{}, http.MethodPost, "/api/events")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := serve(t, &fakeStorage{}, http.MethodOptions, "/api/events")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for preflight", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
