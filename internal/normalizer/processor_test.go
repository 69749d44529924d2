package normalizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/kafka"
)

type fakeStorage struct {
	sourceType    string
	sourceTypeErr error
	upsertID      *string
	upsertErr     error
	upserted      []*events.NormalizedEvent
}

func (f *fakeStorage) GetSourceType(_ context.Context, _ string) (string, error) {
	return f.sourceType, f.sourceTypeErr
}

func (f *fakeStorage) UpsertEvent(_ context.Context, e *events.NormalizedEvent) (*string, error) {
	f.upserted = append(f.upserted, e)
	return f.upsertID, f.upsertErr
}

type fakePublisher struct {
	published [][]byte
	err       error
	failures  int
}

func (f *fakePublisher) Publish(_ context.Context, _, value []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("broker blip")
	}
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, value)
	return nil
}

func rawMessage(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(events.RawCapture{
		RawID:     "raw-1",
		SourceID:  "src-1",
		FetchedAt: time.Now().UTC(),
		RawPayload: events.RawPayload{
			Title:     "Fuerte sismo en Quito",
			Date:      "2024-05-01 10:30",
			Content:   "Movimiento percibido en el norte.",
			URL:       "https://igepn.edu.ec/",
			ScrapedAt: time.Now().UTC().Format(time.RFC3339),
		},
		RawHash: "abc",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestHandle_NewEventAckedAndPublished(t *testing.T) {
	id := "evt-1"
	storage := &fakeStorage{sourceType: events.TypeSismo, upsertID: &id}
	pub := &fakePublisher{}
	p := NewProcessor(nil, storage, pub, nil)

	got := p.Handle(context.Background(), rawMessage(t))
	if got != kafka.Ack {
		t.Fatalf("disposition = %v, want Ack", got)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}

	var e events.NormalizedEvent
	if err := json.Unmarshal(pub.published[0], &e); err != nil {
		t.Fatalf("published message is not a normalized event: %v", err)
	}
	if e.EventID != "evt-1" || e.Zone != "Pichincha" || e.Severity != events.SeverityAlta {
		t.Errorf("published event = %+v", e)
	}
}

func TestHandle_DuplicateAckedWithoutPublish(t *testing.T) {
	storage := &fakeStorage{sourceType: events.TypeSismo, upsertID: nil}
	pub := &fakePublisher{}
	p := NewProcessor(nil, storage, pub, nil)

	if got := p.Handle(context.Background(), rawMessage(t)); got != kafka.Ack {
		t.Fatalf("disposition = %v, want Ack", got)
	}
	if len(pub.published) != 0 {
		t.Errorf("published %d messages for a duplicate, want 0", len(pub.published))
	}
}

func TestHandle_MalformedMessageRejected(t *testing.T) {
	p := NewProcessor(nil, &fakeStorage{}, &fakePublisher{}, nil)

	if got := p.Handle(context.Background(), []byte("{not json")); got != kafka.RejectNoRequeue {
		t.Errorf("disposition = %v, want RejectNoRequeue", got)
	}
}

func TestHandle_UnknownSourceFallsBackToDefaultType(t *testing.T) {
	id := "evt-1"
	storage := &fakeStorage{
		sourceTypeErr: fmt.Errorf("look up: %w", sql.ErrNoRows),
		upsertID:      &id,
	}
	p := NewProcessor(nil, storage, &fakePublisher{}, nil)

	if got := p.Handle(context.Background(), rawMessage(t)); got != kafka.Ack {
		t.Fatalf("disposition = %v, want Ack", got)
	}
	if len(storage.upserted) != 1 || storage.upserted[0].Type != events.TypeSismo {
		t.Errorf("upserted events = %+v, want one with default type", storage.upserted)
	}
}

func TestHandle_StoreOutageRetried(t *testing.T) {
	storage := &fakeStorage{sourceType: events.TypeSismo, upsertErr: errors.New("connection refused")}
	p := NewProcessor(nil, storage, &fakePublisher{}, nil)

	if got := p.Handle(context.Background(), rawMessage(t)); got != kafka.Retry {
		t.Errorf("disposition = %v, want Retry", got)
	}
}

func TestHandle_SourceLookupOutageRetried(t *testing.T) {
	storage := &fakeStorage{sourceTypeErr: errors.New("connection refused")}
	p := NewProcessor(nil, storage, &fakePublisher{}, nil)

	if got := p.Handle(context.Background(), rawMessage(t)); got != kafka.Retry {
		t.Errorf("disposition = %v, want Retry", got)
	}
}

func TestHandle_PublishBlipRecoversInPlace(t *testing.T) {
	id := "evt-1"
	storage := &fakeStorage{sourceType: events.TypeSismo, upsertID: &id}
	pub := &fakePublisher{failures: 2}
	p := NewProcessor(nil, storage, pub, nil)

	if got := p.Handle(context.Background(), rawMessage(t)); got != kafka.Ack {
		t.Fatalf("disposition = %v, want Ack after publish retries", got)
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d messages, want 1", len(pub.published))
	}
}

func TestHandle_PublishFailureRetried(t *testing.T) {
	id := "evt-1"
	storage := &fakeStorage{sourceType: events.TypeSismo, upsertID: &id}
	pub := &fakePublisher{err: errors.New("broker gone")}
	p := NewProcessor(nil, storage, pub, nil)

	if got := p.Handle(context.Background(), rawMessage(t)); got != kafka.Retry {
		t.Errorf("disposition = %v, want Retry", got)
	}
}

func TestHandle_MissingSourceIDRejected(t *testing.T) {
	body, _ := json.Marshal(events.RawCapture{
		RawPayload: events.RawPayload{Title: "algo"},
	})
	p := NewProcessor(nil, &fakeStorage{}, &fakePublisher{}, nil)

	if got := p.Handle(context.Background(), body); got != kafka.RejectNoRequeue {
		t.Errorf("disposition = %v, want RejectNoRequeue", got)
	}
}
