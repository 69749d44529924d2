package normalizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/kafka"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/metrics"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/retry"
)

// MessageReader fetches and commits raw capture messages.
type MessageReader interface {
	Fetch(ctx context.Context) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
}

// Storage is the subset of the event store the normalizer depends on.
type Storage interface {
	GetSourceType(ctx context.Context, sourceID string) (string, error)
	UpsertEvent(ctx context.Context, e *events.NormalizedEvent) (*string, error)
}

// MessagePublisher publishes normalized events downstream.
type MessagePublisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Processor consumes raw captures and emits canonical events.
type Processor struct {
	reader    MessageReader
	storage   Storage
	publisher MessagePublisher
	metrics   metrics.Recorder
	clock     clockwork.Clock
}

// NewProcessor creates a normalizer processor.
func NewProcessor(reader MessageReader, storage Storage, publisher MessagePublisher, recorder metrics.Recorder) *Processor {
	if recorder == nil {
		recorder = &metrics.NoOp{}
	}
	return &Processor{
		reader:    reader,
		storage:   storage,
		publisher: publisher,
		metrics:   recorder,
		clock:     clockwork.NewRealClock(),
	}
}

// SetClock replaces the processor clock. Used by tests.
func (p *Processor) SetClock(clock clockwork.Clock) {
	p.clock = clock
}

// Run consumes messages sequentially until the context is cancelled. The
// offset is committed only after the message's side effects complete; a
// transient failure keeps the loop on the same message until it resolves.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Normalizer processor started")
	defer slog.Info("Normalizer processor stopped")

	loop := kafka.ConsumeLoop{Reader: p.reader, Handle: p.Handle}
	return loop.Run(ctx)
}

// Handle processes one raw capture message and decides its disposition.
func (p *Processor) Handle(ctx context.Context, body []byte) kafka.Disposition {
	start := time.Now()
	p.metrics.RecordReceived()

	var capture events.RawCapture
	if err := json.Unmarshal(body, &capture); err != nil {
		slog.Error("Malformed raw capture message, dropping", "error", err)
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}

	event, disposition, err := p.normalize(ctx, &capture)
	if err != nil {
		slog.Error("Normalization failed",
			"raw_id", capture.RawID,
			"source_id", capture.SourceID,
			"disposition", disposition,
			"error", err,
		)
		p.metrics.RecordError()
		return disposition
	}

	eventID, err := p.storage.UpsertEvent(ctx, event)
	if err != nil {
		// Store outage: the consume loop reprocesses this message until the
		// store recovers.
		slog.Error("Failed to persist event", "raw_id", capture.RawID, "error", err)
		p.metrics.RecordError()
		return kafka.Retry
	}
	if eventID == nil {
		// Duplicate of an already-recorded event. Only its first report
		// travels downstream.
		p.metrics.IncrementCustom("events_deduplicated")
		p.metrics.RecordProcessed(time.Since(start))
		return kafka.Ack
	}
	event.EventID = *eventID

	message, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal normalized event", "event_id", event.EventID, "error", err)
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}

	err = retry.Do(ctx, retry.DefaultConfig(), "publish normalized event", func() error {
		return p.publisher.Publish(ctx, []byte(event.EventID), message)
	})
	if err != nil {
		// The row already exists, so a reprocess of this message merges into
		// it and acks without publishing; the event then stays stored as
		// NO_VERIFICADO until another source corroborates it. The in-place
		// retries above keep that window to prolonged broker outages.
		slog.Error("Failed to publish normalized event", "event_id", event.EventID, "error", err)
		p.metrics.RecordError()
		return kafka.Retry
	}
	p.metrics.RecordPublished()
	p.metrics.RecordProcessed(time.Since(start))

	slog.Info("Normalized event published",
		"event_id", event.EventID,
		"type", event.Type,
		"zone", event.Zone,
		"severity", event.Severity,
	)

	return kafka.Ack
}

// normalize builds the canonical event from a capture, classifying failures
// as permanent (reject) or transient (retry).
func (p *Processor) normalize(ctx context.Context, capture *events.RawCapture) (*events.NormalizedEvent, kafka.Disposition, error) {
	if capture.SourceID == "" {
		return nil, kafka.RejectNoRequeue, fmt.Errorf("capture has no source_id")
	}

	eventType, err := p.storage.GetSourceType(ctx, capture.SourceID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, kafka.Retry, fmt.Errorf("failed to resolve source type: %w", err)
		}
		// Source was removed from the catalog after capture; classify its
		// backlog under the default type rather than dropping it.
		slog.Warn("Unknown source, using default event type", "source_id", capture.SourceID)
		eventType = events.TypeSismo
	}

	event := BuildEvent(capture, eventType, p.clock.Now())
	if err := event.Validate(); err != nil {
		return nil, kafka.RejectNoRequeue, fmt.Errorf("invalid normalized event: %w", err)
	}

	return event, kafka.Ack, nil
}
