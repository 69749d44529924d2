package verifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/kafka"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/metrics"
)

// MessageReader fetches and commits normalized event messages.
type MessageReader interface {
	Fetch(ctx context.Context) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
}

// Storage persists verification verdicts.
type Storage interface {
	UpdateEventVerification(ctx context.Context, eventID string, score int, status string) (bool, error)
}

// MessagePublisher publishes confirmed events downstream.
type MessagePublisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Processor consumes normalized events and applies the verification rules.
type Processor struct {
	reader    MessageReader
	scorer    *Scorer
	storage   Storage
	publisher MessagePublisher
	metrics   metrics.Recorder
}

// NewProcessor creates a verifier processor.
func NewProcessor(reader MessageReader, scorer *Scorer, storage Storage, publisher MessagePublisher, recorder metrics.Recorder) *Processor {
	if recorder == nil {
		recorder = &metrics.NoOp{}
	}
	return &Processor{
		reader:    reader,
		scorer:    scorer,
		storage:   storage,
		publisher: publisher,
		metrics:   recorder,
	}
}

// Run consumes messages sequentially until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Verifier processor started")
	defer slog.Info("Verifier processor stopped")

	loop := kafka.ConsumeLoop{Reader: p.reader, Handle: p.Handle}
	return loop.Run(ctx)
}

// Handle verifies one normalized event. The verdict is persisted for every
// score; only CONFIRMADO events travel downstream.
func (p *Processor) Handle(ctx context.Context, body []byte) kafka.Disposition {
	start := time.Now()
	p.metrics.RecordReceived()

	var event events.NormalizedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Error("Malformed normalized event message, dropping", "error", err)
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}
	if event.EventID == "" {
		slog.Error("Normalized event has no event_id, dropping")
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}

	score := p.scorer.Score(ctx, &event)
	status := StatusFor(score)

	updated, err := p.storage.UpdateEventVerification(ctx, event.EventID, score, status)
	if err != nil {
		slog.Error("Failed to persist verification", "event_id", event.EventID, "error", err)
		p.metrics.RecordError()
		return kafka.Retry
	}
	if !updated {
		// The row vanished under us. Redelivery would find the same hole.
		slog.Warn("Event vanished before verification, dropping", "event_id", event.EventID)
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}

	event.Score = score
	event.Status = status

	slog.Info("Event verified",
		"event_id", event.EventID,
		"score", score,
		"status", status,
	)

	if status != events.StatusConfirmado {
		p.metrics.IncrementCustom("events_unconfirmed")
		p.metrics.RecordProcessed(time.Since(start))
		return kafka.Ack
	}

	message, err := json.Marshal(&event)
	if err != nil {
		slog.Error("Failed to marshal confirmed event", "event_id", event.EventID, "error", err)
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}

	if err := p.publisher.Publish(ctx, []byte(event.EventID), message); err != nil {
		// Verdict is already persisted; reprocessing re-scores and publishes
		// again, which is idempotent, so retry rather than lose the
		// notification.
		slog.Error("Failed to publish confirmed event", "event_id", event.EventID, "error", err)
		p.metrics.RecordError()
		return kafka.Retry
	}
	p.metrics.RecordPublished()
	p.metrics.IncrementCustom("events_confirmed")
	p.metrics.RecordProcessed(time.Since(start))

	return kafka.Ack
}
