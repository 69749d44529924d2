// Package notifier consumes confirmed events and fans them out to matching
// Telegram subscribers, recording every delivery attempt.
package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/kafka"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/metrics"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/store"
)

// sendDelay spaces consecutive sends to stay under Telegram's rate limits.
const sendDelay = 100 * time.Millisecond

// MessageReader fetches and commits confirmed event messages.
type MessageReader interface {
	Fetch(ctx context.Context) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
}

// Storage resolves subscribers and records delivery outcomes.
type Storage interface {
	GetMatchingSubscriptions(ctx context.Context, eventType, zone string) ([]store.Subscription, error)
	InsertNotificationRecord(ctx context.Context, subscriptionID, eventID, status, errorMessage string) error
}

// Sender delivers one notification to one chat.
type Sender interface {
	SendNotification(ctx context.Context, chatID string, event *events.NormalizedEvent) error
}

// Processor consumes confirmed events and notifies subscribers.
type Processor struct {
	reader  MessageReader
	storage Storage
	sender  Sender
	metrics metrics.Recorder
	clock   clockwork.Clock
}

// NewProcessor creates a notifier processor.
func NewProcessor(reader MessageReader, storage Storage, sender Sender, recorder metrics.Recorder) *Processor {
	if recorder == nil {
		recorder = &metrics.NoOp{}
	}
	return &Processor{
		reader:  reader,
		storage: storage,
		sender:  sender,
		metrics: recorder,
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock replaces the pacing clock. Used by tests.
func (p *Processor) SetClock(clock clockwork.Clock) {
	p.clock = clock
}

// Run consumes messages sequentially until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Notifier processor started")
	defer slog.Info("Notifier processor stopped")

	loop := kafka.ConsumeLoop{Reader: p.reader, Handle: p.Handle}
	return loop.Run(ctx)
}

// Handle fans one confirmed event out to all matching subscribers. A failed
// send to one subscriber never blocks the others; each attempt's outcome is
// recorded and the message is acked once the fan-out completes.
func (p *Processor) Handle(ctx context.Context, body []byte) kafka.Disposition {
	start := time.Now()
	p.metrics.RecordReceived()

	var event events.NormalizedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Error("Malformed confirmed event message, dropping", "error", err)
		p.metrics.RecordError()
		return kafka.RejectNoRequeue
	}

	subs, err := p.storage.GetMatchingSubscriptions(ctx, event.Type, event.Zone)
	if err != nil {
		slog.Error("Failed to resolve subscribers", "event_id", event.EventID, "error", err)
		p.metrics.RecordError()
		return kafka.Retry
	}

	if len(subs) == 0 {
		slog.Info("No subscribers for event", "event_id", event.EventID, "type", event.Type, "zone", event.Zone)
		p.metrics.RecordProcessed(time.Since(start))
		return kafka.Ack
	}

	sent, failed := 0, 0
	for i, sub := range subs {
		if i > 0 {
			select {
			case <-ctx.Done():
				// Shutdown mid-fan-out: leave the offset uncommitted so the
				// fan-out restarts after redelivery. Telegram duplicates to
				// the already-notified subscribers are acceptable.
				return kafka.Retry
			case <-p.clock.After(sendDelay):
			}
		}

		if sub.TelegramChatID == "" {
			// Nothing to deliver to; not a delivery failure.
			slog.Warn("Subscription has no Telegram chat id, skipping",
				"subscription_id", sub.SubscriptionID,
				"user", sub.Username,
			)
			continue
		}

		if err := p.sender.SendNotification(ctx, sub.TelegramChatID, &event); err != nil {
			failed++
			slog.Error("Notification delivery failed",
				"subscription_id", sub.SubscriptionID,
				"event_id", event.EventID,
				"error", err,
			)
			p.record(ctx, sub.SubscriptionID, event.EventID, store.NotificationFailed, err.Error())
			continue
		}

		sent++
		p.metrics.IncrementCustom("notifications_sent")
		p.record(ctx, sub.SubscriptionID, event.EventID, store.NotificationSent, "")
	}

	slog.Info("Notification fan-out completed",
		"event_id", event.EventID,
		"subscribers", len(subs),
		"sent", sent,
		"failed", failed,
	)

	if failed > 0 {
		p.metrics.RecordError()
	}
	p.metrics.RecordProcessed(time.Since(start))
	return kafka.Ack
}

// record appends the delivery outcome. Audit failures are logged only; the
// notification itself already happened or failed on its own terms.
func (p *Processor) record(ctx context.Context, subscriptionID, eventID, status, errMsg string) {
	if err := p.storage.InsertNotificationRecord(ctx, subscriptionID, eventID, status, errMsg); err != nil {
		slog.Error("Failed to record notification outcome",
			"subscription_id", subscriptionID,
			"event_id", eventID,
			"error", err,
		)
	}
}
