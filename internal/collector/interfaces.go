// Package collector runs the capture stage: one job per active source on
// its configured interval, content-hash deduplication, and publication of
// novel captures to the raw_events topic.
package collector

import (
	"context"
	"time"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/store"
)

// CaptureClient fetches one capture attempt from a source. A nil capture
// with nil error means the source had no detectable data this cycle.
type CaptureClient interface {
	Capture(ctx context.Context, src store.Source) (*events.RawCapture, error)
}

// CaptureStorage persists raw captures and exposes the source catalog.
type CaptureStorage interface {
	GetActiveSources(ctx context.Context) ([]store.Source, error)
	InsertRawCaptureIdempotent(ctx context.Context, sourceID string, fetchedAt time.Time, rawPayload []byte, rawHash string) (*string, error)
}

// RateLimiter is the per-source capture window.
type RateLimiter interface {
	Held(ctx context.Context, sourceID string) (bool, error)
	Arm(ctx context.Context, sourceID string, window time.Duration) error
}

// RawPublisher publishes raw capture messages to the raw_events topic.
type RawPublisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// PublisherFactory builds a fresh publisher. Used to retry a failed publish
// once over a new broker connection.
type PublisherFactory func() (RawPublisher, error)
