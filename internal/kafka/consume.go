package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// DefaultRetryDelay spaces reprocessing attempts for a message that hit
	// a transient failure.
	DefaultRetryDelay = 2 * time.Second
	// DefaultFetchErrorDelay spaces fetch attempts while the broker is
	// unreachable.
	DefaultFetchErrorDelay = time.Second
)

// Fetcher is the reader surface the consume loop drives.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// HandlerFunc processes one message body and decides its disposition.
type HandlerFunc func(ctx context.Context, body []byte) Disposition

// ConsumeLoop drives a sequential consume loop with the pipeline's commit
// discipline. A message that resolves to Retry is reprocessed in place:
// FetchMessage advances the reader's position whether or not the offset was
// committed, and the group offset is a single watermark, so fetching past an
// unresolved message and committing a later one would silently drop it.
type ConsumeLoop struct {
	Reader Fetcher
	Handle HandlerFunc

	// RetryDelay and FetchErrorDelay default when zero. Tests shorten them.
	RetryDelay      time.Duration
	FetchErrorDelay time.Duration
}

// Run consumes until the context is cancelled. The offset is committed only
// once its message resolves to Ack or RejectNoRequeue.
func (l *ConsumeLoop) Run(ctx context.Context) error {
	retryDelay := l.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	fetchErrorDelay := l.FetchErrorDelay
	if fetchErrorDelay <= 0 {
		fetchErrorDelay = DefaultFetchErrorDelay
	}

	for {
		msg, err := l.Reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to fetch message", "error", err)
			if !sleep(ctx, fetchErrorDelay) {
				return nil
			}
			continue
		}

		for {
			disposition := l.Handle(ctx, msg.Value)
			if disposition.Commits() {
				if err := l.Reader.Commit(ctx, msg); err != nil {
					slog.Error("Failed to commit offset",
						"partition", msg.Partition,
						"offset", msg.Offset,
						"error", err,
					)
				}
				break
			}

			slog.Warn("Transient failure, reprocessing message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"retry_in", retryDelay,
			)
			if !sleep(ctx, retryDelay) {
				return nil
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// sleep waits for d, returning false when the context ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
