package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/metrics"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/ratelimit"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/store"
)

// sourceReloadInterval is how long the scheduler waits before re-checking
// the catalog when no active sources exist.
const sourceReloadInterval = 5 * time.Minute

// Collector owns the capture cycle for all active sources.
type Collector struct {
	storage      CaptureStorage
	limiter      RateLimiter
	client       CaptureClient
	publisher    RawPublisher
	newPublisher PublisherFactory
	metrics      metrics.Recorder
	clock        clockwork.Clock

	pubMu sync.Mutex
}

// New creates a collector. The factory is used to rebuild the publisher
// after a failed publish; pass nil to disable reconnection.
func New(storage CaptureStorage, limiter RateLimiter, client CaptureClient, publisher RawPublisher, factory PublisherFactory, recorder metrics.Recorder) *Collector {
	if recorder == nil {
		recorder = &metrics.NoOp{}
	}
	return &Collector{
		storage:      storage,
		limiter:      limiter,
		client:       client,
		publisher:    publisher,
		newPublisher: factory,
		metrics:      recorder,
		clock:        clockwork.NewRealClock(),
	}
}

// SetClock replaces the scheduler clock. Used by tests.
func (c *Collector) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// Run loads the active sources and schedules one capture loop per source
// until the context is cancelled. When the catalog is empty it re-checks
// periodically instead of exiting.
func (c *Collector) Run(ctx context.Context) error {
	for {
		sources, err := c.storage.GetActiveSources(ctx)
		if err != nil {
			return fmt.Errorf("failed to load active sources: %w", err)
		}

		if len(sources) == 0 {
			slog.Warn("No active sources configured, re-checking later", "retry_in", sourceReloadInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(sourceReloadInterval):
				continue
			}
		}

		slog.Info("Scheduling capture loops", "sources", len(sources))

		var wg sync.WaitGroup
		for _, src := range sources {
			wg.Add(1)
			go func(src store.Source) {
				defer wg.Done()
				c.runSourceLoop(ctx, src)
			}(src)
		}
		wg.Wait()
		return ctx.Err()
	}
}

// runSourceLoop captures from one source on its configured interval. The
// first capture runs immediately so a fresh deployment produces data
// without waiting a full interval.
func (c *Collector) runSourceLoop(ctx context.Context, src store.Source) {
	interval := time.Duration(src.FrequencySec) * time.Second
	if interval <= 0 {
		interval = ratelimit.MinWindow
	}

	slog.Info("Capture loop started", "source", src.Name, "interval", interval)

	c.CaptureOnce(ctx, src)

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Capture loop stopped", "source", src.Name)
			return
		case <-ticker.Chan():
			c.CaptureOnce(ctx, src)
		}
	}
}

// CaptureOnce runs a single capture cycle for one source: rate-limit
// check, fetch, idempotent insert, and (only for a novel capture) arming
// the limiter and publishing downstream. Errors are logged, never fatal;
// the next tick tries again.
func (c *Collector) CaptureOnce(ctx context.Context, src store.Source) {
	start := time.Now()

	held, err := c.limiter.Held(ctx, src.SourceID)
	if err != nil {
		// Degraded limiter must not stop capturing.
		slog.Warn("Rate limit check failed, proceeding", "source", src.Name, "error", err)
	} else if held {
		slog.Debug("Rate limit window held, skipping", "source", src.Name)
		return
	}

	capture, err := c.client.Capture(ctx, src)
	if err != nil {
		slog.Error("Capture failed", "source", src.Name, "error", err)
		c.metrics.RecordError()
		return
	}
	if capture == nil {
		slog.Info("No data from source", "source", src.Name)
		return
	}
	c.metrics.RecordReceived()

	payload, err := json.Marshal(capture.RawPayload)
	if err != nil {
		slog.Error("Failed to marshal raw payload", "source", src.Name, "error", err)
		c.metrics.RecordError()
		return
	}

	rawID, err := c.storage.InsertRawCaptureIdempotent(ctx, src.SourceID, capture.FetchedAt, payload, capture.RawHash)
	if err != nil {
		slog.Error("Failed to store raw capture", "source", src.Name, "error", err)
		c.metrics.RecordError()
		return
	}
	if rawID == nil {
		slog.Info("Duplicate content, skipping", "source", src.Name, "raw_hash", capture.RawHash[:8])
		c.metrics.IncrementCustom("captures_deduplicated")
		return
	}
	capture.RawID = *rawID

	// The window is armed only after a successful novel insert, so an
	// earlier failure never suppresses the next attempt.
	window := ratelimit.WindowFor(src.FrequencySec)
	if err := c.limiter.Arm(ctx, src.SourceID, window); err != nil {
		slog.Warn("Failed to arm rate limit window", "source", src.Name, "error", err)
	}

	message, err := json.Marshal(capture)
	if err != nil {
		slog.Error("Failed to marshal capture message", "source", src.Name, "error", err)
		c.metrics.RecordError()
		return
	}

	if err := c.publish(ctx, []byte(capture.RawID), message); err != nil {
		// The row stays persisted for operators, but this capture is lost to
		// the pipeline: the content hash suppresses a re-capture, so only
		// fresh content from the source travels downstream after this.
		slog.Error("Failed to publish capture, row kept",
			"source", src.Name, "raw_id", capture.RawID, "error", err)
		c.metrics.RecordError()
		return
	}
	c.metrics.RecordPublished()
	c.metrics.RecordProcessed(time.Since(start))

	slog.Info("Novel capture published",
		"source", src.Name,
		"raw_id", capture.RawID,
		"raw_hash", capture.RawHash[:8],
	)
}

// publish sends one message, retrying once over a fresh broker connection
// when the first attempt fails.
func (c *Collector) publish(ctx context.Context, key, value []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	err := c.publisher.Publish(ctx, key, value)
	if err == nil {
		return nil
	}
	if c.newPublisher == nil {
		return err
	}

	slog.Warn("Publish failed, reconnecting to broker", "error", err)
	fresh, ferr := c.newPublisher()
	if ferr != nil {
		return fmt.Errorf("publish failed and reconnect failed: %w", err)
	}
	c.publisher.Close()
	c.publisher = fresh

	return c.publisher.Publish(ctx, key, value)
}
