// Package ratelimit provides the per-source capture window: a short-TTL
// Redis key that suppresses re-capture of a source before its configured
// interval elapses. It is a mutual-exclusion window, not a true lock: two
// captures racing inside the window degrade to a harmless duplicate that
// the raw_hash constraint absorbs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rate_limit:"

// MinWindow is the floor for the capture window TTL.
const MinWindow = 60 * time.Second

// Limiter wraps a Redis client with the rate-limit key discipline.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a limiter over an established Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// KeyFor returns the rate-limit key for a source.
func KeyFor(sourceID string) string {
	return keyPrefix + sourceID
}

// WindowFor clamps a source's polling interval to the TTL floor.
func WindowFor(frequencySec int) time.Duration {
	window := time.Duration(frequencySec) * time.Second
	if window < MinWindow {
		return MinWindow
	}
	return window
}

// Held reports whether the source's capture window is still open. A held
// window means the collector skips this cycle without a network call.
func (l *Limiter) Held(ctx context.Context, sourceID string) (bool, error) {
	n, err := l.client.Exists(ctx, KeyFor(sourceID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit for %s: %w", sourceID, err)
	}
	return n > 0, nil
}

// Arm opens the capture window for a source. Called only after a
// successful, novel capture: skipped and duplicate cycles do not reset the
// window, which allows faster retry when a source is flapping.
func (l *Limiter) Arm(ctx context.Context, sourceID string, window time.Duration) error {
	if err := l.client.Set(ctx, KeyFor(sourceID), "1", window).Err(); err != nil {
		return fmt.Errorf("failed to arm rate limit for %s: %w", sourceID, err)
	}
	return nil
}
