// Package events defines the JSON message schemas exchanged between
// pipeline stages over Kafka, plus the hash derivations that back the
// store's uniqueness constraints.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event types produced by configured sources.
const (
	TypeSismo  = "sismo"
	TypeLluvia = "lluvia"
	TypeCorte  = "corte"
)

// Severity levels inferred during normalization.
const (
	SeverityBaja  = "Baja"
	SeverityMedia = "Media"
	SeverityAlta  = "Alta"
)

// Verification statuses. Events move NO_VERIFICADO -> EN_VERIFICACION ->
// CONFIRMADO based on score; a CONFIRMADO event is never demoted.
const (
	StatusNoVerificado   = "NO_VERIFICADO"
	StatusEnVerificacion = "EN_VERIFICACION"
	StatusConfirmado     = "CONFIRMADO"
)

// Queue names for the three pipeline hops.
const (
	TopicRawEvents        = "raw_events"
	TopicNormalizedEvents = "normalized_events"
	TopicConfirmedEvents  = "confirmed_events"
)

// RawPayload is the opaque capture payload returned by a scraper.
type RawPayload struct {
	Title     string `json:"title"`
	Date      string `json:"date,omitempty"`
	Content   string `json:"content,omitempty"`
	URL       string `json:"url"`
	Domain    string `json:"domain,omitempty"`
	ScrapedAt string `json:"scraped_at"`
}

// RawCapture is the body published to the raw_events topic: one fetch
// attempt's payload plus its content hash.
type RawCapture struct {
	RawID      string     `json:"raw_id,omitempty"`
	SourceID   string     `json:"source_id"`
	FetchedAt  time.Time  `json:"fetched_at"`
	RawPayload RawPayload `json:"raw_payload"`
	RawHash    string     `json:"raw_hash"`
}

// NormalizedEvent is the canonical event record. It is the body of both the
// normalized_events topic and, annotated with final score and status, the
// confirmed_events topic.
type NormalizedEvent struct {
	EventID     string    `json:"event_id,omitempty"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Zone        string    `json:"zone"`
	Severity    string    `json:"severity,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	EvidenceURL string    `json:"evidence_url"`
	SourceID    string    `json:"source_id"`
	DedupHash   string    `json:"dedup_hash"`
	Status      string    `json:"status"`
	Score       int       `json:"score"`
}

// ValidTypes lists the accepted event types.
var ValidTypes = []string{TypeSismo, TypeLluvia, TypeCorte}

// ValidSeverities lists the accepted severity levels.
var ValidSeverities = []string{SeverityBaja, SeverityMedia, SeverityAlta}

// IsValidType reports whether t is a known event type.
func IsValidType(t string) bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IsValidSeverity reports whether s is a known severity. An absent severity
// (empty string) is valid.
func IsValidSeverity(s string) bool {
	if s == "" {
		return true
	}
	for _, v := range ValidSeverities {
		if s == v {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a normalized event before it
// is persisted. A failure here aborts processing of the message; it must
// never reach the store.
func (e *NormalizedEvent) Validate() error {
	if !IsValidType(e.Type) {
		return fmt.Errorf("invalid event type: %q", e.Type)
	}
	if !IsValidSeverity(e.Severity) {
		return fmt.Errorf("invalid severity: %q", e.Severity)
	}
	if e.Title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if len(e.Title) > 500 {
		return fmt.Errorf("title exceeds 500 characters")
	}
	if len(e.Description) > 1000 {
		return fmt.Errorf("description exceeds 1000 characters")
	}
	if e.SourceID == "" {
		return fmt.Errorf("source_id cannot be empty")
	}
	if e.DedupHash == "" {
		return fmt.Errorf("dedup_hash cannot be empty")
	}
	return nil
}

// RawHash derives the content hash of a capture from (title, date, url).
// Deliberately excludes the page body so trivial re-renders of the same
// page do not count as new data.
func RawHash(title, date, url string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s", title, date, url)))
	return hex.EncodeToString(sum[:])
}

// DedupHash derives the canonical dedup key from (type, zone, calendar day
// of occurrence). Independent reports of the same event type, in the same
// zone, on the same day collapse into one record regardless of source.
func DedupHash(eventType, zone string, occurredAt time.Time) string {
	day := occurredAt.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s", eventType, zone, day)))
	return hex.EncodeToString(sum[:])
}
