// Package normalizer consumes raw captures, extracts structured fields
// from their free text, and persists canonical event records, publishing
// only the first report of each real-world event downstream.
package normalizer

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
)

// keywordRule maps a lowercase keyword to its category. Rules are evaluated
// in order; the first keyword found in the text wins.
type keywordRule struct {
	keyword  string
	category string
}

// zoneRules maps Ecuadorian place names to their province. City names are
// listed after their province so "sismo en Quito, Pichincha" resolves the
// same either way.
var zoneRules = []keywordRule{
	{"pichincha", "Pichincha"},
	{"quito", "Pichincha"},
	{"guayas", "Guayas"},
	{"guayaquil", "Guayas"},
	{"azuay", "Azuay"},
	{"cuenca", "Azuay"},
	{"manabi", "Manabi"},
	{"manabí", "Manabi"},
	{"esmeraldas", "Esmeraldas"},
	{"tungurahua", "Tungurahua"},
	{"ambato", "Tungurahua"},
	{"chimborazo", "Chimborazo"},
	{"riobamba", "Chimborazo"},
}

// ZoneDefault is used when no place name appears in the text.
const ZoneDefault = "Nacional"

// severityRules orders the high tier before the medium tier, so a text
// carrying keywords from both resolves to Alta.
var severityRules = []keywordRule{
	{"fuerte", events.SeverityAlta},
	{"intenso", events.SeverityAlta},
	{"severo", events.SeverityAlta},
	{"grave", events.SeverityAlta},
	{"critico", events.SeverityAlta},
	{"crítico", events.SeverityAlta},
	{"emergencia", events.SeverityAlta},
	{"moderado", events.SeverityMedia},
	{"medio", events.SeverityMedia},
	{"considerable", events.SeverityMedia},
}

// ExtractZone returns the province mentioned in the text, or ZoneDefault.
func ExtractZone(text string) string {
	return matchKeyword(text, zoneRules, ZoneDefault)
}

// ExtractSeverity classifies the text's severity. Defaults to Baja.
func ExtractSeverity(text string) string {
	return matchKeyword(text, severityRules, events.SeverityBaja)
}

func matchKeyword(text string, rules []keywordRule, fallback string) string {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if strings.Contains(lower, r.keyword) {
			return r.category
		}
	}
	return fallback
}

// dateLayouts are tried in order when parsing a scraped date string.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseOccurredAt resolves the event timestamp: the scraped date string if
// parseable, else the scrape timestamp, else now. Always UTC.
func ParseOccurredAt(date, scrapedAt string, now time.Time) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(date)); err == nil {
			return t.UTC()
		}
	}
	if t, err := time.Parse(time.RFC3339, scrapedAt); err == nil {
		return t.UTC()
	}
	return now.UTC()
}

const (
	maxTitleLen       = 500
	maxDescriptionLen = 1000
)

// BuildEvent assembles the canonical event from a raw capture and the
// source's event type. Field extraction scans title and content together.
func BuildEvent(capture *events.RawCapture, eventType string, now time.Time) *events.NormalizedEvent {
	text := capture.RawPayload.Title + " " + capture.RawPayload.Content

	zone := ExtractZone(text)
	severity := ExtractSeverity(text)
	occurredAt := ParseOccurredAt(capture.RawPayload.Date, capture.RawPayload.ScrapedAt, now)

	title := strings.TrimSpace(capture.RawPayload.Title)
	if title == "" {
		title = "Evento " + eventType + " detectado"
	}

	return &events.NormalizedEvent{
		Type:        eventType,
		OccurredAt:  occurredAt,
		Zone:        zone,
		Severity:    severity,
		Title:       truncate(title, maxTitleLen),
		Description: truncate(strings.TrimSpace(capture.RawPayload.Content), maxDescriptionLen),
		EvidenceURL: capture.RawPayload.URL,
		SourceID:    capture.SourceID,
		DedupHash:   events.DedupHash(eventType, zone, occurredAt),
		Status:      events.StatusNoVerificado,
	}
}

// truncate cuts s to at most n bytes, backing up so a multi-byte rune is
// never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
