// Package verifier consumes normalized events, computes a confidence score
// from a fixed rule set, persists the verdict, and publishes confirmed
// events for notification.
package verifier

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
)

// TrustedDomains is the allowlist of official sources. Evidence hosted on
// any of them earns the trusted-domain points.
var TrustedDomains = []string{
	"igepn.edu.ec",
	"gestionderiesgos.gob.ec",
	"inamhi.gob.ec",
	"cnel.gob.ec",
	"epmaps.gob.ec",
	"bomberos.gob.ec",
}

// Rule point values and status thresholds.
const (
	PointsTrustedDomain   = 40
	PointsReachableURL    = 15
	PointsRecentTimestamp = 15
	PointsRequiredFields  = 7
	PointsDescription     = 3
	PointsCrossValidation = 20

	RecencyWindow = 24 * time.Hour

	ScoreConfirmado     = 70
	ScoreEnVerificacion = 40
)

// urlCheckTimeout bounds the evidence reachability probe.
const urlCheckTimeout = 5 * time.Second

// SourceCounter reports how many distinct sources corroborate an event.
type SourceCounter interface {
	CountDistinctSources(ctx context.Context, dedupHash string) (int, error)
}

// Scorer evaluates the verification rules against one event. Every rule
// degrades to zero points on failure; scoring never errors.
type Scorer struct {
	counter SourceCounter
	client  *http.Client
	clock   clockwork.Clock
}

// NewScorer creates a scorer with the standard probe timeout.
func NewScorer(counter SourceCounter) *Scorer {
	return &Scorer{
		counter: counter,
		client:  &http.Client{Timeout: urlCheckTimeout},
		clock:   clockwork.NewRealClock(),
	}
}

// NewScorerWith creates a scorer with injected collaborators. Used by tests.
func NewScorerWith(counter SourceCounter, client *http.Client, clock clockwork.Clock) *Scorer {
	return &Scorer{counter: counter, client: client, clock: clock}
}

// Score applies all rules and returns the total confidence score.
func (s *Scorer) Score(ctx context.Context, e *events.NormalizedEvent) int {
	score := s.ruleTrustedDomain(e)
	score += s.ruleReachableURL(ctx, e)
	score += s.ruleRecentTimestamp(e)
	score += s.ruleCompleteFields(e)
	score += s.ruleCrossValidation(ctx, e)

	slog.Info("Score calculated", "event_id", e.EventID, "score", score)
	return score
}

// StatusFor maps a score to a verification status.
func StatusFor(score int) string {
	switch {
	case score >= ScoreConfirmado:
		return events.StatusConfirmado
	case score >= ScoreEnVerificacion:
		return events.StatusEnVerificacion
	default:
		return events.StatusNoVerificado
	}
}

func (s *Scorer) ruleTrustedDomain(e *events.NormalizedEvent) int {
	for _, domain := range TrustedDomains {
		if strings.Contains(e.EvidenceURL, domain) {
			slog.Debug("Rule passed", "rule", "trusted_domain", "event_id", e.EventID)
			return PointsTrustedDomain
		}
	}
	return 0
}

func (s *Scorer) ruleReachableURL(ctx context.Context, e *events.NormalizedEvent) int {
	if e.EvidenceURL == "" {
		return 0
	}

	probeCtx, cancel := context.WithTimeout(ctx, urlCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, e.EvidenceURL, nil)
	if err != nil {
		return 0
	}
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Debug("Evidence URL unreachable", "event_id", e.EventID, "error", err)
		return 0
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0
	}
	return PointsReachableURL
}

func (s *Scorer) ruleRecentTimestamp(e *events.NormalizedEvent) int {
	if e.OccurredAt.IsZero() {
		return 0
	}
	age := s.clock.Now().UTC().Sub(e.OccurredAt.UTC())
	if age <= RecencyWindow {
		return PointsRecentTimestamp
	}
	return 0
}

func (s *Scorer) ruleCompleteFields(e *events.NormalizedEvent) int {
	score := 0
	if e.Type != "" && e.Zone != "" && e.Severity != "" && e.Title != "" && e.EvidenceURL != "" {
		score += PointsRequiredFields
	}
	if e.Description != "" {
		score += PointsDescription
	}
	return score
}

func (s *Scorer) ruleCrossValidation(ctx context.Context, e *events.NormalizedEvent) int {
	if e.DedupHash == "" {
		return 0
	}
	count, err := s.counter.CountDistinctSources(ctx, e.DedupHash)
	if err != nil {
		slog.Warn("Cross-validation lookup failed", "event_id", e.EventID, "error", err)
		return 0
	}
	if count >= 2 {
		slog.Debug("Rule passed", "rule", "cross_validation", "event_id", e.EventID, "sources", count)
		return PointsCrossValidation
	}
	return 0
}
