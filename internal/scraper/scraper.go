// Package scraper implements the capture collaborator: it fetches a
// source's page and extracts title, date and content using the source's
// parser configuration. The content hash covers (title, date, url) only,
// so trivial re-renders of the same page do not count as new data.
package scraper

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/store"
)

const (
	fetchTimeout = 30 * time.Second
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// maxBodyBytes caps how much of a page is read for extraction.
	maxBodyBytes = 2 << 20
)

// Default selectors used when a source has no parser configuration.
const (
	defaultTitleSelector   = "h1"
	defaultDateSelector    = ".date, .fecha"
	defaultContentSelector = ".content, .contenido, p"
)

// Scraper fetches and extracts capture payloads.
type Scraper struct {
	client *http.Client
}

// NewScraper creates a scraper with the standard fetch timeout.
func NewScraper() *Scraper {
	return &Scraper{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// NewScraperWithClient creates a scraper with a custom HTTP client. Used by
// tests.
func NewScraperWithClient(client *http.Client) *Scraper {
	return &Scraper{client: client}
}

// Capture fetches the source's page and extracts a raw payload. Returns
// (nil, nil) when the page yields no detectable title: that is "no data",
// not an error.
func (s *Scraper) Capture(ctx context.Context, src store.Source) (*events.RawCapture, error) {
	slog.Info("Capture started", "source", src.Name, "url", src.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", src.BaseURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed for %s: %w", src.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch returned status %d for %s", resp.StatusCode, src.BaseURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body from %s: %w", src.BaseURL, err)
	}

	page := string(body)

	title := ExtractFirst(page, selectorOr(src.ParserConfig, "title_selector", defaultTitleSelector))
	if title == "" {
		// Alternate headings before giving up.
		title = ExtractFirst(page, "h1, h2")
	}
	if title == "" {
		slog.Warn("No title found, treating as no data", "source", src.Name, "url", src.BaseURL)
		return nil, nil
	}

	date := ExtractFirst(page, selectorOr(src.ParserConfig, "date_selector", defaultDateSelector))
	content := ExtractFirst(page, selectorOr(src.ParserConfig, "content_selector", defaultContentSelector))

	now := time.Now().UTC()
	payload := events.RawPayload{
		Title:     title,
		Date:      date,
		Content:   content,
		URL:       src.BaseURL,
		Domain:    src.Domain,
		ScrapedAt: now.Format(time.RFC3339),
	}

	capture := &events.RawCapture{
		SourceID:   src.SourceID,
		FetchedAt:  now,
		RawPayload: payload,
		RawHash:    events.RawHash(title, date, src.BaseURL),
	}

	slog.Info("Capture completed",
		"source", src.Name,
		"raw_hash", capture.RawHash[:8],
		"title", truncate(title, 50),
	)

	return capture, nil
}

func selectorOr(cfg map[string]string, key, fallback string) string {
	if cfg != nil && cfg[key] != "" {
		return cfg[key]
	}
	return fallback
}

// ExtractFirst evaluates a comma-separated selector list against the page
// and returns the first non-empty match, trimmed and entity-decoded.
// Selectors are deliberately minimal: "tag" matches the first element of
// that tag, ".class" matches the first element carrying that class.
func ExtractFirst(page, selectors string) string {
	for _, sel := range strings.Split(selectors, ",") {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		var text string
		if strings.HasPrefix(sel, ".") {
			text = extractByClass(page, sel[1:])
		} else {
			text = extractByTag(page, sel)
		}
		if text != "" {
			return text
		}
	}
	return ""
}

func extractByTag(page, tag string) string {
	re := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `(?:\s[^>]*)?>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	m := re.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return cleanText(m[1])
}

func extractByClass(page, class string) string {
	re := regexp.MustCompile(`(?is)<(\w+)[^>]*class="[^"]*\b` + regexp.QuoteMeta(class) + `\b[^"]*"[^>]*>(.*?)</`)
	m := re.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return cleanText(m[2])
}

var tagStripper = regexp.MustCompile(`(?s)<[^>]*>`)

func cleanText(fragment string) string {
	text := tagStripper.ReplaceAllString(fragment, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
