// Package telegram sends alert notifications through the Telegram Bot API
// using plain HTTP, formatting events as HTML messages.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	sendTimeout    = 10 * time.Second

	// descriptionPreviewLen caps the description shown in a message.
	descriptionPreviewLen = 200
)

var typeEmoji = map[string]string{
	events.TypeSismo:  "🌍",
	events.TypeLluvia: "🌧️",
	events.TypeCorte:  "⚡",
}

var severityEmoji = map[string]string{
	events.SeverityAlta:  "🔴",
	events.SeverityMedia: "🟡",
	events.SeverityBaja:  "🟢",
}

// Client talks to the Telegram Bot API.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// NewClientWith creates a client against a custom endpoint. Used by tests.
func NewClientWith(token, baseURL string, httpClient *http.Client) *Client {
	return &Client{token: token, baseURL: baseURL, client: httpClient}
}

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// SendNotification formats the event and sends it to one chat.
func (c *Client) SendNotification(ctx context.Context, chatID string, event *events.NormalizedEvent) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", FormatMessage(event))
	form.Set("parse_mode", "HTML")

	if err := c.call(ctx, "sendMessage", form, nil); err != nil {
		return fmt.Errorf("failed to send notification to chat %s: %w", chatID, err)
	}

	slog.Info("Telegram notification sent", "chat_id", chatID, "event_id", event.EventID)
	return nil
}

// TestConnection calls getMe to validate the bot token.
func (c *Client) TestConnection(ctx context.Context) error {
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := c.call(ctx, "getMe", url.Values{}, &me); err != nil {
		return fmt.Errorf("telegram connection check failed: %w", err)
	}

	slog.Info("Telegram bot connected", "bot_username", me.Username, "bot_id", me.ID)
	return nil
}

func (c *Client) call(ctx context.Context, method string, form url.Values, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("malformed %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s rejected: %s", method, envelope.Description)
	}

	if result != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// FormatMessage renders a confirmed event as a Telegram HTML message.
func FormatMessage(e *events.NormalizedEvent) string {
	tEmoji := typeEmoji[e.Type]
	if tEmoji == "" {
		tEmoji = "📢"
	}
	sEmoji := severityEmoji[e.Severity]
	if sEmoji == "" {
		sEmoji = "⚪"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>ALERTA: %s</b>\n\n", tEmoji, strings.ToUpper(e.Type))
	fmt.Fprintf(&b, "%s <b>Severidad:</b> %s\n", sEmoji, e.Severity)
	fmt.Fprintf(&b, "📍 <b>Zona:</b> %s\n", e.Zone)
	fmt.Fprintf(&b, "⭐ <b>Confianza:</b> %d/100\n\n", e.Score)
	fmt.Fprintf(&b, "<b>%s</b>\n", e.Title)

	if e.Description != "" {
		preview := e.Description
		if len(preview) > descriptionPreviewLen {
			// Back up so the cut never splits a multi-byte rune.
			cut := descriptionPreviewLen
			for cut > 0 && !utf8.RuneStart(preview[cut]) {
				cut--
			}
			preview = preview[:cut] + "..."
		}
		fmt.Fprintf(&b, "\n%s\n", preview)
	}

	if e.EvidenceURL != "" {
		fmt.Fprintf(&b, "\n🔗 <a href='%s'>Ver fuente oficial</a>", e.EvidenceURL)
	}

	b.WriteString("\n\n<i>Sistema de Alertas Comunitarias Verificadas</i>")
	return b.String()
}
