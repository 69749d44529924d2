package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
)

func confirmedEvent() *events.NormalizedEvent {
	return &events.NormalizedEvent{
		EventID:     "evt-1",
		Type:        events.TypeSismo,
		Zone:        "Pichincha",
		Severity:    events.SeverityAlta,
		Title:       "Fuerte sismo en Quito",
		Description: "Movimiento percibido en el norte de la ciudad.",
		EvidenceURL: "https://igepn.edu.ec/ultimos-sismos",
		Status:      events.StatusConfirmado,
		Score:       85,
	}
}

func TestSendNotification(t *testing.T) {
	var gotPath, gotChatID, gotParseMode, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotChatID = r.FormValue("chat_id")
		gotParseMode = r.FormValue("parse_mode")
		gotText = r.FormValue("text")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	c := NewClientWith("token123", srv.URL, &http.Client{Timeout: time.Second})
	if err := c.SendNotification(context.Background(), "chat-9", confirmedEvent()); err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}

	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotChatID != "chat-9" || gotParseMode != "HTML" {
		t.Errorf("chat_id = %q, parse_mode = %q", gotChatID, gotParseMode)
	}
	if !strings.Contains(gotText, "ALERTA: SISMO") {
		t.Errorf("text missing alert header: %q", gotText)
	}
}

func TestSendNotification_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	c := NewClientWith("token123", srv.URL, &http.Client{Timeout: time.Second})
	err := c.SendNotification(context.Background(), "missing", confirmedEvent())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v, want chat not found", err)
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken123/getMe" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"alertas_bot"}}`))
	}))
	defer srv.Close()

	c := NewClientWith("token123", srv.URL, &http.Client{Timeout: time.Second})
	if err := c.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection() error = %v", err)
	}
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(confirmedEvent())

	for _, want := range []string{
		"🌍 <b>ALERTA: SISMO</b>",
		"🔴 <b>Severidad:</b> Alta",
		"📍 <b>Zona:</b> Pichincha",
		"⭐ <b>Confianza:</b> 85/100",
		"<b>Fuerte sismo en Quito</b>",
		"<a href='https://igepn.edu.ec/ultimos-sismos'>Ver fuente oficial</a>",
		"<i>Sistema de Alertas Comunitarias Verificadas</i>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessage_TruncatesDescription(t *testing.T) {
	e := confirmedEvent()
	e.Description = strings.Repeat("x", 300)

	msg := FormatMessage(e)
	if !strings.Contains(msg, strings.Repeat("x", 200)+"...") {
		t.Error("long description was not truncated to a preview")
	}
	if strings.Contains(msg, strings.Repeat("x", 201)) {
		t.Error("preview exceeds the 200 character cap")
	}
}

func TestFormatMessage_PreviewNeverSplitsRunes(t *testing.T) {
	e := confirmedEvent()
	// A two-byte "ñ" straddles the 200-byte preview boundary.
	e.Description = strings.Repeat("x", 199) + strings.Repeat("ñ", 50)

	msg := FormatMessage(e)
	if !utf8.ValidString(msg) {
		t.Error("preview cut produced invalid UTF-8")
	}
	if !strings.Contains(msg, strings.Repeat("x", 199)+"...") {
		t.Error("preview should back up to the previous rune boundary")
	}
}

func TestFormatMessage_OmitsEmptySections(t *testing.T) {
	e := confirmedEvent()
	e.Description = ""
	e.EvidenceURL = ""

	msg := FormatMessage(e)
	if strings.Contains(msg, "Ver fuente oficial") {
		t.Error("message links a source without an evidence URL")
	}
}

func TestFormatMessage_UnknownTypeFallbackEmoji(t *testing.T) {
	e := confirmedEvent()
	e.Type = "otro"
	e.Severity = ""

	msg := FormatMessage(e)
	if !strings.Contains(msg, "📢") || !strings.Contains(msg, "⚪") {
		t.Errorf("fallback emoji missing:\n%s", msg)
	}
}
