package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jordan-wright/email"
)

func testAlert() Alert {
	return Alert{
		Subject:   "Stock Alert",
		Body:      "https://shop.example.com/item/42",
		URL:       "https://shop.example.com/item/42",
		Host:      "shop.example.com",
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestRouter_FanOutContinuesOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	failing := Func(func(context.Context, Alert) error {
		calls = append(calls, "failing")
		return boom
	})
	ok := Func(func(context.Context, Alert) error {
		calls = append(calls, "ok")
		return nil
	})

	r := NewRouter(nil, failing, ok)
	err := r.Notify(context.Background(), testAlert())
	if !errors.Is(err, boom) {
		t.Fatalf("err: got %v, want %v", err, boom)
	}
	if len(calls) != 2 || calls[1] != "ok" {
		t.Errorf("calls: got %v", calls)
	}
	if r.Len() != 2 {
		t.Errorf("Len: got %d, want 2", r.Len())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestStdout_JSONLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Notify(context.Background(), testAlert()); err != nil {
		t.Fatal(err)
	}

	var env struct {
		Type string `json:"type"`
		Data Alert  `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "alert" {
		t.Errorf("Type: got %q, want %q", env.Type, "alert")
	}
	if env.Data.URL != testAlert().URL {
		t.Errorf("URL: got %q", env.Data.URL)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("expected trailing newline")
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q", r.Header.Get("Content-Type"))
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits: got %d, want 2", hits.Load())
	}
}

func TestWebhook_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	err := w.Notify(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "all retries exhausted") {
		t.Fatalf("err: got %v", err)
	}
}

type sentMail struct {
	to   []string
	from string
	subj string
	body string
	auth bool
}

func TestEmail_OneMessagePerRecipient(t *testing.T) {
	m, err := NewEmail(SMTPConfig{
		Host: "smtp.example.com", Port: 587, Sender: "bot@example.com",
		Password: "secret", Recipients: []string{"a@example.com", "b@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var sent []sentMail
	var addrs []string
	m.send = func(e *email.Email, addr string, a smtp.Auth) error {
		addrs = append(addrs, addr)
		sent = append(sent, sentMail{to: e.To, from: e.From, subj: e.Subject, body: string(e.Text), auth: a != nil})
		return nil
	}

	if err := m.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent: got %d, want 2", len(sent))
	}
	if sent[0].to[0] != "a@example.com" || sent[1].to[0] != "b@example.com" {
		t.Errorf("recipients: got %v, %v", sent[0].to, sent[1].to)
	}
	if sent[0].from != "bot@example.com" || sent[0].subj != "Stock Alert" {
		t.Errorf("header: got from=%q subject=%q", sent[0].from, sent[0].subj)
	}
	if sent[0].body != testAlert().Body {
		t.Errorf("body: got %q", sent[0].body)
	}
	if !sent[0].auth {
		t.Error("expected PLAIN auth")
	}
	if addrs[0] != "smtp.example.com:587" {
		t.Errorf("addr: got %q", addrs[0])
	}
}

func TestEmail_FallsBackWithoutAuth(t *testing.T) {
	m, err := NewEmail(SMTPConfig{Host: "localhost", Port: 25, Sender: "bot@example.com", Recipients: []string{"a@example.com"}})
	if err != nil {
		t.Fatal(err)
	}
	var authFlags []bool
	m.send = func(_ *email.Email, _ string, a smtp.Auth) error {
		authFlags = append(authFlags, a != nil)
		if a != nil {
			return errors.New("smtp: server doesn't support AUTH")
		}
		return nil
	}
	if err := m.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(authFlags) != 2 || !authFlags[0] || authFlags[1] {
		t.Errorf("auth attempts: got %v, want [true false]", authFlags)
	}
}

func TestEmail_CollectsRecipientErrors(t *testing.T) {
	m, _ := NewEmail(SMTPConfig{Host: "h", Port: 25, Sender: "s@example.com", Recipients: []string{"a@x", "b@x"}})
	m.send = func(e *email.Email, _ string, _ smtp.Auth) error {
		if e.To[0] == "a@x" {
			return errors.New("mailbox unavailable")
		}
		return nil
	}
	err := m.Notify(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "a@x") {
		t.Fatalf("err: got %v", err)
	}
}

func TestNewEmail_Validation(t *testing.T) {
	if _, err := NewEmail(SMTPConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
	if _, err := NewEmail(SMTPConfig{Host: "h", Port: 25, Sender: "s"}); err == nil {
		t.Error("expected error without recipients")
	}
}
