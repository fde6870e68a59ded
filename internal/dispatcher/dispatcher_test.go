package dispatcher

import (
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

	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/jmehdipour/tokengen/internal/model"
	"go.uber.org/zap"
)

func envelope() model.TokenIssued {
	exp := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	return model.TokenIssued{
		TokenID:   "t1",
		OrderID:   "o1",
		Secret:    "abc123",
		TierName:  "Starter",
		Quota:     100,
		ExpiresAt: &exp,
		Recipient: "buyer@example.com",
	}
}

func TestRender(t *testing.T) {
	msg, err := Render(envelope())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.To != "buyer@example.com" || !strings.Contains(msg.Subject, "Starter") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Text, "abc123") || !strings.Contains(msg.Text, "2026-12-01") {
		t.Fatalf("body misses token or expiry:\n%s", msg.Text)
	}

	env := envelope()
	env.ExpiresAt = nil
	msg, _ = Render(env)
	if !strings.Contains(msg.Text, "never") {
		t.Fatalf("expected non-expiring wording:\n%s", msg.Text)
	}
}

func TestMicroBreakerOpensAndProbes(t *testing.T) {
	b := NewMicroBreaker(2, 20*time.Millisecond)
	b.OnFailure()
	if !b.Ready() {
		t.Fatalf("breaker should stay closed below threshold")
	}
	b.OnFailure()
	if b.Ready() || b.TryAcquire() {
		t.Fatalf("breaker should be open")
	}

	time.Sleep(30 * time.Millisecond)
	if !b.TryAcquire() {
		t.Fatalf("expected a half-open probe after the open window")
	}
	if b.TryAcquire() {
		t.Fatalf("only one probe may be in flight")
	}
	b.OnSuccess()
	if !b.Ready() {
		t.Fatalf("successful probe should close the breaker")
	}
}

func TestDispatcherFailsOverToHealthyProvider(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	var got Message
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer good.Close()

	d := NewDispatcher([]Provider{
		NewHTTPProvider("bad", bad.URL, "/send", "", "", 1000, 1, 60000),
		NewHTTPProvider("good", good.URL, "/send", "key", "noreply@example.com", 1000, 1, 60000),
	}, 3)

	for i := 0; i < 3; i++ {
		if err := d.Send(context.Background(), envelope()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if badHits.Load() != 1 {
		t.Fatalf("open breaker should keep traffic off the bad provider, got %d hits", badHits.Load())
	}
	if goodHits.Load() != 3 || got.To != "buyer@example.com" {
		t.Fatalf("expected 3 deliveries to good provider, got %d (%+v)", goodHits.Load(), got)
	}
}

func TestDispatcherStopsOnMissingRecipient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher([]Provider{NewHTTPProvider("p", srv.URL, "/", "", "", 1000, 1, 1000)}, 3)
	env := envelope()
	env.Recipient = ""
	if err := d.Send(context.Background(), env); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("no request should be made without a recipient")
	}
}

func TestSMTPProviderFormatsMessage(t *testing.T) {
	p := NewSMTPProvider("smtp", "mail.example.com", 0, "user", "pass", "noreply@example.com", "Tokengen", 3, 1000)

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := p.Send(context.Background(), envelope()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 || gotTo[0] != "buyer@example.com" {
		t.Fatalf("unexpected envelope addr=%s to=%v", gotAddr, gotTo)
	}
	if !strings.HasPrefix(gotMsg, "From: Tokengen <noreply@example.com>\r\n") || !strings.Contains(gotMsg, "abc123") {
		t.Fatalf("unexpected message:\n%s", gotMsg)
	}
}

func TestSMTPProviderFailureTripsBreaker(t *testing.T) {
	p := NewSMTPProvider("smtp", "mail.example.com", 25, "", "", "noreply@example.com", "", 1, 60000)
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }

	if err := p.Send(context.Background(), envelope()); err == nil {
		t.Fatalf("expected error")
	}
	if p.Ready() {
		t.Fatalf("breaker should open after threshold failures")
	}
}

func TestNewProviders(t *testing.T) {
	provs, err := NewProviders([]config.ProviderConfig{
		{Name: "preview", Kind: "preview", Enabled: true},
		{Name: "off", Kind: "http", Enabled: false},
		{Name: "smtp", Kind: "smtp", Enabled: true, SMTPHost: "mail.example.com", From: "a@example.com"},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(provs) != 2 || provs[0].Name() != "preview" || provs[1].Name() != "smtp" {
		t.Fatalf("unexpected providers %v", provs)
	}

	if _, err := NewProviders([]config.ProviderConfig{{Name: "x", Kind: "pigeon", Enabled: true}}, zap.NewNop()); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := NewProviders(nil, zap.NewNop()); err == nil {
		t.Fatalf("expected error with no providers")
	}
}

func TestMicroBreakerReopensOnFailedProbe(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewMicroBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	if err := b.Record(errors.New("boom")); err == nil {
		t.Fatalf("Record must pass the error through")
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(2 * time.Minute)
	if !b.TryAcquire() || b.State() != BreakerHalfOpen {
		t.Fatalf("expected a half-open probe, got %s", b.State())
	}
	_ = b.Record(errors.New("still down"))
	if b.State() != BreakerOpen || b.Ready() {
		t.Fatalf("failed probe should re-open the breaker, got %s", b.State())
	}
}

func TestDispatcherReportsBreakerStates(t *testing.T) {
	p := NewSMTPProvider("smtp", "127.0.0.1", 25, "", "", "noreply@example.com", "", 1, 60000)
	p.br.OnFailure()

	err := NewDispatcher([]Provider{p}, 1).Send(context.Background(), model.TokenIssued{TokenID: "t1", Recipient: "a@example.com"})
	if !errors.Is(err, ErrNoHealthy) {
		t.Fatalf("expected ErrNoHealthy, got %v", err)
	}
	if !strings.Contains(err.Error(), "smtp=open") {
		t.Fatalf("expected breaker state in error, got %v", err)
	}
}
