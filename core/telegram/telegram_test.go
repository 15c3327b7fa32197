package telegram

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/holdingbot/core/config"
	"github.com/m3rciful/holdingbot/core/logger"
	"github.com/m3rciful/holdingbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

type menuRecorder struct {
	got []tele.Command
	err error
}

func (m *menuRecorder) SetCommands(opts ...interface{}) error {
	if len(opts) > 0 {
		m.got, _ = opts[0].([]tele.Command)
	}
	return m.err
}

func TestRegistryCommands(t *testing.T) {
	reg := NewRegistry()
	noop := func(tele.Context) error { return nil }
	reg.RegisterCommand("/start", commands.Command{Description: "Start the holding form"})
	reg.RegisterCommand("/debug", commands.Command{Description: "internal", Hidden: true, Handler: noop})
	reg.RegisterCommand("help", commands.Command{Description: "no slash"})
	reg.RegisterCommand("/empty", commands.Command{})
	reg.RegisterCommand("/start", commands.Command{Description: "duplicate"})

	all := reg.ListCommands(false)
	if len(all) != 2 || all[0].Text != "/debug" || all[1].Text != "/start" {
		t.Fatalf("all commands = %+v", all)
	}
	if all[1].Description != "Start the holding form" {
		t.Fatalf("duplicate overwrote description: %q", all[1].Description)
	}
	visible := reg.ListCommands(true)
	if len(visible) != 1 || visible[0].Text != "/start" {
		t.Fatalf("visible commands = %+v", visible)
	}

	// /start has no handler of its own and stays on the OnText route
	routes := reg.Routes()
	if len(routes) != 1 || routes[0].Endpoint != "/debug" {
		t.Fatalf("routes = %+v", routes)
	}
}

func TestPublishCommands(t *testing.T) {
	reg := NewRegistry()
	rec := &menuRecorder{}
	if err := PublishCommands(rec, reg); err != nil || rec.got != nil {
		t.Fatalf("empty registry published %+v, err=%v", rec.got, err)
	}

	reg.RegisterCommand("/start", commands.Command{Description: "Start the holding form"})
	if err := PublishCommands(rec, reg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].Text != "/start" {
		t.Fatalf("published = %+v", rec.got)
	}

	rec.err = errors.New("telegram: Unauthorized (401)")
	if err := PublishCommands(rec, reg); !errors.Is(err, rec.err) {
		t.Fatalf("err = %v", err)
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "send reply" }
func (codedErr) Code() string  { return "transport" }

func TestErrorCode(t *testing.T) {
	if got := ErrorCode(fmt.Errorf("handle: %w", codedErr{})); got != "TRANSPORT" {
		t.Fatalf("code = %q", got)
	}
	if got := ErrorCode(errors.New("plain")); got != "" {
		t.Fatalf("code = %q", got)
	}
	// nil context and nil error must not panic
	HandleError(nil, nil)
	HandleError(codedErr{}, nil)
}

type updateContext struct {
	tele.Context
	store map[string]any
}

func (u *updateContext) Update() tele.Update     { return tele.Update{ID: 9} }
func (u *updateContext) Sender() *tele.User      { return &tele.User{ID: 2} }
func (u *updateContext) Chat() *tele.Chat        { return &tele.Chat{ID: 2} }
func (u *updateContext) Get(key string) any      { return u.store[key] }
func (u *updateContext) Set(key string, val any) { u.store[key] = val }

func TestHandleErrorSkipsSummarizedFailures(t *testing.T) {
	var buf bytes.Buffer
	prev := logger.TG
	logger.TG = slog.New(slog.NewTextHandler(&buf, nil))
	defer func() { logger.TG = prev }()

	tests := []struct {
		name   string
		marked bool
		want   int
	}{
		{"unsummarized", false, 1},
		{"summarized", true, 0},
	}
	for _, tt := range tests {
		buf.Reset()
		c := &updateContext{store: map[string]any{}}
		if tt.marked {
			tghelpers.MarkErrorLogged(c)
		}
		HandleError(codedErr{}, c)
		if got := strings.Count(buf.String(), "handler.error"); got != tt.want {
			t.Fatalf("%s: handler.error lines = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestBuildPoller(t *testing.T) {
	p := BuildPoller(PollerOptions{RunMode: " Webhook ", Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com/hook"}})
	wh, ok := p.(*tele.Webhook)
	if !ok {
		t.Fatalf("poller = %T", p)
	}
	if wh.Listen != "0.0.0.0:8443" || wh.Endpoint.PublicURL != "https://bot.example.com/hook" {
		t.Fatalf("webhook = %+v", wh)
	}

	p = BuildPoller(PollerOptions{RunMode: coreconfig.RunModeLongpoll})
	lp, ok := p.(*tele.LongPoller)
	if !ok || lp.Timeout != 10*time.Second {
		t.Fatalf("poller = %#v", p)
	}
	p = BuildPoller(PollerOptions{LongPollTimeoutSeconds: 25})
	if lp := p.(*tele.LongPoller); lp.Timeout != 25*time.Second {
		t.Fatalf("timeout = %s", lp.Timeout)
	}
}

type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	body := "{}"
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body)), Request: req}, nil
}

func TestRetryTransport(t *testing.T) {
	base := &flakyTransport{failures: 2}
	rt := &retryTransport{base: base, maxRetries: 3, backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/sendMessage", strings.NewReader(`{"text":"hi"}`))
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != `{"text":"hi"}` {
		t.Fatalf("body not replayed: %q", raw)
	}
	if base.calls.Load() != 3 {
		t.Fatalf("calls = %d", base.calls.Load())
	}

	base = &flakyTransport{failures: 10}
	rt = &retryTransport{base: base, maxRetries: 1, backoff: time.Millisecond}
	req, _ = http.NewRequest(http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error after retries")
	}
	if base.calls.Load() != 2 {
		t.Fatalf("calls = %d", base.calls.Load())
	}
}

func TestDefaultMiddlewares(t *testing.T) {
	names := func(mws []Middleware) string {
		var out []string
		for _, mw := range mws {
			out = append(out, mw.Name)
		}
		return strings.Join(out, ",")
	}

	if got := names(DefaultMiddlewares(nil, nil)); got != "recover,logger,metrics" {
		t.Fatalf("nil config chain = %s", got)
	}
	cfg := &coreconfig.Config{}
	cfg.RateLimit.IntervalMS = 500
	if got := names(DefaultMiddlewares(cfg, nil)); got != "recover,rate_limit,logger,metrics" {
		t.Fatalf("rate limited chain = %s", got)
	}
}
