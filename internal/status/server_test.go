package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m3rciful/holdingbot/core/telegram/sender"
	"github.com/m3rciful/holdingbot/core/telegram/state"
	"github.com/m3rciful/holdingbot/internal/dialogue"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pinger     state.Pinger
		wantCode   int
		wantStatus string
	}{
		{"in-process store", nil, http.StatusOK, "ok"},
		{"reachable backend", pinger{}, http.StatusOK, "ok"},
		{"backend down", pinger{err: errors.New("dial tcp: connection refused")}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Options{Backend: "redis", Pinger: tt.pinger})
			code, body := get(t, srv.Handler(), "/healthz")
			if code != tt.wantCode || body["status"] != tt.wantStatus {
				t.Fatalf("code=%d body=%v", code, body)
			}
		})
	}
}

func TestStats(t *testing.T) {
	store := state.NewMemoryStore[dialogue.State]()
	m := dialogue.NewMachine(store)
	out := dialogue.SenderFunc(func(context.Context, int64, string) error { return nil })
	for _, text := range []string{"hi", "Bitcoin", "lots"} {
		if err := m.Handle(context.Background(), dialogue.Incoming{ChatID: 1, Text: text}, out); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	srv := New(Options{
		Backend: "memory",
		Sizer:   store.(Sizer),
		Machine: m,
		Sender:  func() sender.Stats { return sender.Stats{Sent: 4} },
	})
	code, body := get(t, srv.Handler(), "/stats")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if body["backend"] != "memory" || body["sessions"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	dlg, ok := body["dialogue"].(map[string]any)
	if !ok || dlg["updates"] != float64(3) || dlg["started"] != float64(1) || dlg["rejected"] != float64(1) {
		t.Fatalf("dialogue = %v", body["dialogue"])
	}
	if snd, _ := body["sender"].(map[string]any); snd["sent"] != float64(4) {
		t.Fatalf("sender = %v", body["sender"])
	}
	if build, _ := body["build"].(map[string]any); build["version"] == "" {
		t.Fatalf("build = %v", body["build"])
	}
}

func TestStartServes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := New(Options{Listen: "127.0.0.1:0"})
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	bad := New(Options{Listen: "256.0.0.1:bad"})
	if err := bad.Start(ctx); err == nil {
		t.Fatal("invalid listen address accepted")
	}
}
