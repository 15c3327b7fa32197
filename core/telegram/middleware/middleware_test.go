package middleware

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

type fakeContext struct {
	tele.Context
	update tele.Update
	store  map[string]any
	sent   int
}

func newFakeContext(updateID int, userID int64, msg *tele.Message) *fakeContext {
	msg.Sender = &tele.User{ID: userID}
	msg.Chat = &tele.Chat{ID: userID, Type: tele.ChatPrivate}
	return &fakeContext{update: tele.Update{ID: updateID, Message: msg}, store: map[string]any{}}
}

func (f *fakeContext) Update() tele.Update     { return f.update }
func (f *fakeContext) Message() *tele.Message  { return f.update.Message }
func (f *fakeContext) Sender() *tele.User      { return f.update.Message.Sender }
func (f *fakeContext) Chat() *tele.Chat        { return f.update.Message.Chat }
func (f *fakeContext) Text() string            { return f.update.Message.Text }
func (f *fakeContext) Get(key string) any      { return f.store[key] }
func (f *fakeContext) Set(key string, val any) { f.store[key] = val }

func (f *fakeContext) Send(any, ...any) error {
	f.sent++
	return nil
}

func (f *fakeContext) Reply(what any, opts ...any) error {
	return f.Send(what, opts...)
}

func TestRateLimitMiddleware(t *testing.T) {
	var limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		OnLimited: func(tele.Context) error {
			limited++
			return nil
		},
	})
	var handled int
	h := mw(func(tele.Context) error {
		handled++
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := h(newFakeContext(i, 10, &tele.Message{Text: "spam"})); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if err := h(newFakeContext(9, 11, &tele.Message{Text: "hi"})); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if handled != 2 || limited != 2 {
		t.Fatalf("handled=%d limited=%d", handled, limited)
	}
}

func TestRateLimitExclude(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})
	var handled int
	h := mw(func(tele.Context) error {
		handled++
		return nil
	})
	for i := 0; i < 3; i++ {
		_ = h(newFakeContext(i, 10, &tele.Message{Text: "x"}))
	}
	if handled != 3 {
		t.Fatalf("excluded messages limited: handled=%d", handled)
	}
}

func TestMessageMetricsMiddleware(t *testing.T) {
	c := newFakeContext(1, 5, &tele.Message{Text: "hi"})
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		if err := c.Send("one"); err != nil {
			return err
		}
		return c.Reply("two")
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if msgs := GetCounters(c); msgs != 2 || c.sent != 2 {
		t.Fatalf("messages=%d sent=%d", msgs, c.sent)
	}
}

func TestLoggerMiddlewareSetsRID(t *testing.T) {
	c := newFakeContext(36, 35, &tele.Message{Text: "BTC"})
	var seen string
	h := LoggerMiddleware(func(c tele.Context) error {
		seen, _ = c.Get("rid").(string)
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen == "" {
		t.Fatal("rid not set before handler")
	}
	if c.Get("request_ctx") == nil {
		t.Fatal("request context not stored")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic(errors.New("boom")) })
	if err := h(newFakeContext(1, 1, &tele.Message{Text: "x"})); err != nil {
		t.Fatalf("recovered handler returned %v", err)
	}
}

func TestReceiptsFirst(t *testing.T) {
	r := receipts{seen: map[int]time.Time{}, ttl: time.Minute}
	now := time.Now()
	if !r.first(1, now) || r.first(1, now.Add(time.Second)) {
		t.Fatal("repeated update id logged twice")
	}
	if !r.first(1, now.Add(2*time.Minute)) {
		t.Fatal("expired update id not forgotten")
	}
}

func TestMessageKind(t *testing.T) {
	tests := map[string]*tele.Message{
		"text":       {Text: "x"},
		"photo":      {Photo: &tele.Photo{}},
		"sticker":    {Sticker: &tele.Sticker{}},
		"document":   {Document: &tele.Document{}},
		"audio":      {Voice: &tele.Voice{}},
		"location":   {Location: &tele.Location{}},
		"contact":    {Contact: &tele.Contact{}},
		"dice":       {Dice: &tele.Dice{}},
		"poll":       {Poll: &tele.Poll{}},
		"membership": {UsersJoined: []tele.User{{ID: 1}}},
		"pinned":     {PinnedMessage: &tele.Message{}},
		"other":      {},
	}
	for want, msg := range tests {
		if got := messageKind(msg); got != want {
			t.Fatalf("messageKind = %q, want %q", got, want)
		}
	}
}
