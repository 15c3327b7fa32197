package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/holdingbot/core/logger"
	"github.com/m3rciful/holdingbot/core/telegram/state"
)

// Sender delivers one text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, text string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

var (
	// ErrTransport marks failures to deliver a reply.
	ErrTransport = errors.New("dialogue: transport failure")
	// ErrStorage marks failures to read or write the session store.
	ErrStorage = errors.New("dialogue: storage failure")
)

// FailureError aborts processing of a single update. It matches ErrTransport
// or ErrStorage with errors.Is and unwraps to the underlying cause.
type FailureError struct {
	Op     string
	ChatID int64
	Kind   error
	Err    error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("dialogue: %s for chat %d: %v", e.Op, e.ChatID, e.Err)
}

// Unwrap exposes both the failure kind and the cause.
func (e *FailureError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Code feeds the err_code log attribute.
func (e *FailureError) Code() string {
	if errors.Is(e.Kind, ErrTransport) {
		return "TRANSPORT"
	}
	return "STORAGE"
}

// Stats is a snapshot of Machine counters.
type Stats struct {
	Updates   uint64 `json:"updates"`
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Failures  uint64 `json:"failures"`
}

type counters struct {
	updates, started, completed, rejected, failures atomic.Uint64
}

// Machine runs the form for every chat against an injected session store.
type Machine struct {
	store state.Store[State]
	locks chatLocks
	stats counters
}

// NewMachine returns a Machine backed by store.
func NewMachine(store state.Store[State]) *Machine {
	return &Machine{store: store}
}

// Stats returns a snapshot of the counters.
func (m *Machine) Stats() Stats {
	return Stats{
		Updates:   m.stats.updates.Load(),
		Started:   m.stats.started.Load(),
		Completed: m.stats.completed.Load(),
		Rejected:  m.stats.rejected.Load(),
		Failures:  m.stats.failures.Load(),
	}
}

// Current returns the chat's state, Start when no session exists.
func (m *Machine) Current(ctx context.Context, chatID int64) (State, error) {
	s, found, err := m.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !found || s == nil {
		return Start{}, nil
	}
	return s, nil
}

// Handle processes one incoming message: it loads the chat's state, runs the
// step for that state, sends the reply through out and then applies the
// transition. Updates for the same chat are serialized.
func (m *Machine) Handle(ctx context.Context, in Incoming, out Sender) error {
	_, err := m.Apply(ctx, in, out)
	return err
}

// Apply is Handle returning the outcome of the step as well. The outcome is
// only meaningful when err is nil.
func (m *Machine) Apply(ctx context.Context, in Incoming, out Sender) (Outcome, error) {
	unlock := m.locks.lock(in.ChatID)
	defer unlock()

	m.stats.updates.Add(1)
	start := time.Now()

	current, err := m.Current(ctx, in.ChatID)
	if err != nil {
		return Outcome{}, m.fail(ctx, "load state", in.ChatID, ErrStorage, err)
	}
	outcome, err := Step(current, in)
	if err != nil {
		return Outcome{}, err
	}
	if err := out.Send(ctx, in.ChatID, outcome.Reply); err != nil {
		return Outcome{}, m.fail(ctx, "send reply", in.ChatID, ErrTransport, err)
	}

	switch outcome.Transition {
	case Advance:
		if err := m.store.Set(ctx, in.ChatID, outcome.Next); err != nil {
			return Outcome{}, m.fail(ctx, "save state", in.ChatID, ErrStorage, err)
		}
	case Exit:
		if err := m.store.Clear(ctx, in.ChatID); err != nil {
			return Outcome{}, m.fail(ctx, "clear state", in.ChatID, ErrStorage, err)
		}
	}

	m.record(ctx, current, outcome, in, time.Since(start))
	return outcome, nil
}

func (m *Machine) record(ctx context.Context, from State, o Outcome, in Incoming, took time.Duration) {
	attrs := []slog.Attr{
		slog.Int64("chat_id", in.ChatID),
		slog.String("state", string(from.Kind())),
		slog.String("transition", o.Transition.String()),
		slog.Duration("duration", took),
	}
	switch {
	case o.Rejected():
		m.stats.rejected.Add(1)
		logger.Debug(ctx, "dialogue", "dialogue.rejected", append(attrs, slog.String("outcome", "rejected"))...)
		return
	case from.Kind() == KindStart:
		m.stats.started.Add(1)
	case o.Transition == Exit:
		m.stats.completed.Add(1)
		logger.Info(ctx, "dialogue", "dialogue.completed", append(attrs,
			slog.String("form_id", uuid.NewString()),
			slog.String("status", "ok"),
		)...)
		return
	}
	if o.Next != nil {
		attrs = append(attrs, slog.String("next_state", string(o.Next.Kind())))
	}
	logger.Debug(ctx, "dialogue", "dialogue.step", attrs...)
}

func (m *Machine) fail(ctx context.Context, op string, chatID int64, kind, cause error) error {
	m.stats.failures.Add(1)
	err := &FailureError{Op: op, ChatID: chatID, Kind: kind, Err: cause}
	logger.Warn(ctx, "dialogue", "dialogue.failed",
		slog.Int64("chat_id", chatID),
		slog.String("status", "fail"),
		slog.String("err_code", err.Code()),
		slog.String("err", cause.Error()),
	)
	return err
}

// chatLocks hands out one mutex per chat and forgets it once unused.
type chatLocks struct {
	mu    sync.Mutex
	chats map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func (l *chatLocks) lock(chatID int64) (unlock func()) {
	l.mu.Lock()
	if l.chats == nil {
		l.chats = make(map[int64]*chatLock)
	}
	cl, ok := l.chats[chatID]
	if !ok {
		cl = &chatLock{}
		l.chats[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.chats, chatID)
		}
		l.mu.Unlock()
	}
}
