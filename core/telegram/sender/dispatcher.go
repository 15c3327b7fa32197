package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/holdingbot/core/logger"
	"github.com/m3rciful/holdingbot/core/telegram/netutil"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned by Enqueue when no queue slot is free.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options tunes the dispatcher. Zero values select the defaults.
type Options struct {
	QueueSize  int
	Workers    int
	MaxRetries int
	// RetryBackoff grows linearly with each attempt.
	RetryBackoff time.Duration
	// MaxDuration bounds one call including its retries.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

// Call is one outbound Telegram request. Run must be safe to repeat when
// retries are enabled.
type Call struct {
	Action   string
	Endpoint string
	Run      func() error
}

type queued struct {
	ctx  context.Context
	call Call
}

// Dispatcher runs outbound calls with retries on transient network errors
// and keeps delivery counters. Do runs a call on the caller's goroutine;
// Enqueue hands it to the worker pool.
type Dispatcher struct {
	opts  Options
	queue chan queued

	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	workers sync.WaitGroup

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Stats is a snapshot of dispatcher activity.
type Stats struct {
	Queued int    `json:"queued"`
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// NewDispatcher starts the worker pool.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{opts: opts, queue: make(chan queued, opts.QueueSize)}
	d.workers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer d.workers.Done()
			for q := range d.queue {
				_ = d.execute(q.ctx, q.call, slog.LevelError)
			}
		}()
	}
	return d
}

// Do runs call now and returns its final error. The failure is left to the
// caller to log; it shows up here at debug level only.
func (d *Dispatcher) Do(ctx context.Context, call Call) error {
	if call.Run == nil {
		return errors.New("telegram sender: nil run function")
	}
	return d.execute(ctx, call, slog.LevelDebug)
}

// Enqueue schedules call for a worker. Failures are only logged.
func (d *Dispatcher) Enqueue(ctx context.Context, call Call) error {
	if call.Run == nil {
		return errors.New("telegram sender: nil run function")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.queue <- queued{ctx: ctx, call: call}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats reports queue depth and call outcomes.
func (d *Dispatcher) Stats() Stats {
	return Stats{Queued: len(d.queue), Sent: d.sent.Load(), Failed: d.failed.Load()}
}

// Close rejects new calls and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.workers.Wait()
	})
}

func (d *Dispatcher) execute(ctx context.Context, call Call, failLevel slog.Level) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts, err := d.retry(runCtx, call.Run)
	attrs := []slog.Attr{
		slog.String("action", call.Action),
		slog.String("endpoint", call.Endpoint),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	}
	if err == nil {
		d.sent.Add(1)
		logger.Debug(ctx, "tg.sender", "send.ok", attrs...)
		return nil
	}
	d.failed.Add(1)
	logger.LogEvent(ctx, logger.Component("tg.sender"), failLevel, "send.fail", append(attrs,
		slog.String("status", "fail"),
		slog.String("err", redactToken(err)),
		slog.String("error_kind", classifyError(err)),
	)...)
	return err
}

// retry runs fn until it succeeds, fails permanently, exhausts MaxRetries
// or ctx ends. It returns the number of attempts made.
func (d *Dispatcher) retry(ctx context.Context, fn func() error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt > d.opts.MaxRetries || !netutil.ShouldRetry(err) {
			return attempt, err
		}
		wait := d.opts.RetryBackoff * time.Duration(attempt)
		logger.Debug(ctx, "tg.sender", "send.retry",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
