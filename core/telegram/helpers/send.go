package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/holdingbot/core/logger"
	"github.com/m3rciful/holdingbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var dispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher installs the dispatcher used by the send helpers. Nil makes
// them call telebot directly.
func SetDispatcher(d *sender.Dispatcher) {
	dispatcher.Store(d)
}

func textCall(c tele.Context, action, text string, opts []*tele.SendOptions) sender.Call {
	return sender.Call{
		Action:   action,
		Endpoint: "sendMessage",
		Run: func() error {
			if len(opts) > 0 && opts[0] != nil {
				return c.Send(text, opts[0])
			}
			return c.Send(text)
		},
	}
}

// ReplyText sends text to the update's chat and waits for the result. The
// call is counted in the dispatcher's stats and retried per its options.
func ReplyText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	call := textCall(c, "reply.text", text, opts)
	d := dispatcher.Load()
	if d == nil {
		return call.Run()
	}
	return d.Do(BuildContext(c), call)
}

// SendText queues text for the update's chat without waiting; delivery
// errors are only logged. A full or closed queue falls back to a direct send.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	call := textCall(c, "send.text", text, opts)
	d := dispatcher.Load()
	if d == nil {
		return call.Run()
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, call)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "send.queue_fallback",
			slog.String("action", call.Action),
			slog.String("err", err.Error()),
		)
		return call.Run()
	}
	return err
}
