// Package helpers carries per-update request state on the telebot context
// and sends replies through the shared dispatcher.
package helpers

import (
	"context"
	"log/slog"

	"github.com/m3rciful/holdingbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Keys under which request state is kept on tele.Context.
const (
	contextKey     = "request_ctx"
	ridKey         = "rid"
	annotationsKey = "request_attrs"
	errLoggedKey   = "request_err_logged"
)

// StoreContext keeps ctx on c for later handlers and helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(contextKey, ctx)
	}
}

// ContextFrom returns the context stored on c, if any.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the request context of the update, creating and
// storing it on first use. It carries the rid and the update, user and
// chat ids for logging.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}
	var userID, chatID int64
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	updateID := c.Update().ID

	rid, _ := c.Get(ridKey).(string)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
		c.Set(ridKey, rid)
	}
	ctx := logger.WithUpdateMeta(logger.WithRID(context.Background(), rid), updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.TG)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler names the handler serving the update in later log lines.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" && logger.HandlerFrom(ctx) != handler {
		ctx = logger.WithHandler(ctx, handler)
		StoreContext(c, ctx)
	}
	return ctx
}

// Annotate adds attributes to the update's handler summary line.
func Annotate(c tele.Context, attrs ...slog.Attr) {
	if c == nil || len(attrs) == 0 {
		return
	}
	prev, _ := c.Get(annotationsKey).([]slog.Attr)
	c.Set(annotationsKey, append(prev, attrs...))
}

// Annotations returns what Annotate collected for the update.
func Annotations(c tele.Context) []slog.Attr {
	if c == nil {
		return nil
	}
	attrs, _ := c.Get(annotationsKey).([]slog.Attr)
	return attrs
}

// MarkErrorLogged records that the update's error has been logged with its
// handler summary.
func MarkErrorLogged(c tele.Context) {
	if c != nil {
		c.Set(errLoggedKey, true)
	}
}

// ErrorLogged reports whether MarkErrorLogged was called for the update.
func ErrorLogged(c tele.Context) bool {
	if c == nil {
		return false
	}
	done, _ := c.Get(errLoggedKey).(bool)
	return done
}
