package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	tsLayout = "2006-01-02T15:04:05.000Z07:00"
)

// newHandler writes one line per record to w. The record message becomes
// the event key; update metadata carried in the context is appended.
func newHandler(w io.Writer, format logFormat, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: rewriteAttr}
	var base slog.Handler
	if format == formatKV {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}
	return &contextHandler{next: base, fullRID: format == formatJSON}
}

// contextHandler fills in the component default and the update metadata
// (rid, update_id, user_id, chat_id, handler) unless the record sets them.
type contextHandler struct {
	next    slog.Handler
	fullRID bool
	preset  map[string]bool
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	seen := make(map[string]bool, len(h.preset)+r.NumAttrs())
	for k := range h.preset {
		seen[k] = true
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		seen[a.Key] = true
		if a.Key == "rid" {
			out.AddAttrs(h.ridAttrs(a.Value.String())...)
			return true
		}
		out.AddAttrs(a)
		return true
	})

	if !seen["component"] {
		out.AddAttrs(slog.String("component", "app"))
	}
	m := metaFrom(ctx)
	if m.rid != "" && !seen["rid"] {
		out.AddAttrs(h.ridAttrs(m.rid)...)
	}
	for _, f := range []struct {
		attr slog.Attr
		set  bool
	}{
		{slog.Int("update_id", m.updateID), m.updateID != 0},
		{slog.Int64("user_id", m.userID), m.userID != 0},
		{slog.Int64("chat_id", m.chatID), m.chatID != 0},
		{slog.String("handler", m.handler), m.handler != ""},
	} {
		if f.set && !seen[f.attr.Key] {
			out.AddAttrs(f.attr)
		}
	}
	return h.next.Handle(ctx, out)
}

func (h *contextHandler) ridAttrs(rid string) []slog.Attr {
	compact := CompactRID(rid)
	if !h.fullRID || compact == rid {
		return []slog.Attr{slog.String("rid", compact)}
	}
	return []slog.Attr{slog.String("rid", compact), slog.String("rid_full", rid)}
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	preset := make(map[string]bool, len(h.preset)+len(attrs))
	for k := range h.preset {
		preset[k] = true
	}
	for _, a := range attrs {
		preset[a.Key] = true
	}
	return &contextHandler{next: h.next.WithAttrs(attrs), fullRID: h.fullRID, preset: preset}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{next: h.next.WithGroup(name), fullRID: h.fullRID, preset: h.preset}
}

// rewriteAttr renames the built-in keys, reports durations in milliseconds
// and drops blank strings.
func rewriteAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey:
			return slog.String("ts", a.Value.Time().UTC().Format(tsLayout))
		case slog.MessageKey:
			event := strings.TrimSpace(a.Value.String())
			if event == "" {
				event = "unknown"
			}
			return slog.String("event", event)
		case slog.LevelKey:
			return a
		}
	}

	switch a.Value.Kind() {
	case slog.KindDuration:
		return slog.Int64(durationKey(a.Key), RoundMS(a.Value.Duration()).Milliseconds())
	case slog.KindTime:
		return slog.String(a.Key, a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.KindString:
		s := strings.TrimSpace(a.Value.String())
		if s == "" {
			return slog.Attr{}
		}
		if a.Key == "status" {
			s = strings.ToLower(s)
		}
		return slog.String(a.Key, s)
	case slog.KindAny:
		if a.Value.Any() == nil {
			return slog.Attr{}
		}
	}
	return a
}

// durationKey renames duration attributes so the unit is part of the key.
func durationKey(key string) string {
	if strings.HasSuffix(key, "_ms") {
		return key
	}
	return key + "_ms"
}
