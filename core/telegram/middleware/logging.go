package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/holdingbot/core/logger"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// receipts remembers recently logged update ids. telebot calls the handler
// chain once per joined user for a single update.
type receipts struct {
	mu   sync.Mutex
	seen map[int]time.Time
	ttl  time.Duration
}

var logged = receipts{seen: make(map[int]time.Time), ttl: 10 * time.Second}

// first reports whether id has not been seen within the ttl.
func (r *receipts) first(id int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for old, at := range r.seen {
		if now.Sub(at) > r.ttl {
			delete(r.seen, old)
		}
	}
	if _, dup := r.seen[id]; dup {
		return false
	}
	r.seen[id] = now
	return true
}

// LoggerMiddleware creates the request context (rid and update metadata)
// before the handler runs and logs a sampled update.received line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		upd := c.Update()
		if logger.ShouldSampleDebug() && logged.first(upd.ID, time.Now()) {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receiptAttrs(c)...)
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context) []slog.Attr {
	var attrs []slog.Attr
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if u := c.Sender(); u != nil {
		attrs = append(attrs,
			slog.String("username", logger.SanitizeLimit(u.Username, 64)),
			slog.String("lang", u.LanguageCode),
		)
	}
	if m := c.Update().Message; m != nil {
		attrs = append(attrs,
			slog.String("kind", messageKind(m)),
			slog.String("payload", logger.SanitizeLimit(m.Text, 256)),
		)
	}
	return attrs
}

// messageKind names the content of a message for the receipt log.
func messageKind(m *tele.Message) string {
	switch {
	case m.Text != "":
		return "text"
	case m.Photo != nil:
		return "photo"
	case m.Sticker != nil:
		return "sticker"
	case m.Document != nil:
		return "document"
	case m.Voice != nil, m.Audio != nil:
		return "audio"
	case m.Video != nil, m.VideoNote != nil, m.Animation != nil:
		return "video"
	case m.Location != nil, m.Venue != nil:
		return "location"
	case m.Contact != nil:
		return "contact"
	case m.Dice != nil:
		return "dice"
	case m.Poll != nil:
		return "poll"
	case len(m.UsersJoined) > 0, m.UserJoined != nil, m.UserLeft != nil:
		return "membership"
	case m.PinnedMessage != nil:
		return "pinned"
	}
	return "other"
}
