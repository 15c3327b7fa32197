package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/holdingbot/core/logger"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	// Interval is the minimum gap between two updates of one user.
	Interval time.Duration
	// Exclude holds update kinds (message, callback, inline_query) that are
	// never limited.
	Exclude map[string]struct{}
	// OnLimited, when set, runs for each dropped update.
	OnLimited tele.HandlerFunc
}

type lastSeen struct {
	mu    sync.Mutex
	users map[int64]time.Time
}

// allow records now for userID unless the previous update is too recent.
func (l *lastSeen) allow(userID int64, now time.Time, gap time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.users[userID]; ok && now.Sub(prev) < gap {
		return false
	}
	l.users[userID] = now
	return true
}

func updateKind(u tele.Update) string {
	switch {
	case u.Message != nil:
		return "message"
	case u.Callback != nil:
		return "callback"
	case u.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware drops updates from users who send faster than
// opts.Interval. Dropped updates end the chain without an error.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	seen := &lastSeen{users: make(map[int64]time.Time)}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[updateKind(c.Update())]; skip {
				return next(c)
			}
			if seen.allow(user.ID, time.Now(), opts.Interval) {
				return next(c)
			}

			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.rate_limit",
				slog.String("status", "rejected"),
				slog.Duration("interval", opts.Interval),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
