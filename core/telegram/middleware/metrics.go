package middleware

import (
	tele "gopkg.in/telebot.v4"
)

const messagesKey = "messages"

// countingContext counts messages sent while handling one update.
type countingContext struct{ tele.Context }

func (c countingContext) sent(err error) error {
	if err == nil {
		n, _ := c.Get(messagesKey).(int)
		c.Set(messagesKey, n+1)
	}
	return err
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.sent(c.Context.Send(what, opts...))
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.sent(c.Context.Reply(what, opts...))
}

// MessageMetricsMiddleware counts the replies a handler sends; the handler
// summary reports the total.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(messagesKey, 0)
		return next(countingContext{Context: c})
	}
}

// GetCounters returns the number of messages sent for the update so far.
func GetCounters(c tele.Context) int {
	n, _ := c.Get(messagesKey).(int)
	return n
}
