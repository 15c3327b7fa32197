package router

import (
	tg "github.com/m3rciful/holdingbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// MessageRoutes binds handler to every non-empty endpoint under one
// handler name. Each update produces a handler.handled summary line.
func MessageRoutes(name string, handler tele.HandlerFunc, endpoints []string) []tg.Route {
	if handler == nil {
		return nil
	}
	name = normalizeHandlerName(name)
	wrapped := func(c tele.Context) error {
		return summarize(c, name, handler)
	}
	var routes []tg.Route
	for _, ep := range endpoints {
		if ep != "" {
			routes = append(routes, tg.Route{Endpoint: ep, Handler: wrapped})
		}
	}
	return routes
}
