package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/holdingbot/core/logger"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"
	"github.com/m3rciful/holdingbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// summarize runs fn as handler name and writes one handler.handled line
// with the outcome, the replies sent and whatever the handler annotated.
// A failing update is logged here at error level and marked so the bot's
// OnError hook stays quiet.
func summarize(c tele.Context, name string, fn tele.HandlerFunc) error {
	start := time.Now()
	ctx := tghelpers.WithHandler(c, name)
	err := fn(c)

	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int("messages", middleware.GetCounters(c)),
		slog.Duration("took", logger.Took(start)),
	}
	attrs = append(attrs, tghelpers.Annotations(c)...)
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
		tghelpers.MarkErrorLogged(c)
	}
	logger.LogEvent(ctx, logger.TG, level, "handler.handled", attrs...)
	return err
}

func normalizeHandlerName(name string) string {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	if name == "" {
		return "unknown"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// errorCode prefers an explicit Code() anywhere in the chain and falls
// back to the outer error's type name.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		if code := strings.TrimSpace(coder.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	typ := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(typ, '.'); i >= 0 {
		typ = typ[i+1:]
	}
	return strings.ToUpper(typ)
}
