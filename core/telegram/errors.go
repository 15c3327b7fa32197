package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m3rciful/holdingbot/core/logger"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// HandleError is installed as tele.Settings.OnError. The update is dropped
// and polling continues. Errors already reported on the handler summary
// line are not logged again.
func HandleError(err error, c tele.Context) {
	if err == nil || tghelpers.ErrorLogged(c) {
		return
	}
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	attrs := []slog.Attr{
		slog.String("status", "fail"),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		slog.String("err_code", ErrorCode(err)),
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelError, "handler.error", attrs...)
}

// ErrorCode returns the upper-cased Code() of the first error in the chain
// that has one.
func ErrorCode(err error) string {
	var coder interface{ Code() string }
	if !errors.As(err, &coder) {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(coder.Code()))
}
