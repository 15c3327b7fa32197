package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/holdingbot/core/config"
	"github.com/m3rciful/holdingbot/core/logger"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/holdingbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware is a named global middleware, installed with bot.Use.
type Middleware struct {
	Name string
	Use  tele.MiddlewareFunc
}

// Route binds a handler to a telebot endpoint (command string or On* constant).
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	// Dispatcher is created with default options when nil.
	Dispatcher *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to the lifecycle hooks.
type Runtime struct {
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram builds the bot, wires routes and serves updates until ctx is
// done. Cancellation is a clean stop.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rt := Runtime{Dispatcher: opts.Dispatcher, Registry: opts.Registry}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Dispatcher == nil {
		rt.Dispatcher = tgsender.NewDispatcher(tgsender.Options{})
	}
	tghelpers.SetDispatcher(rt.Dispatcher)
	defer func() {
		rt.Dispatcher.Close()
		tghelpers.SetDispatcher(nil)
	}()

	bot, err := newBot(ctx, opts.Config)
	if err != nil {
		return err
	}
	wire(ctx, bot, rt.Registry, opts)
	// menu failures are logged by PublishCommands and never stop the bot
	_ = PublishCommands(bot, rt.Registry)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}
	runErr := serve(ctx, bot)
	if opts.OnStop != nil {
		if err := opts.OnStop(ctx, rt); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func newBot(ctx context.Context, cfg *coreconfig.Config) (*tele.Bot, error) {
	poller := BuildPoller(pollerOptions(cfg))
	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Telegram.Token,
		Poller:  poller,
		Client:  BuildHTTPClient(),
		OnError: HandleError,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}

	attrs := []slog.Attr{slog.Duration("took", logger.Took(start))}
	switch p := poller.(type) {
	case *tele.Webhook:
		attrs = append(attrs,
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
		)
	case *tele.LongPoller:
		attrs = append(attrs,
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.Duration("poll_timeout", p.Timeout),
		)
		dropWebhook(ctx, bot)
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "tg.mode", attrs...)
	return bot, nil
}

// dropWebhook clears a webhook left over from an earlier deployment, which
// would otherwise make getUpdates fail.
func dropWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "tg.webhook.delete",
			slog.String("status", logger.Status(err)),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "tg.webhook.delete", slog.String("status", "ok"))
}

func wire(ctx context.Context, bot *tele.Bot, reg *Registry, opts RunOptions) {
	middlewares := 0
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
			middlewares++
		}
	}
	routes := 0
	for _, r := range append(reg.Routes(), opts.Routes...) {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
			routes++
		}
	}
	logger.LogEvent(ctx, logger.TWire, slog.LevelInfo, "tg.wire",
		slog.Int("routes", routes),
		slog.Int("middlewares", middlewares),
	)
}

// serve runs the poller until ctx is done or the bot stops on its own.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}
