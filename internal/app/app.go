// Package app assembles the holding form bot from the core building blocks.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/holdingbot/core/bootstrap"
	"github.com/m3rciful/holdingbot/core/cmd"
	coreconfig "github.com/m3rciful/holdingbot/core/config"
	"github.com/m3rciful/holdingbot/core/logger"
	coretelegram "github.com/m3rciful/holdingbot/core/telegram"
	"github.com/m3rciful/holdingbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"
	"github.com/m3rciful/holdingbot/core/telegram/router"
	"github.com/m3rciful/holdingbot/core/telegram/state"
	"github.com/m3rciful/holdingbot/internal/dialogue"
	"github.com/m3rciful/holdingbot/internal/status"

	tele "gopkg.in/telebot.v4"
)

// RateLimitNotice is sent, best effort, to users throttled by the rate limiter.
const RateLimitNotice = "Too many messages, slow down a little."

// App owns the dialogue machine and the infrastructure it runs on.
type App struct {
	cfg      *coreconfig.Config
	infra    *bootstrap.Result[dialogue.State]
	machine  *dialogue.Machine
	registry *coretelegram.Registry
}

// LoadConfig satisfies cmd.Options.LoadConfig.
func LoadConfig(path string) (cmd.ConfigCarrier, error) {
	cfg, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bootstrap satisfies cmd.Options.Bootstrap.
func Bootstrap(carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	a, err := New(context.Background(), bootstrap.Options[dialogue.State]{Config: carrier.CoreConfig()})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// New initializes logging and the session store and builds the machine.
// The dialogue codec is filled in when opts.Codec is empty.
func New(ctx context.Context, opts bootstrap.Options[dialogue.State]) (*App, error) {
	if opts.Codec.Marshal == nil || opts.Codec.Unmarshal == nil {
		opts.Codec = dialogue.Codec()
	}
	infra, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}

	reg := coretelegram.NewRegistry()
	reg.RegisterCommand("/start", commands.Command{Description: "Start the holding form"})

	return &App{
		cfg:      opts.Config,
		infra:    infra,
		machine:  dialogue.NewMachine(infra.Store),
		registry: reg,
	}, nil
}

// Machine returns the dialogue machine.
func (a *App) Machine() *dialogue.Machine {
	return a.machine
}

// TelegramRunOptions satisfies cmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	if a.machine == nil {
		return coretelegram.RunOptions{}, fmt.Errorf("app: not initialized")
	}
	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    a.registry,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, onLimited),
		Routes:      router.MessageRoutes("dialogue", dialogue.TelegramHandler(a.machine), dialogue.Endpoints),
		OnStart:     a.start,
	}, nil
}

// Close releases the session store.
func (a *App) Close() error {
	return a.infra.Close()
}

func (a *App) start(ctx context.Context, rt coretelegram.Runtime) error {
	if listen := a.cfg.Status.Listen; listen != "" {
		opts := status.Options{
			Listen:  listen,
			Backend: a.infra.Backend,
			Pinger:  a.infra.Pinger,
			Machine: a.machine,
		}
		if sizer, ok := a.infra.Store.(status.Sizer); ok {
			opts.Sizer = sizer
		}
		if rt.Dispatcher != nil {
			opts.Sender = rt.Dispatcher.Stats
		}
		if err := status.New(opts).Start(ctx); err != nil {
			return fmt.Errorf("app: status server: %w", err)
		}
	}

	if a.infra.Purger != nil {
		ttl := a.cfg.Storage.TTL
		go state.RunJanitor(ctx, a.infra.Purger, ttl, janitorInterval(ttl))
	}

	if path := a.cfg.Path; path != "" {
		go a.watchConfig(ctx, path)
	}
	return nil
}

func (a *App) watchConfig(ctx context.Context, path string) {
	onLevel := func(level string) {
		lvl := logger.SetLevel(level)
		logger.Info(ctx, "app", "config.reload",
			slog.String("status", "ok"),
			slog.String("log_level", lvl.String()),
		)
	}
	onErr := func(err error) {
		logger.Warn(ctx, "app", "config.reload",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	if err := coreconfig.Watch(ctx, path, onLevel, onErr); err != nil {
		onErr(err)
	}
}

// janitorInterval purges a few times per TTL, at most once a minute.
func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

func onLimited(c tele.Context) error {
	return tghelpers.SendText(c, RateLimitNotice)
}
