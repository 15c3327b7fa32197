// Package cmd is the process entry point shared by bot binaries: it loads
// configuration, builds the application and runs it until SIGINT or SIGTERM.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/holdingbot/core/config"
	"github.com/m3rciful/holdingbot/core/logger"
	coretelegram "github.com/m3rciful/holdingbot/core/telegram"
)

// ConfigCarrier gives access to the core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp supplies the options for running the bot. Apps that also
// implement io.Closer are closed after the bot stops.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options wires Run. LoadConfig and Bootstrap are required.
type Options struct {
	// ConfigEnvVar names the variable holding the config path, CONFIG_PATH by default.
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	// ShutdownLogger and RunTelegram default to logger.Shutdown and
	// telegram.RunTelegram.
	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

func (o Options) configPath() string {
	name := o.ConfigEnvVar
	if name == "" {
		name = "CONFIG_PATH"
	}
	if p := os.Getenv(name); p != "" {
		return p
	}
	return o.DefaultConfigPath
}

// Run loads the config, bootstraps the app and serves updates until the
// process is signalled.
func Run(opts Options) error {
	if opts.LoadConfig == nil || opts.Bootstrap == nil {
		return errors.New("cmd: LoadConfig and Bootstrap are required")
	}
	started := time.Now()

	path := opts.configPath()
	log.Printf("loading config %q (empty means environment only)", path)
	cfg, err := opts.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}
	if cfg.CoreConfig() == nil {
		return errors.New("cmd: config carries no core configuration")
	}

	app, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	defer closeAll(app, opts.ShutdownLogger)

	runOpts, err := app.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options: %w", err)
	}
	withLifecycleLogs(&runOpts, started)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}

// closeAll closes the app, then flushes the logger.
func closeAll(app TelegramApp, shutdownLogger func() error) {
	if c, ok := app.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("app close: %v", err)
		}
	}
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	if err := shutdownLogger(); err != nil {
		log.Printf("logger shutdown: %v", err)
	}
}

// withLifecycleLogs logs app.ready after the app's OnStart and
// app.shutdown before its OnStop.
func withLifecycleLogs(opts *coretelegram.RunOptions, started time.Time) {
	onStart, onStop := opts.OnStart, opts.OnStop
	opts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if onStart != nil {
			if err := onStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "app.ready", slog.Duration("startup", logger.Took(started)))
		return nil
	}
	opts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "app.shutdown")
		if onStop != nil {
			return onStop(ctx, rt)
		}
		return nil
	}
}
