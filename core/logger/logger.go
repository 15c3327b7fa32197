package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/holdingbot/core/buildinfo"
	coreconfig "github.com/m3rciful/holdingbot/core/config"
)

var (
	initOnce sync.Once
	levelVar slog.LevelVar

	debugSampler = newSampler(1, 50)
	traceAll     bool

	out struct {
		sync.Mutex
		writer *asyncWriter
		files  []io.Closer
		closed bool
	}

	// L is the base logger. Until InitLogger runs it discards everything.
	L = slog.New(slog.NewTextHandler(io.Discard, nil))

	// Component loggers, rebuilt by InitLogger.
	DB    *slog.Logger // database connection
	MIG   *slog.Logger // schema migrations
	TG    *slog.Logger // Telegram transport
	TWire *slog.Logger // Telegram wiring
)

func init() {
	wireComponents()
}

func wireComponents() {
	DB = Component("db")
	MIG = Component("db.migrate")
	TG = Component("tg")
	TWire = Component("tg.wire")
}

// settings is the resolved logging configuration.
type settings struct {
	level     slog.Level
	format    logFormat
	profile   string
	sampleNum int
	sampleDen int
	dir, file string
}

func settingsFrom(cfg *coreconfig.Config) settings {
	s := settings{level: slog.LevelInfo, format: formatJSON, profile: "prod", sampleNum: 1, sampleDen: 50, file: "bot.log"}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging
	s.level = parseLevel(lc.Level)
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "json":
	default:
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}
	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		s.sampleNum, s.sampleDen = parseRatioSpec(spec)
	}
	s.dir = strings.TrimSpace(lc.Dir)
	if f := strings.TrimSpace(lc.BotFile); f != "" {
		s.file = f
	}
	return s
}

// InitLogger installs the process logger. Only the first call has an effect.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		s := settingsFrom(cfg)
		levelVar.Set(s.level)
		debugSampler.Set(s.sampleNum, s.sampleDen)
		traceAll = envFlag("TRACE") || envFlag("LOG_TRACE")

		sinks := []io.Writer{os.Stdout}
		if f := openLogFile(s.dir, s.file); f != nil {
			sinks = append(sinks, f)
			out.files = append(out.files, f)
		}
		out.writer = newAsyncWriter(sinks, 64<<10)

		L = slog.New(newHandler(out.writer, s.format, &levelVar))
		slog.SetDefault(L)
		wireComponents()

		attrs := []slog.Attr{
			slog.String("go_version", runtime.Version()),
			slog.String("build_version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("cfg_profile", s.profile),
		}
		if cfg != nil {
			attrs = append(attrs,
				slog.String("mode", cfg.Telegram.RunMode),
				slog.String("backend", cfg.Storage.Driver),
			)
		}
		Info(context.Background(), "app", "startup", attrs...)
	})
	return nil
}

// openLogFile returns nil when no directory is configured or the file
// cannot be opened; stdout logging goes on regardless.
func openLogFile(dir, name string) *os.File {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("logger: log dir %s: %v", dir, err)
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logger: log file: %v", err)
		return nil
	}
	return f
}

// SetLevel changes the minimum level at runtime. Unknown names select info.
func SetLevel(name string) slog.Level {
	lvl := parseLevel(name)
	levelVar.Set(lvl)
	return lvl
}

func parseLevel(raw string) slog.Level {
	name := strings.TrimSpace(raw)
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Shutdown flushes pending lines and closes the log file. Later calls are no-ops.
func Shutdown() error {
	out.Lock()
	defer out.Unlock()
	if out.closed {
		return nil
	}
	out.closed = true

	var errs []error
	if out.writer != nil {
		errs = append(errs, out.writer.Close())
	}
	for _, f := range out.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// Component returns L scoped to a component name.
func Component(name string) *slog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return L
	}
	return L.With("component", name)
}

// LogEvent writes one event line through logg, or the context logger when nil.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logg.LogAttrs(ctx, level, event, attrs...)
}

// Debug, Info, Warn and Error log event for component at their level.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelError, event, attrs...)
}

// ShouldSampleDebug gates high-volume debug lines. TRACE=1 disables sampling.
func ShouldSampleDebug() bool {
	return traceAll || debugSampler.Allow()
}

func envFlag(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// Status maps an error to the status value used in log lines.
func Status(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// Took is the time since start rounded to milliseconds.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds d to the nearest millisecond; negative durations become 0.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}
