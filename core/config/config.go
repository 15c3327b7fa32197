package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the bot token and how updates are received.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds of 0 selects the poller default.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig is used when RunMode is webhook.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig selects level, format and an optional log file.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	// DebugSample is "n/m" or "m" (1 in m) for high-volume debug events.
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	Profile     string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook receives updates through a webhook listener.
	RunModeWebhook = "webhook"
	// RunModeLongpoll receives updates through getUpdates.
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by rate_limit.exclude_updates.
const (
	UpdateCallback    = "callback"
	UpdateMessage     = "message"
	UpdateInlineQuery = "inline_query"
)

var excludableUpdates = map[string]bool{
	UpdateCallback:    true,
	UpdateMessage:     true,
	UpdateInlineQuery: true,
}

// RateLimitConfig throttles users sending faster than IntervalMS.
// Zero disables the limiter.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Session backends.
const (
	DriverMemory   = "memory"
	DriverBigcache = "bigcache"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// RedisConfig describes the Redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// StorageConfig selects and configures the dialogue session backend.
type StorageConfig struct {
	Driver    string         `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	TTL       time.Duration  `yaml:"ttl" envconfig:"STORAGE_TTL"`
	KeyPrefix string         `yaml:"key_prefix" envconfig:"STORAGE_KEY_PREFIX"`
	Redis     RedisConfig    `yaml:"redis"`
	Database  DatabaseConfig `yaml:"database"`
}

// StatusConfig enables the HTTP status server when Listen is set.
type StatusConfig struct {
	Listen string `yaml:"listen" envconfig:"STATUS_LISTEN"`
}

// Config aggregates the bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Status    StatusConfig    `yaml:"status"`

	// Path is the YAML file the config was read from, empty for env-only setups.
	Path string `yaml:"-" ignored:"true"`
}

// CoreConfig satisfies cmd.ConfigCarrier.
func (c *Config) CoreConfig() *Config {
	return c
}

// Load reads an optional YAML file and overlays environment variables.
// A missing file is not an error; the bot can run on environment alone.
// Variables that are set but blank do not erase values from the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cfg.readFile(strings.TrimSpace(path)); err != nil {
		return nil, err
	}
	fromFile := *cfg
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	keepFileValues(cfg, &fromFile)
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELOXIDE_TOKEN")
	}

	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Path = path
	return nil
}

// keepFileValues undoes envconfig blanking strings that the file set,
// as happens with compose files passing through unset variables.
func keepFileValues(cfg, file *Config) {
	pairs := []struct{ dst, src *string }{
		{&cfg.Telegram.Token, &file.Telegram.Token},
		{&cfg.Telegram.RunMode, &file.Telegram.RunMode},
		{&cfg.Webhook.URL, &file.Webhook.URL},
		{&cfg.Webhook.Listen, &file.Webhook.Listen},
		{&cfg.Logging.Level, &file.Logging.Level},
		{&cfg.Logging.Format, &file.Logging.Format},
		{&cfg.Logging.Dir, &file.Logging.Dir},
		{&cfg.Storage.Driver, &file.Storage.Driver},
		{&cfg.Storage.KeyPrefix, &file.Storage.KeyPrefix},
		{&cfg.Storage.Redis.Addr, &file.Storage.Redis.Addr},
		{&cfg.Storage.Redis.Password, &file.Storage.Redis.Password},
		{&cfg.Storage.Database.Host, &file.Storage.Database.Host},
		{&cfg.Storage.Database.Name, &file.Storage.Database.Name},
		{&cfg.Storage.Database.User, &file.Storage.Database.User},
		{&cfg.Storage.Database.Password, &file.Storage.Database.Password},
		{&cfg.Status.Listen, &file.Status.Listen},
	}
	for _, p := range pairs {
		if strings.TrimSpace(*p.dst) == "" {
			*p.dst = *p.src
		}
	}
}

// Normalize validates cfg and fills in defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	for _, step := range []func(*Config) error{
		normalizeTelegram,
		normalizeRateLimit,
		func(c *Config) error { return normalizeStorage(&c.Storage) },
	} {
		if err := step(cfg); err != nil {
			return err
		}
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	tg := &cfg.Telegram
	tg.Token = strings.TrimSpace(tg.Token)
	if tg.Token == "" {
		return errors.New("config: telegram token is required (BOT_TOKEN or TELOXIDE_TOKEN)")
	}

	mode := strings.ToLower(strings.TrimSpace(tg.RunMode))
	switch mode {
	case "", "polling", RunModeLongpoll:
		if tg.LongPollTimeoutSeconds < 0 {
			return errors.New("config: telegram.longpoll_timeout_seconds must be >= 0")
		}
		tg.RunMode = RunModeLongpoll
	case RunModeWebhook:
		wh := cfg.Webhook
		switch {
		case strings.TrimSpace(wh.URL) == "":
			return errors.New("config: webhook.url is required in webhook mode")
		case strings.TrimSpace(wh.Listen) == "":
			return errors.New("config: webhook.listen is required in webhook mode")
		case wh.Port <= 0:
			return errors.New("config: webhook.port must be > 0 in webhook mode")
		}
		tg.RunMode = RunModeWebhook
	default:
		return fmt.Errorf("config: invalid telegram.run_mode %q (webhook or longpoll)", tg.RunMode)
	}
	return nil
}

func normalizeRateLimit(cfg *Config) error {
	kinds := cfg.RateLimit.ExcludeUpdates[:0]
	for _, raw := range cfg.RateLimit.ExcludeUpdates {
		kind := strings.ToLower(strings.TrimSpace(raw))
		if kind == "" {
			continue
		}
		if !excludableUpdates[kind] {
			return fmt.Errorf("config: invalid rate_limit.exclude_updates value %q (callback, message or inline_query)", raw)
		}
		kinds = append(kinds, kind)
	}
	cfg.RateLimit.ExcludeUpdates = kinds
	return nil
}

func normalizeStorage(st *StorageConfig) error {
	if st.TTL < 0 {
		return errors.New("config: storage.ttl must be >= 0")
	}
	if strings.TrimSpace(st.KeyPrefix) == "" {
		st.KeyPrefix = "holdingbot:dialogue"
	}

	driver := strings.ToLower(strings.TrimSpace(st.Driver))
	switch driver {
	case "":
		driver = DriverMemory
	case DriverMemory, DriverBigcache:
	case DriverRedis:
		if strings.TrimSpace(st.Redis.Addr) == "" {
			return errors.New("config: storage.redis.addr is required for the redis driver")
		}
	case DriverPostgres:
		if err := st.Database.fill(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: invalid storage.driver %q (memory, bigcache, redis or postgres)", st.Driver)
	}
	st.Driver = driver
	return nil
}

func (db *DatabaseConfig) fill() error {
	if db.Host == "" || db.Name == "" || db.User == "" {
		return errors.New("config: storage.database needs host, name and user for the postgres driver")
	}
	defaults := []struct {
		field *string
		value string
	}{
		{&db.Port, "5432"},
		{&db.SSLMode, "disable"},
		{&db.MigrationsDir, "migrations"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
	if db.MaxConnections <= 0 {
		db.MaxConnections = 5
	}
	return nil
}
