package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/holdingbot/core/config"
	coredatabase "github.com/m3rciful/holdingbot/core/database"
	"github.com/m3rciful/holdingbot/core/logger"
	"github.com/m3rciful/holdingbot/core/telegram/state"
)

// Options control the generic bootstrap pipeline. S is the session value kept
// per chat; Codec encodes it for byte-oriented backends.
type Options[S any] struct {
	Config *coreconfig.Config
	Codec  state.Codec[S]

	LoggerInit   func(*coreconfig.Config) error
	Connect      func(coredatabase.Config) (*sqlx.DB, error)
	Migrate      func(coredatabase.Config) error
	ConnectRedis func(ctx context.Context, addr, password string, db int) (*redis.Client, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result[S any] struct {
	Store   state.Store[S]
	Backend string
	// Pinger is set for stores backed by a remote service.
	Pinger state.Pinger
	// Purger is set when expired sessions must be removed by a janitor.
	Purger state.Purger
	DB     *sqlx.DB

	closers []func() error
}

// Close releases the store and its connections in reverse order of creation.
func (r *Result[S]) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Run initializes the logger and opens the session store selected by
// cfg.Storage.Driver. The postgres driver also applies migrations.
func Run[S any](ctx context.Context, opts Options[S]) (*Result[S], error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	storage := opts.Config.Storage
	res := &Result[S]{Backend: storage.Driver}
	var err error
	switch storage.Driver {
	case "", coreconfig.DriverMemory:
		res.Backend = coreconfig.DriverMemory
		res.Store = state.NewMemoryStore[S]()
	case coreconfig.DriverBigcache:
		err = openBigcache(ctx, opts, res)
	case coreconfig.DriverRedis:
		err = openRedis(ctx, opts, res)
	case coreconfig.DriverPostgres:
		err = openPostgres(opts, res)
	default:
		err = fmt.Errorf("unknown storage driver %q", storage.Driver)
	}
	if err != nil {
		_ = res.Close()
		logger.Error(ctx, "store", "store.open",
			slog.String("status", "fail"),
			slog.String("backend", res.Backend),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("bootstrap: storage initialization failed: %w", err)
	}

	logger.Info(ctx, "store", "store.open",
		slog.String("status", "ok"),
		slog.String("backend", res.Backend),
		slog.Duration("ttl", storage.TTL),
	)
	return res, nil
}

func openBigcache[S any](ctx context.Context, opts Options[S], res *Result[S]) error {
	st, err := state.NewBigcacheStore(ctx, opts.Codec, opts.Config.Storage.TTL)
	if err != nil {
		return err
	}
	res.Store = st
	res.closers = append(res.closers, st.Close)
	return nil
}

func openRedis[S any](ctx context.Context, opts Options[S], res *Result[S]) error {
	connect := opts.ConnectRedis
	if connect == nil {
		connect = state.ConnectRedis
	}
	cfg := opts.Config.Storage
	rdb, err := connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	res.closers = append(res.closers, rdb.Close)

	st, err := state.NewRedisStore(rdb, opts.Codec, state.RedisOptions{Prefix: cfg.KeyPrefix, TTL: cfg.TTL})
	if err != nil {
		return err
	}
	res.Store = st
	res.Pinger = st
	return nil
}

func openPostgres[S any](opts Options[S], res *Result[S]) error {
	dbCfg := opts.Config.Storage.Database

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(dbCfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	res.DB = db
	res.closers = append(res.closers, db.Close)

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(dbCfg); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	st, err := state.NewPostgresStore(db, opts.Codec)
	if err != nil {
		return err
	}
	res.Store = st
	res.Pinger = st
	if opts.Config.Storage.TTL > 0 {
		res.Purger = st
	}
	return nil
}
