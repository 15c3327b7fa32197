package bootstrap

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/holdingbot/core/config"
	coredatabase "github.com/m3rciful/holdingbot/core/database"
	"github.com/m3rciful/holdingbot/core/telegram/state"
)

var intCodec = state.Codec[int]{
	Marshal:   func(n int) ([]byte, error) { return []byte(strconv.Itoa(n)), nil },
	Unmarshal: func(b []byte) (int, error) { return strconv.Atoi(string(b)) },
}

func noLogger(*coreconfig.Config) error { return nil }

func roundTrip(t *testing.T, st state.Store[int]) {
	t.Helper()
	ctx := context.Background()
	if err := st.Set(ctx, 1, 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := st.Get(ctx, 1)
	if err != nil || !found || got != 42 {
		t.Fatalf("get = %d found=%v err=%v", got, found, err)
	}
}

func TestRunDefaultsToMemory(t *testing.T) {
	res, err := Run(context.Background(), Options[int]{Config: &coreconfig.Config{}, Codec: intCodec, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Close()
	if res.Backend != coreconfig.DriverMemory || res.Pinger != nil || res.Purger != nil {
		t.Fatalf("result = %+v", res)
	}
	roundTrip(t, res.Store)
}

func TestRunBigcache(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Storage.Driver = coreconfig.DriverBigcache
	cfg.Storage.TTL = time.Hour
	res, err := Run(context.Background(), Options[int]{Config: cfg, Codec: intCodec, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	roundTrip(t, res.Store)
	if err := res.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRunRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &coreconfig.Config{}
	cfg.Storage.Driver = coreconfig.DriverRedis
	cfg.Storage.KeyPrefix = "holdingbot:dialogue"
	cfg.Storage.Redis.Addr = mr.Addr()

	res, err := Run(context.Background(), Options[int]{Config: cfg, Codec: intCodec, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Close()
	roundTrip(t, res.Store)
	if !mr.Exists("holdingbot:dialogue:1") {
		t.Fatalf("keys = %v", mr.Keys())
	}
	if res.Pinger == nil {
		t.Fatal("redis store should be pingable")
	}
	if err := res.Pinger.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRunPostgres(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectClose()

	cfg := &coreconfig.Config{}
	cfg.Storage.Driver = coreconfig.DriverPostgres
	cfg.Storage.TTL = 24 * time.Hour
	cfg.Storage.Database = coreconfig.DatabaseConfig{Host: "db", Name: "holdingbot", MigrationsDir: "migrations"}

	var migrated string
	res, err := Run(context.Background(), Options[int]{
		Config:     cfg,
		Codec:      intCodec,
		LoggerInit: noLogger,
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			return sqlx.NewDb(raw, "postgres"), nil
		},
		Migrate: func(c coredatabase.Config) error {
			migrated = c.MigrationsDir
			return nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if migrated != "migrations" || res.DB == nil || res.Purger == nil || res.Pinger == nil {
		t.Fatalf("result = %+v migrated=%q", res, migrated)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunFailures(t *testing.T) {
	boom := errors.New("boom")

	if _, err := Run(context.Background(), Options[int]{}); err == nil {
		t.Fatal("nil config accepted")
	}
	if _, err := Run(context.Background(), Options[int]{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return boom },
	}); !errors.Is(err, boom) {
		t.Fatalf("logger err = %v", err)
	}

	cfg := &coreconfig.Config{}
	cfg.Storage.Driver = "etcd"
	if _, err := Run(context.Background(), Options[int]{Config: cfg, Codec: intCodec, LoggerInit: noLogger}); err == nil {
		t.Fatal("unknown driver accepted")
	}

	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectClose()
	cfg = &coreconfig.Config{}
	cfg.Storage.Driver = coreconfig.DriverPostgres
	_, err = Run(context.Background(), Options[int]{
		Config:     cfg,
		Codec:      intCodec,
		LoggerInit: noLogger,
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			return sqlx.NewDb(raw, "postgres"), nil
		},
		Migrate: func(coredatabase.Config) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("migrate err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("db not closed after failed migration: %v", err)
	}

	cfg = &coreconfig.Config{}
	cfg.Storage.Driver = coreconfig.DriverRedis
	cfg.Storage.Redis.Addr = "127.0.0.1:1"
	if _, err := Run(context.Background(), Options[int]{Config: cfg, Codec: intCodec, LoggerInit: noLogger}); err == nil {
		t.Fatal("unreachable redis accepted")
	}
}
