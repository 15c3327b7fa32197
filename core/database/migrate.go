package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/holdingbot/core/logger"
)

// RunMigrations waits up to 30s for the server, then applies pending up
// migrations from cfg.MigrationsDir (relative to the working directory).
func RunMigrations(cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fail := func(stage string, err error) error {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("status", "fail"),
			slog.String("stage", stage),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("database: %s: %w", stage, err)
	}

	if err := waitReady(ctx, DSN(cfg), 2*time.Second); err != nil {
		return fail("wait", err)
	}
	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return fail("resolve", err)
	}
	files := listMigrationFiles(dir)
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "db.migrate.resolve",
		slog.String("path", dir),
		slog.Int("files_total", len(files)),
	)

	m, err := migrate.New("file://"+dir, URL(cfg))
	if err != nil {
		return fail("init", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelWarn, "db.migrate.close",
				slog.Any("err", errors.Join(srcErr, dbErr)))
		}
	}()

	from, _, _ := m.Version()
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fail("apply", err)
	}
	to, _, _ := m.Version()

	applied := selectApplied(files, uint64(from), uint64(to))
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", time.Since(start)),
	}
	if len(applied) > 0 {
		attrs = append(attrs, slog.String("applied", strings.Join(applied, ",")))
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "db.migrate", attrs...)
	return nil
}

// listMigrationFiles returns the sorted *.up.sql names in dir.
func listMigrationFiles(dir string) []string {
	paths, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names
}

// parseVersion reads the numeric prefix of "000001_name.up.sql".
func parseVersion(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}

// selectApplied returns the files with versions in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
