package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	pgSelectState = `SELECT state FROM dialogue_states WHERE chat_id = $1`
	pgUpsertState = `INSERT INTO dialogue_states (chat_id, state, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (chat_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`
	pgDeleteState = `DELETE FROM dialogue_states WHERE chat_id = $1`
	pgPurgeStates = `DELETE FROM dialogue_states WHERE updated_at < $1`
)

// PostgresStore persists encoded sessions in the dialogue_states table.
// The schema is created by the migrations in the repository's migrations directory.
type PostgresStore[S any] struct {
	db    *sqlx.DB
	codec Codec[S]
}

// NewPostgresStore wraps an open database handle. The caller owns db.
func NewPostgresStore[S any](db *sqlx.DB, codec Codec[S]) (*PostgresStore[S], error) {
	if db == nil {
		return nil, errors.New("state: nil database")
	}
	if !codec.valid() {
		return nil, errNilCodec
	}
	return &PostgresStore[S]{db: db, codec: codec}, nil
}

// Get loads the session row for chatID.
func (p *PostgresStore[S]) Get(ctx context.Context, chatID int64) (S, bool, error) {
	var (
		zero S
		raw  []byte
	)
	err := p.db.GetContext(ctx, &raw, pgSelectState, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("state: postgres get: %w", err)
	}
	s, err := p.codec.Unmarshal(raw)
	if err != nil {
		return zero, false, fmt.Errorf("state: postgres decode: %w", err)
	}
	return s, true, nil
}

// Set upserts the session row for chatID.
func (p *PostgresStore[S]) Set(ctx context.Context, chatID int64, s S) error {
	raw, err := p.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: postgres encode: %w", err)
	}
	// jsonb parameters must travel as text; pq sends []byte as bytea
	if _, err := p.db.ExecContext(ctx, pgUpsertState, chatID, string(raw)); err != nil {
		return fmt.Errorf("state: postgres set: %w", err)
	}
	return nil
}

// Clear deletes the session row for chatID.
func (p *PostgresStore[S]) Clear(ctx context.Context, chatID int64) error {
	if _, err := p.db.ExecContext(ctx, pgDeleteState, chatID); err != nil {
		return fmt.Errorf("state: postgres delete: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (p *PostgresStore[S]) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Purge deletes sessions untouched for longer than olderThan and returns how
// many rows went away.
func (p *PostgresStore[S]) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := p.db.ExecContext(ctx, pgPurgeStates, time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, fmt.Errorf("state: postgres purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("state: postgres purge: %w", err)
	}
	return n, nil
}
