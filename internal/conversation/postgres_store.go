package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_logs (
	user_id    TEXT        NOT NULL,
	log_date   TEXT        NOT NULL,
	turns      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, log_date)
);
CREATE INDEX IF NOT EXISTS conversation_logs_date_idx ON conversation_logs (log_date);
`

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL conversation store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the conversation table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create conversation schema: %w", err)
	}
	return nil
}

// Get retrieves the log for key.
func (s *PostgresStore) Get(ctx context.Context, key Key) ([]Turn, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT turns
		FROM conversation_logs
		WHERE user_id = $1 AND log_date = $2
	`

	var data []byte
	err := s.pool.QueryRow(ctx, query, key.UserID, key.Date).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation %s: %w", key, err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", key, err)
	}
	return turns, nil
}

// Set upserts the log for key.
func (s *PostgresStore) Set(ctx context.Context, key Key, turns []Turn) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if turns == nil {
		turns = []Turn{}
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", key, err)
	}

	query := `
		INSERT INTO conversation_logs (user_id, log_date, turns, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, log_date) DO UPDATE SET
			turns = EXCLUDED.turns,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, key.UserID, key.Date, data); err != nil {
		return fmt.Errorf("set conversation %s: %w", key, err)
	}
	return nil
}

// Delete removes the log for key.
func (s *PostgresStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	query := `DELETE FROM conversation_logs WHERE user_id = $1 AND log_date = $2`

	result, err := s.pool.Exec(ctx, query, key.UserID, key.Date)
	if err != nil {
		return false, fmt.Errorf("delete conversation %s: %w", key, err)
	}
	return result.RowsAffected() > 0, nil
}

// PurgeBefore removes logs dated before cutoff.
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff string) (int, error) {
	query := `DELETE FROM conversation_logs WHERE log_date < $1`

	result, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	return int(result.RowsAffected()), nil
}
