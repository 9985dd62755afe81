package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sharedStateTable = "shared_state"
	sharedStateRowID = 1
)

// PostgresBackend keeps the document as a jsonb column of a single row.
type PostgresBackend struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewPostgresBackend wraps an existing pool. The caller keeps ownership of it.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres ping: %w", err)
	}
	b := &PostgresBackend{pool: pool, ownsPool: true}
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// EnsureSchema creates the shared_state table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if b == nil || b.pool == nil {
		return fmt.Errorf("store: postgres backend not initialized")
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + sharedStateTable + ` (
    id          INT PRIMARY KEY,
    state       JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
	for _, stmt := range statements {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: postgres schema: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context) (json.RawMessage, error) {
	var state string
	err := b.pool.QueryRow(ctx,
		`SELECT state::text FROM `+sharedStateTable+` WHERE id = $1`, sharedStateRowID,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: postgres load: %w", err)
	}
	return json.RawMessage(state), nil
}

func (b *PostgresBackend) Save(ctx context.Context, doc json.RawMessage) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO `+sharedStateTable+` (id, state, updated_at) VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		sharedStateRowID, string(doc),
	)
	if err != nil {
		return fmt.Errorf("store: postgres save: %w", err)
	}
	return nil
}

// Close releases the pool if OpenPostgres created it.
func (b *PostgresBackend) Close() error {
	if b.ownsPool && b.pool != nil {
		b.pool.Close()
	}
	return nil
}
