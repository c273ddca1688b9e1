package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelgate/modelgate/core"
)

// PostgresStore implements EntityStore over PostgreSQL. Each entity table
// has the layout { key TEXT PRIMARY KEY, data JSONB, created_at, updated_at }.
//
// The store accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// NewPostgresStore creates a store using an existing pool
func NewPostgresStore(pool *pgxpool.Pool, logger core.Logger) *PostgresStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// uniqueViolation is the Postgres SQLSTATE for duplicate primary keys
const uniqueViolation = "23505"

// Create inserts a new row, failing on a duplicate key
func (p *PostgresStore) Create(ctx context.Context, table, key string, data []byte) error {
	sql := fmt.Sprintf(
		`INSERT INTO %s (key, data, created_at, updated_at) VALUES ($1, $2, now(), now())`,
		pgx.Identifier{table}.Sanitize(),
	)
	_, err := p.pool.Exec(ctx, sql, key, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.NewConflictError("store.Create", key)
		}
		return core.NewStorageError("store.Create", err)
	}
	return nil
}

// Get retrieves a row by key
func (p *PostgresStore) Get(ctx context.Context, table, key string) (*Record, error) {
	sql := fmt.Sprintf(
		`SELECT key, data, created_at, updated_at FROM %s WHERE key = $1`,
		pgx.Identifier{table}.Sanitize(),
	)
	var rec Record
	err := p.pool.QueryRow(ctx, sql, key).Scan(&rec.Key, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewNotFoundError("store.Get", key)
		}
		return nil, core.NewStorageError("store.Get", err)
	}
	return &rec, nil
}

// Update replaces a row's document, failing on a missing key
func (p *PostgresStore) Update(ctx context.Context, table, key string, data []byte) error {
	sql := fmt.Sprintf(
		`UPDATE %s SET data = $2, updated_at = now() WHERE key = $1`,
		pgx.Identifier{table}.Sanitize(),
	)
	tag, err := p.pool.Exec(ctx, sql, key, data)
	if err != nil {
		return core.NewStorageError("store.Update", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("store.Update", key)
	}
	return nil
}

// Delete removes a row, failing on a missing key
func (p *PostgresStore) Delete(ctx context.Context, table, key string) error {
	sql := fmt.Sprintf(
		`DELETE FROM %s WHERE key = $1`,
		pgx.Identifier{table}.Sanitize(),
	)
	tag, err := p.pool.Exec(ctx, sql, key)
	if err != nil {
		return core.NewStorageError("store.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("store.Delete", key)
	}
	return nil
}

// List returns all rows of a table ordered by creation time
func (p *PostgresStore) List(ctx context.Context, table string) ([]Record, error) {
	sql := fmt.Sprintf(
		`SELECT key, data, created_at, updated_at FROM %s ORDER BY created_at, key`,
		pgx.Identifier{table}.Sanitize(),
	)
	rows, err := p.pool.Query(ctx, sql)
	if err != nil {
		return nil, core.NewStorageError("store.List", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, core.NewStorageError("store.List", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("store.List", err)
	}
	return out, nil
}

var _ EntityStore = (*PostgresStore)(nil)
