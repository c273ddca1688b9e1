package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelgate/modelgate/core"
)

// Migration is one monotone schema change. Versions must be strictly
// increasing; a migration already present in _migrations is skipped, which
// makes running the full list idempotent.
type Migration struct {
	Version     int64
	Description string
	SQL         []string
}

// Migrations is the full, ordered schema history
func Migrations() []Migration {
	entityTables := make([]string, 0, len(Tables))
	for _, t := range Tables {
		entityTables = append(entityTables, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, pgx.Identifier{t}.Sanitize()))
	}

	return []Migration{
		{
			Version:     1,
			Description: "create entity tables",
			SQL:         entityTables,
		},
		{
			Version:     2,
			Description: "index webhook deliveries by status",
			SQL: []string{
				`CREATE INDEX IF NOT EXISTS webhook_deliveries_status_idx
					ON webhook_deliveries ((data->>'status'))`,
			},
		},
		{
			Version:     3,
			Description: "index usage records by api key",
			SQL: []string{
				`CREATE INDEX IF NOT EXISTS usage_records_api_key_idx
					ON usage_records ((data->>'api_key_id'))`,
			},
		},
	}
}

// Migrator applies migrations against a Postgres pool
type Migrator struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// NewMigrator creates a migrator over an existing pool
func NewMigrator(pool *pgxpool.Pool, logger core.Logger) *Migrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Migrator{pool: pool, logger: logger}
}

// Run applies every migration not yet recorded in _migrations, in version
// order. Each migration runs in its own transaction.
func (m *Migrator) Run(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version BIGINT PRIMARY KEY,
		description TEXT NOT NULL,
		installed_on TIMESTAMPTZ NOT NULL DEFAULT now(),
		success BOOLEAN NOT NULL
	)`)
	if err != nil {
		return core.NewStorageError("migrate.init", err)
	}

	var last int64 = -1
	for _, mig := range Migrations() {
		if mig.Version <= last {
			return core.NewInternalError("migrate.order",
				fmt.Errorf("migration versions must be strictly increasing, got %d after %d", mig.Version, last))
		}
		last = mig.Version

		applied, err := m.isApplied(ctx, mig.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := m.apply(ctx, mig); err != nil {
			return err
		}
		m.logger.Info("Migration applied", map[string]interface{}{
			"operation":   "migrate_apply",
			"version":     mig.Version,
			"description": mig.Description,
		})
	}
	return nil
}

func (m *Migrator) isApplied(ctx context.Context, version int64) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM _migrations WHERE version = $1 AND success)`,
		version,
	).Scan(&exists)
	if err != nil {
		return false, core.NewStorageError("migrate.check", err)
	}
	return exists, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return core.NewStorageError("migrate.begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range mig.SQL {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return core.NewStorageError(fmt.Sprintf("migrate.v%d", mig.Version), err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, description, success) VALUES ($1, $2, true)`,
		mig.Version, mig.Description,
	); err != nil {
		return core.NewStorageError("migrate.record", err)
	}
	return tx.Commit(ctx)
}
