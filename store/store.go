// Package store provides the gateway's storage abstraction: every durable
// entity type is a table of key → JSON document rows. Typed repositories in
// the registry package marshal domain entities over this surface.
//
// Two backends exist: an in-memory map store for tests and single-node
// deployments, and a PostgreSQL store backed by an externally-owned
// pgxpool.Pool.
package store

import (
	"context"
	"time"
)

// Table names for the durable entity types
const (
	TableModels            = "models"
	TablePrompts           = "prompts"
	TableChains            = "chains"
	TableCredentials       = "credentials"
	TableWorkflows         = "workflows"
	TableExperiments       = "experiments"
	TableExperimentRecords = "experiment_records"
	TableUsageRecords      = "usage_records"
	TableBudgets           = "budgets"
	TableWebhooks          = "webhooks"
	TableWebhookDeliveries = "webhook_deliveries"
	TableTestCases         = "test_cases"
	TableTestCaseResults   = "test_case_results"
	TableExecutionLogs     = "execution_logs"
	TableAppConfiguration  = "app_configuration"
	TableUsers             = "users"
	TableTeams             = "teams"
	TableAPIKeys           = "api_keys"
)

// Tables enumerates every entity table, in migration order
var Tables = []string{
	TableModels, TablePrompts, TableChains, TableCredentials,
	TableWorkflows, TableExperiments, TableExperimentRecords,
	TableUsageRecords, TableBudgets, TableWebhooks,
	TableWebhookDeliveries, TableTestCases, TableTestCaseResults,
	TableExecutionLogs, TableAppConfiguration, TableUsers, TableTeams,
	TableAPIKeys,
}

// Record is one row of an entity table
type Record struct {
	Key       string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityStore is the generic CRUD surface over entity tables.
// Create fails with a conflict error on a duplicate key; Get, Update, and
// Delete fail with a not-found error on a missing key; backend transport
// failures surface as storage errors.
type EntityStore interface {
	Create(ctx context.Context, table, key string, data []byte) error
	Get(ctx context.Context, table, key string) (*Record, error)
	Update(ctx context.Context, table, key string, data []byte) error
	Delete(ctx context.Context, table, key string) error
	List(ctx context.Context, table string) ([]Record, error)
}
