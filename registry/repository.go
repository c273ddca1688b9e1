// Package registry provides typed repositories for the gateway's entities
// over the generic store.EntityStore surface. Repositories validate on
// write, serialize to JSON documents, and translate store errors into the
// gateway's error taxonomy.
package registry

import (
	"context"
	"encoding/json"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/store"
)

// Repository is a typed key-value store for one entity type with optional
// filtering. T is the entity struct; key extracts its id and validate runs
// before every write.
type Repository[T any] struct {
	store    store.EntityStore
	table    string
	key      func(*T) string
	validate func(*T) error
	logger   core.Logger
}

// NewRepository creates a repository bound to an entity table
func NewRepository[T any](s store.EntityStore, table string, key func(*T) string, validate func(*T) error, logger core.Logger) *Repository[T] {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Repository[T]{store: s, table: table, key: key, validate: validate, logger: logger}
}

// Create validates and inserts an entity; a duplicate id is a conflict
func (r *Repository[T]) Create(ctx context.Context, entity *T) error {
	if r.validate != nil {
		if err := r.validate(entity); err != nil {
			return err
		}
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return core.NewInternalError("repository.Create", err)
	}
	if err := r.store.Create(ctx, r.table, r.key(entity), data); err != nil {
		return err
	}
	r.logger.Debug("Entity created", map[string]interface{}{
		"operation": "repository_create",
		"table":     r.table,
		"id":        r.key(entity),
	})
	return nil
}

// Get retrieves an entity by id
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	rec, err := r.store.Get(ctx, r.table, id)
	if err != nil {
		return nil, err
	}
	var entity T
	if err := json.Unmarshal(rec.Data, &entity); err != nil {
		return nil, core.NewInternalError("repository.Get", err)
	}
	return &entity, nil
}

// Update validates and replaces an entity; a missing id is not-found
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	if r.validate != nil {
		if err := r.validate(entity); err != nil {
			return err
		}
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return core.NewInternalError("repository.Update", err)
	}
	return r.store.Update(ctx, r.table, r.key(entity), data)
}

// Delete removes an entity by id
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, r.table, id)
}

// List returns all entities ordered by creation time
func (r *Repository[T]) List(ctx context.Context) ([]*T, error) {
	return r.ListFiltered(ctx, nil)
}

// ListFiltered returns the entities matching the predicate, in creation
// order. A nil predicate matches everything.
func (r *Repository[T]) ListFiltered(ctx context.Context, pred func(*T) bool) ([]*T, error) {
	recs, err := r.store.List(ctx, r.table)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var entity T
		if err := json.Unmarshal(rec.Data, &entity); err != nil {
			return nil, core.NewInternalError("repository.List", err)
		}
		if pred == nil || pred(&entity) {
			out = append(out, &entity)
		}
	}
	return out, nil
}
