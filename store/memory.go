package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modelgate/modelgate/core"
)

// MemoryStore is an in-memory implementation of EntityStore.
// Write paths are short map operations under a single read-write lock;
// no lock is held across a suspension point.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Record
	logger core.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]Record),
		logger: &core.NoOpLogger{},
		now:    time.Now,
	}
}

// SetLogger configures the logger for this store
func (m *MemoryStore) SetLogger(logger core.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func (m *MemoryStore) table(name string) map[string]Record {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[string]Record)
		m.tables[name] = t
	}
	return t
}

// Create inserts a new row, failing on a duplicate key
func (m *MemoryStore) Create(ctx context.Context, table, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	if _, exists := t[key]; exists {
		return core.NewConflictError("store.Create", key)
	}

	now := m.now()
	t[key] = Record{Key: key, Data: cloneBytes(data), CreatedAt: now, UpdatedAt: now}

	m.logger.Debug("Entity created", map[string]interface{}{
		"operation": "store_create",
		"table":     table,
		"key":       key,
	})
	return nil
}

// Get retrieves a row by key
func (m *MemoryStore) Get(ctx context.Context, table, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.tables[table][key]
	if !exists {
		return nil, core.NewNotFoundError("store.Get", key)
	}
	cp := rec
	cp.Data = cloneBytes(rec.Data)
	return &cp, nil
}

// Update replaces a row's document, failing on a missing key
func (m *MemoryStore) Update(ctx context.Context, table, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	rec, exists := t[key]
	if !exists {
		return core.NewNotFoundError("store.Update", key)
	}

	rec.Data = cloneBytes(data)
	rec.UpdatedAt = m.now()
	t[key] = rec
	return nil
}

// Delete removes a row, failing on a missing key
func (m *MemoryStore) Delete(ctx context.Context, table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	if _, exists := t[key]; !exists {
		return core.NewNotFoundError("store.Delete", key)
	}
	delete(t, key)
	return nil
}

// List returns all rows of a table ordered by creation time
func (m *MemoryStore) List(ctx context.Context, table string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.tables[table]
	out := make([]Record, 0, len(t))
	for _, rec := range t {
		cp := rec
		cp.Data = cloneBytes(rec.Data)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

var _ EntityStore = (*MemoryStore)(nil)
