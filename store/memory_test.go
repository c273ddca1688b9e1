package store

import (
	"context"
	"testing"
	"time"

	"github.com/modelgate/modelgate/core"
)

func TestMemoryStoreCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, TableModels, "m-1", []byte(`{"id":"m-1"}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := s.Get(ctx, TableModels, "m-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Key != "m-1" || string(rec.Data) != `{"id":"m-1"}` {
		t.Errorf("record = %+v", rec)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}

	if err := s.Update(ctx, TableModels, "m-1", []byte(`{"id":"m-1","v":2}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, _ = s.Get(ctx, TableModels, "m-1")
	if string(rec.Data) != `{"id":"m-1","v":2}` {
		t.Errorf("data after update = %s", rec.Data)
	}

	if err := s.Delete(ctx, TableModels, "m-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, TableModels, "m-1"); !core.IsNotFound(err) {
		t.Errorf("Get after delete = %v, want not found", err)
	}
}

func TestMemoryStoreConflictAndNotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, TableChains, "c-1", []byte(`{}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, TableChains, "c-1", []byte(`{}`)); !core.IsConflict(err) {
		t.Errorf("duplicate Create = %v, want conflict", err)
	}

	if err := s.Update(ctx, TableChains, "missing", []byte(`{}`)); !core.IsNotFound(err) {
		t.Errorf("Update missing = %v, want not found", err)
	}
	if err := s.Delete(ctx, TableChains, "missing"); !core.IsNotFound(err) {
		t.Errorf("Delete missing = %v, want not found", err)
	}

	// tables are isolated namespaces
	if _, err := s.Get(ctx, TableModels, "c-1"); !core.IsNotFound(err) {
		t.Errorf("cross-table Get = %v, want not found", err)
	}
}

func TestMemoryStoreListOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// deterministic clock so creation order is unambiguous
	tick := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for _, key := range []string{"c", "a", "b"} {
		if err := s.Create(ctx, TablePrompts, key, []byte(`{}`)); err != nil {
			t.Fatalf("Create %s: %v", key, err)
		}
	}

	recs, err := s.List(ctx, TablePrompts)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.Key
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List order = %v, want creation order %v", got, want)
		}
	}

	empty, err := s.List(ctx, "nonexistent-table")
	if err != nil || len(empty) != 0 {
		t.Errorf("List of missing table = %v, %v, want empty", empty, err)
	}
}

func TestMemoryStoreIsolatesStoredBytes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	data := []byte(`{"id":"m-1"}`)
	if err := s.Create(ctx, TableModels, "m-1", data); err != nil {
		t.Fatalf("Create: %v", err)
	}
	data[2] = 'X' // caller mutates its buffer after the write

	rec, _ := s.Get(ctx, TableModels, "m-1")
	if string(rec.Data) != `{"id":"m-1"}` {
		t.Error("store shares the caller's byte slice")
	}

	rec.Data[2] = 'Y' // reader mutates the returned copy
	rec2, _ := s.Get(ctx, TableModels, "m-1")
	if string(rec2.Data) != `{"id":"m-1"}` {
		t.Error("store shares returned byte slices between readers")
	}
}
