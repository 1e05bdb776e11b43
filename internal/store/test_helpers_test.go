package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/value"
)

// createTestStore creates a fresh on-disk store under t.TempDir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntity builds an entity with a couple of literal properties.
func createTestEntity(tenantID, id string) *entity.Entity {
	e := entity.New(tenantID, id, "widget")
	e.Properties["name"] = entity.Literal{Value: value.Text("anvil")}
	e.Properties["mass"] = entity.Literal{Value: value.NumUnit(12, "kg")}
	return e
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
