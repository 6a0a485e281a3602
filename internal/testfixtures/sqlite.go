package testfixtures

import (
	"context"
	"testing"

	"github.com/example/tablestore/internal/persistence/sqlite"
)

// NewPool opens a connection pool over a temporary data directory and
// registers its cleanup with the test.
func NewPool(t *testing.T) *sqlite.ConnectionPool {
	t.Helper()

	pool, err := sqlite.Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("failed to close pool: %v", err)
		}
	})

	return pool
}

// NewMetadataPool opens a pool and materializes the metadata tables in the
// primary schema.
func NewMetadataPool(t *testing.T) *sqlite.ConnectionPool {
	t.Helper()

	pool := NewPool(t)
	if err := sqlite.EnsureMetadataTables(context.Background(), pool, "main"); err != nil {
		t.Fatalf("failed to create metadata tables: %v", err)
	}
	return pool
}

// AttachSchema attaches an additional schema to the pool, failing the test on
// error.
func AttachSchema(t *testing.T, pool *sqlite.ConnectionPool, name string) {
	t.Helper()

	if err := pool.AttachSchema(context.Background(), name); err != nil {
		t.Fatalf("failed to attach schema %s: %v", name, err)
	}
}
