package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func newTestPool(t *testing.T) *ConnectionPool {
	t.Helper()

	pool, err := Open(t.TempDir(), "main")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	return pool
}

func TestFormatTime_RoundTrip(t *testing.T) {
	instant := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

	parsed, err := ParseTime(FormatTime(instant))
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if !parsed.Equal(instant) {
		t.Errorf("expected %v, got %v", instant, parsed)
	}
}

func TestFormatTime_LexicallySortable(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	// Sub-second steps must stay ordered; RFC3339 truncation would collapse
	// these into equal strings.
	earlier := FormatTime(base.Add(100 * time.Nanosecond))
	later := FormatTime(base.Add(200 * time.Nanosecond))
	if !(earlier < later) {
		t.Errorf("expected %s < %s", earlier, later)
	}
}

func TestValidIdent(t *testing.T) {
	valid := []string{"main", "dmgr", "t_0192f3a4", "logical_tables", "_private"}
	for _, name := range valid {
		if !ValidIdent(name) {
			t.Errorf("expected %q to be a valid identifier", name)
		}
	}

	invalid := []string{"", "Main", "1table", "foo-bar", `t"; DROP TABLE x;--`, "a b"}
	for _, name := range invalid {
		if ValidIdent(name) {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestConnectionPool_AttachSchema(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	exists, err := pool.SchemaExists(ctx, "dmgr")
	if err != nil {
		t.Fatalf("SchemaExists failed: %v", err)
	}
	if exists {
		t.Fatal("dmgr should not exist before attach")
	}

	if err := pool.AttachSchema(ctx, "dmgr"); err != nil {
		t.Fatalf("AttachSchema failed: %v", err)
	}

	// Idempotent.
	if err := pool.AttachSchema(ctx, "dmgr"); err != nil {
		t.Fatalf("repeated AttachSchema failed: %v", err)
	}

	exists, err = pool.SchemaExists(ctx, "dmgr")
	if err != nil {
		t.Fatalf("SchemaExists failed: %v", err)
	}
	if !exists {
		t.Error("dmgr should exist after attach")
	}
}

func TestConnectionPool_AttachSchema_InvalidName(t *testing.T) {
	pool := newTestPool(t)

	if err := pool.AttachSchema(context.Background(), "bad name"); err == nil {
		t.Fatal("expected error for invalid schema name")
	}
}

func TestConnectionPool_WithTransaction_RollsBackOnError(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	if _, err := pool.DB().ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	boom := errors.New("boom")
	err := pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('orphan')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}

	var count int
	if err := pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to discard the insert, found %d rows", count)
	}
}

func TestErrorMapper_MapError(t *testing.T) {
	mapper := NewErrorMapper()

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"unique", "UNIQUE constraint failed: logical_tables.physical_name", "duplicate record"},
		{"foreign key", "FOREIGN KEY constraint failed", "foreign key violation"},
		{"check", "CHECK constraint failed: version", "constraint violation"},
		{"locked", "database is locked", "database locked"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapper.MapError(errors.New(tc.input))
			if mapped == nil || !containsAny(mapped.Error(), []string{tc.expected}) {
				t.Errorf("expected %q in mapped error, got %v", tc.expected, mapped)
			}
		})
	}

	if mapper.MapError(nil) != nil {
		t.Error("nil should map to nil")
	}
}
