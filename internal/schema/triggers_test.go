package schema

import (
	"context"
	"testing"
)

// setupMirrorPair creates a source and destination table sharing one data
// column and returns their names.
func setupMirrorPair(t *testing.T, m *Manager) (src, dst string) {
	t.Helper()
	ctx := context.Background()

	src, dst = "t_src", "t_dst"
	for _, table := range []string{src, dst} {
		if err := m.CreateTable(ctx, "main", table); err != nil {
			t.Fatalf("CreateTable %s failed: %v", table, err)
		}
		if err := m.AddColumn(ctx, "main", table, "c_v", "TEXT"); err != nil {
			t.Fatalf("AddColumn %s failed: %v", table, err)
		}
	}
	return src, dst
}

func TestCreateChangeTriggers_MirrorsMutations(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	db := m.pool.DB()

	src, dst := setupMirrorPair(t, m)

	installed, err := m.CreateChangeTriggers(ctx, "main", src, dst)
	if err != nil {
		t.Fatalf("CreateChangeTriggers failed: %v", err)
	}
	if len(installed) != 3 {
		t.Fatalf("expected 3 triggers installed, got %d", len(installed))
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_src (id, c_v) VALUES (1, 'a'), (2, 'b')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var dstRows int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM main.t_dst`).Scan(&dstRows); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if dstRows != 2 {
		t.Fatalf("expected inserts forwarded, got %d rows", dstRows)
	}

	if _, err := db.ExecContext(ctx, `UPDATE main.t_src SET c_v = 'changed' WHERE id = 1`); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	var v string
	if err := db.QueryRowContext(ctx, `SELECT c_v FROM main.t_dst WHERE id = 1`).Scan(&v); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if v != "changed" {
		t.Errorf("expected update forwarded, got %q", v)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM main.t_src WHERE id = 2`); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM main.t_dst`).Scan(&dstRows); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if dstRows != 1 {
		t.Errorf("expected delete forwarded, got %d rows", dstRows)
	}
}

func TestCreateChangeTriggers_SkipsExisting(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src, dst := setupMirrorPair(t, m)

	if _, err := m.CreateChangeTriggers(ctx, "main", src, dst); err != nil {
		t.Fatalf("CreateChangeTriggers failed: %v", err)
	}
	// A retried migration finds the triggers already installed.
	installed, err := m.CreateChangeTriggers(ctx, "main", src, dst)
	if err != nil {
		t.Fatalf("repeated CreateChangeTriggers failed: %v", err)
	}
	if len(installed) != 3 {
		t.Errorf("expected 3 triggers reported on retry, got %d", len(installed))
	}

	for _, name := range TriggerNames(dst) {
		exists, err := m.TriggerExists(ctx, "main", name)
		if err != nil {
			t.Fatalf("TriggerExists failed: %v", err)
		}
		if !exists {
			t.Errorf("expected trigger %s to exist", name)
		}
	}
}

func TestCreateTrigger_RejectsCrossSchema(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateSchema(ctx, "dmgr"); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}

	err := m.CreateTrigger(ctx, "t_dst_fwd_insert", "t_src", "main", "t_dst", "dmgr", TriggerInsert)
	if err == nil {
		t.Fatal("expected cross-schema trigger to be rejected")
	}
}

func TestBulkCopyTableData(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	db := m.pool.DB()

	src, dst := setupMirrorPair(t, m)

	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_src (id, c_v) VALUES (1, 'a'), (2, 'b'), (3, 'c')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	// A row the triggers already forwarded; the copy must converge on it, not
	// fail.
	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_dst (id, c_v) VALUES (2, 'stale')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := m.BulkCopyTableData(ctx, src, "main", dst, "main"); err != nil {
		t.Fatalf("BulkCopyTableData failed: %v", err)
	}

	count, err := m.RowCount(ctx, "main", dst)
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows after copy, got %d", count)
	}

	var v string
	if err := db.QueryRowContext(ctx, `SELECT c_v FROM main.t_dst WHERE id = 2`).Scan(&v); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if v != "b" {
		t.Errorf("expected source value to win on id collision, got %q", v)
	}
}

func TestBulkCopyTableData_SharedColumnsOnly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	db := m.pool.DB()

	src, dst := setupMirrorPair(t, m)
	// The destination carries an extra column the source lacks.
	if err := m.AddColumn(ctx, "main", dst, "c_extra", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_src (id, c_v) VALUES (1, 'a')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := m.BulkCopyTableData(ctx, src, "main", dst, "main"); err != nil {
		t.Fatalf("BulkCopyTableData failed: %v", err)
	}

	var v string
	var extra *string
	if err := db.QueryRowContext(ctx, `SELECT c_v, c_extra FROM main.t_dst WHERE id = 1`).Scan(&v, &extra); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if v != "a" {
		t.Errorf("expected shared column copied, got %q", v)
	}
	if extra != nil {
		t.Errorf("expected unshared column to stay NULL, got %q", *extra)
	}
}
