package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/example/tablestore/internal/testfixtures"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testfixtures.NewPool(t), "system")
}

func TestManager_CreateTable(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateTable(ctx, "main", "t_customers"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	structure, err := m.TableStructure(ctx, "main", "t_customers")
	if err != nil {
		t.Fatalf("TableStructure failed: %v", err)
	}

	expected := []string{"id", "created_by", "created_at", "updated_by", "updated_at"}
	if len(structure) != len(expected) {
		t.Fatalf("expected %d skeleton columns, got %d", len(expected), len(structure))
	}
	for i, name := range expected {
		if structure[i].Name != name {
			t.Errorf("expected column %d to be %s, got %s", i, name, structure[i].Name)
		}
	}
}

func TestManager_CreateTable_Collision(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateTable(ctx, "main", "t_dup"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	err := m.CreateTable(ctx, "main", "t_dup")
	var ddlErr *DDLError
	if !errors.As(err, &ddlErr) {
		t.Fatalf("expected DDLError on name collision, got %v", err)
	}
	if ddlErr.Operation != "create table" {
		t.Errorf("expected create table operation in error, got %s", ddlErr.Operation)
	}
}

func TestManager_AddColumnAndColumnTypes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateTable(ctx, "main", "t_customers"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_customers", "c_name", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_customers", "c_age", "INTEGER"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}

	types, err := m.ColumnTypes(ctx, "main", "t_customers")
	if err != nil {
		t.Fatalf("ColumnTypes failed: %v", err)
	}
	if types["c_name"] != "TEXT" {
		t.Errorf("expected c_name TEXT, got %s", types["c_name"])
	}
	if types["c_age"] != "INTEGER" {
		t.Errorf("expected c_age INTEGER, got %s", types["c_age"])
	}

	data, err := m.DataColumns(ctx, "main", "t_customers")
	if err != nil {
		t.Fatalf("DataColumns failed: %v", err)
	}
	if len(data) != 2 {
		t.Errorf("expected 2 data columns, got %d", len(data))
	}
}

func TestManager_AddColumn_RejectsBadType(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateTable(ctx, "main", "t_x"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	err := m.AddColumn(ctx, "main", "t_x", "c_bad", "TEXT; DROP TABLE t_x")
	var ddlErr *DDLError
	if !errors.As(err, &ddlErr) {
		t.Fatalf("expected DDLError for malicious type, got %v", err)
	}
}

func TestManager_RemoveColumn(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateTable(ctx, "main", "t_x"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_x", "c_gone", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}

	if err := m.RemoveColumn(ctx, "main", "t_x", "c_gone"); err != nil {
		t.Fatalf("RemoveColumn failed: %v", err)
	}

	types, err := m.ColumnTypes(ctx, "main", "t_x")
	if err != nil {
		t.Fatalf("ColumnTypes failed: %v", err)
	}
	if _, still := types["c_gone"]; still {
		t.Error("expected c_gone to be removed")
	}

	// The skeleton is off limits.
	if err := m.RemoveColumn(ctx, "main", "t_x", "id"); err == nil {
		t.Error("expected error removing the identity column")
	}
}

func TestManager_AlterColumnType(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	db := m.pool.DB()

	if err := m.CreateTable(ctx, "main", "t_people"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_people", "c_age", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_people (c_age) VALUES ('42'), ('7')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := m.AlterColumnType(ctx, "main", "t_people", "c_age", "INTEGER"); err != nil {
		t.Fatalf("AlterColumnType failed: %v", err)
	}

	types, err := m.ColumnTypes(ctx, "main", "t_people")
	if err != nil {
		t.Fatalf("ColumnTypes failed: %v", err)
	}
	if types["c_age"] != "INTEGER" {
		t.Errorf("expected c_age INTEGER after alter, got %s", types["c_age"])
	}

	// Rows survive the rebuild.
	rows, err := m.RowCount(ctx, "main", "t_people")
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected 2 rows after rebuild, got %d", rows)
	}
}

func TestManager_AlterColumnType_LossyDataRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	db := m.pool.DB()

	if err := m.CreateTable(ctx, "main", "t_people"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_people", "c_age", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_people (c_age) VALUES ('42'), ('unknown')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := m.AlterColumnType(ctx, "main", "t_people", "c_age", "INTEGER")
	var convErr *TypeConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected TypeConversionError, got %v", err)
	}
	if convErr.Rows != 1 {
		t.Errorf("expected 1 lossy row, got %d", convErr.Rows)
	}

	// The failed alter must leave the column untouched.
	types, err := m.ColumnTypes(ctx, "main", "t_people")
	if err != nil {
		t.Fatalf("ColumnTypes failed: %v", err)
	}
	if types["c_age"] != "TEXT" {
		t.Errorf("expected c_age to remain TEXT, got %s", types["c_age"])
	}
}

func TestManager_SchemaLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	exists, err := m.SchemaExists(ctx, "dmgr")
	if err != nil {
		t.Fatalf("SchemaExists failed: %v", err)
	}
	if exists {
		t.Fatal("dmgr should not exist yet")
	}

	if err := m.CreateSchema(ctx, "dmgr"); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	if err := m.CreateSchema(ctx, "dmgr"); err != nil {
		t.Fatalf("CreateSchema should be idempotent: %v", err)
	}

	exists, err = m.SchemaExists(ctx, "dmgr")
	if err != nil {
		t.Fatalf("SchemaExists failed: %v", err)
	}
	if !exists {
		t.Error("dmgr should exist after CreateSchema")
	}

	if err := m.CreateTable(ctx, "dmgr", "t_remote"); err != nil {
		t.Fatalf("CreateTable in dmgr failed: %v", err)
	}

	present, err := m.TableExistsInSchema(ctx, "t_remote", "dmgr")
	if err != nil {
		t.Fatalf("TableExistsInSchema failed: %v", err)
	}
	if !present {
		t.Error("t_remote should exist in dmgr")
	}

	absent, err := m.TableExistsInSchema(ctx, "t_remote", "main")
	if err != nil {
		t.Fatalf("TableExistsInSchema failed: %v", err)
	}
	if absent {
		t.Error("t_remote should not exist in main")
	}
}

func TestManager_StructureChecksum(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.CreateTable(ctx, "main", "t_a"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_a", "c_name", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if err := m.CloneTableStructure(ctx, "main", "t_a", "main", "t_b"); err != nil {
		t.Fatalf("CloneTableStructure failed: %v", err)
	}

	sumA, err := m.StructureChecksum(ctx, "main", "t_a")
	if err != nil {
		t.Fatalf("StructureChecksum failed: %v", err)
	}
	sumB, err := m.StructureChecksum(ctx, "main", "t_b")
	if err != nil {
		t.Fatalf("StructureChecksum failed: %v", err)
	}
	if sumA != sumB {
		t.Errorf("cloned structures should share a checksum: %s vs %s", sumA, sumB)
	}

	if err := m.AddColumn(ctx, "main", "t_b", "c_extra", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	sumB2, err := m.StructureChecksum(ctx, "main", "t_b")
	if err != nil {
		t.Fatalf("StructureChecksum failed: %v", err)
	}
	if sumA == sumB2 {
		t.Error("divergent structures must not share a checksum")
	}
}

func TestManager_AuditColumnsStamped(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	db := m.pool.DB()

	if err := m.CreateTable(ctx, "main", "t_audited"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := m.AddColumn(ctx, "main", "t_audited", "c_v", "TEXT"); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO main.t_audited (c_v) VALUES ('x')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var createdBy, createdAt, updatedAt string
	err := db.QueryRowContext(ctx, `SELECT created_by, created_at, updated_at FROM main.t_audited WHERE id = 1`).
		Scan(&createdBy, &createdAt, &updatedAt)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if createdBy != "system" {
		t.Errorf("expected created_by system, got %s", createdBy)
	}
	if createdAt == "" {
		t.Error("expected created_at to be stamped")
	}

	if _, err := db.ExecContext(ctx, `UPDATE main.t_audited SET c_v = 'y' WHERE id = 1`); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	var touched string
	if err := db.QueryRowContext(ctx, `SELECT updated_at FROM main.t_audited WHERE id = 1`).Scan(&touched); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if touched < updatedAt {
		t.Errorf("expected updated_at to move forward, was %s now %s", updatedAt, touched)
	}
}
