// Package schema is the physical schema access layer. It issues DDL against
// the storage engine, introspects table structure, performs bulk data copy,
// and installs the row-level change-capture triggers that the migration
// engine relies on.
package schema

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/example/tablestore/internal/persistence/sqlite"
)

// ColumnDef describes one physical column in declaration order.
type ColumnDef struct {
	Name string
	Type string
}

// TriggerEvent selects which row mutation a change-capture trigger forwards.
type TriggerEvent string

const (
	TriggerInsert TriggerEvent = "INSERT"
	TriggerUpdate TriggerEvent = "UPDATE"
	TriggerDelete TriggerEvent = "DELETE"
)

// standardColumns are the columns every physical table is created with: the
// identity column plus the four audit columns.
var standardColumns = map[string]struct{}{
	"id":         {},
	"created_by": {},
	"created_at": {},
	"updated_by": {},
	"updated_at": {},
}

// sqlTypePattern accepts declared SQL types such as TEXT, INTEGER, REAL,
// NUMERIC(10,2) or VARCHAR(255) while rejecting anything that could smuggle
// statements into interpolated DDL.
var sqlTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _]*(\([0-9, ]+\))?$`)

// auditTimestampExpr stamps audit columns in the engine's own clock, using
// the same fixed-width UTC layout the repositories write.
const auditTimestampExpr = `(strftime('%Y-%m-%dT%H:%M:%f000000Z','now'))`

// Manager issues DDL and bulk data operations through the connection pool.
type Manager struct {
	pool  *sqlite.ConnectionPool
	actor string
}

// NewManager creates a schema access layer stamping audit defaults with the
// given actor identity.
func NewManager(pool *sqlite.ConnectionPool, actor string) *Manager {
	if actor == "" {
		actor = "system"
	}
	return &Manager{pool: pool, actor: actor}
}

// SchemaExists reports whether the named schema is available.
func (m *Manager) SchemaExists(ctx context.Context, name string) (bool, error) {
	return m.pool.SchemaExists(ctx, name)
}

// CreateSchema idempotently creates (attaches) the named schema.
func (m *Manager) CreateSchema(ctx context.Context, name string) error {
	if err := m.pool.AttachSchema(ctx, name); err != nil {
		return NewDDLError(name, "", "create schema", err)
	}
	return nil
}

// TableExistsInSchema probes whether a physical table exists in a schema.
func (m *Manager) TableExistsInSchema(ctx context.Context, table, schema string) (bool, error) {
	if err := validIdents(schema, table); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s".sqlite_master WHERE type = 'table' AND name = ?`, schema)
	var count int
	if err := m.pool.DB().QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to probe table %s.%s: %w", schema, table, err)
	}
	return count > 0, nil
}

// CreateTable creates a physical table with the identity column and the four
// audit columns. Fails with DDLError when the name collides.
func (m *Manager) CreateTable(ctx context.Context, schema, table string) error {
	if err := validIdents(schema, table); err != nil {
		return err
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE "%[1]s"."%[2]s" (
			id INTEGER PRIMARY KEY,
			created_by TEXT NOT NULL DEFAULT '%[3]s',
			created_at TEXT NOT NULL DEFAULT %[4]s,
			updated_by TEXT NOT NULL DEFAULT '%[3]s',
			updated_at TEXT NOT NULL DEFAULT %[4]s
		)
	`, schema, table, m.actor, auditTimestampExpr)
	if _, err := m.pool.DB().ExecContext(ctx, ddl); err != nil {
		return NewDDLError(schema, table, "create table", err)
	}

	return m.createAuditTrigger(ctx, schema, table)
}

// createAuditTrigger installs the trigger that refreshes updated_at on every
// row update of a physical table.
func (m *Manager) createAuditTrigger(ctx context.Context, schema, table string) error {
	ddl := fmt.Sprintf(`
		CREATE TRIGGER "%[1]s"."%[2]s_audit_touch" AFTER UPDATE ON "%[2]s"
		FOR EACH ROW
		BEGIN
			UPDATE "%[2]s" SET updated_at = %[3]s WHERE id = NEW.id;
		END
	`, schema, table, auditTimestampExpr)
	if _, err := m.pool.DB().ExecContext(ctx, ddl); err != nil {
		return NewDDLError(schema, table, "create audit trigger", err)
	}
	return nil
}

// DropTable removes a physical table.
func (m *Manager) DropTable(ctx context.Context, schema, table string) error {
	if err := validIdents(schema, table); err != nil {
		return err
	}

	if _, err := m.pool.DB().ExecContext(ctx, fmt.Sprintf(`DROP TABLE "%s"."%s"`, schema, table)); err != nil {
		return NewDDLError(schema, table, "drop table", err)
	}
	return nil
}

// AddColumn adds a typed data column to a physical table.
func (m *Manager) AddColumn(ctx context.Context, schema, table, column, sqlType string) error {
	if err := validIdents(schema, table, column); err != nil {
		return err
	}
	if !sqlTypePattern.MatchString(sqlType) {
		return NewDDLError(schema, table, "add column", fmt.Errorf("invalid column type %q", sqlType))
	}

	ddl := fmt.Sprintf(`ALTER TABLE "%s"."%s" ADD COLUMN "%s" %s`, schema, table, column, sqlType)
	if _, err := m.pool.DB().ExecContext(ctx, ddl); err != nil {
		return NewDDLError(schema, table, "add column", err)
	}
	return nil
}

// RemoveColumn drops a data column from a physical table.
func (m *Manager) RemoveColumn(ctx context.Context, schema, table, column string) error {
	if err := validIdents(schema, table, column); err != nil {
		return err
	}
	if _, standard := standardColumns[column]; standard {
		return NewDDLError(schema, table, "remove column", fmt.Errorf("column %s is part of the table skeleton", column))
	}

	ddl := fmt.Sprintf(`ALTER TABLE "%s"."%s" DROP COLUMN "%s"`, schema, table, column)
	if _, err := m.pool.DB().ExecContext(ctx, ddl); err != nil {
		return NewDDLError(schema, table, "remove column", err)
	}
	return nil
}

// columnInfo is the full introspection record for one physical column.
type columnInfo struct {
	Name    string
	Type    string
	NotNull bool
	Default *string
	IsPK    bool
}

func (m *Manager) tableInfo(ctx context.Context, schema, table string) ([]columnInfo, error) {
	if err := validIdents(schema, table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT name, type, "notnull", dflt_value, pk FROM "%s".pragma_table_info(?) ORDER BY cid`, schema)
	rows, err := m.pool.DB().QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var infos []columnInfo
	for rows.Next() {
		var info columnInfo
		var notNull, pk int
		if err := rows.Scan(&info.Name, &info.Type, &notNull, &info.Default, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		info.NotNull = notNull != 0
		info.IsPK = pk != 0
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(infos) == 0 {
		return nil, NewDDLError(schema, table, "introspect", fmt.Errorf("table does not exist"))
	}

	return infos, nil
}

// TableStructure returns the ordered physical column names and declared SQL
// types of a table, used to clone its structure elsewhere.
func (m *Manager) TableStructure(ctx context.Context, schema, table string) ([]ColumnDef, error) {
	infos, err := m.tableInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	defs := make([]ColumnDef, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, ColumnDef{Name: info.Name, Type: info.Type})
	}
	return defs, nil
}

// DataColumns returns the table structure without the identity and audit
// columns.
func (m *Manager) DataColumns(ctx context.Context, schema, table string) ([]ColumnDef, error) {
	defs, err := m.TableStructure(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	data := make([]ColumnDef, 0, len(defs))
	for _, def := range defs {
		if _, standard := standardColumns[def.Name]; standard {
			continue
		}
		data = append(data, def)
	}
	return data, nil
}

// ColumnTypes returns the actual declared type of every column, read back
// from the engine rather than assumed, so callers can reconcile drift after
// ALTER operations.
func (m *Manager) ColumnTypes(ctx context.Context, schema, table string) (map[string]string, error) {
	defs, err := m.TableStructure(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	types := make(map[string]string, len(defs))
	for _, def := range defs {
		types[def.Name] = def.Type
	}
	return types, nil
}

// AlterColumnType changes the declared type of a data column. The engine has
// no in-place column retype, so the table is rebuilt: a replacement table is
// created with the new type, rows are CAST-copied, and the replacement is
// renamed over the original, all in one transaction. Before rebuilding, a
// probe counts rows whose value does not round-trip through the new type;
// any such row fails the operation with TypeConversionError.
func (m *Manager) AlterColumnType(ctx context.Context, schema, table, column, newType string) error {
	if err := validIdents(schema, table, column); err != nil {
		return err
	}
	if !sqlTypePattern.MatchString(newType) {
		return NewDDLError(schema, table, "alter column type", fmt.Errorf("invalid column type %q", newType))
	}
	if _, standard := standardColumns[column]; standard {
		return NewDDLError(schema, table, "alter column type", fmt.Errorf("column %s is part of the table skeleton", column))
	}

	infos, err := m.tableInfo(ctx, schema, table)
	if err != nil {
		return err
	}

	found := false
	for _, info := range infos {
		if info.Name == column {
			found = true
			break
		}
	}
	if !found {
		return NewDDLError(schema, table, "alter column type", fmt.Errorf("column %s does not exist", column))
	}

	probe := fmt.Sprintf(`
		SELECT COUNT(*) FROM "%[1]s"."%[2]s"
		WHERE "%[3]s" IS NOT NULL AND CAST(CAST("%[3]s" AS %[4]s) AS TEXT) <> CAST("%[3]s" AS TEXT)
	`, schema, table, column, newType)
	var lossy int64
	if err := m.pool.DB().QueryRowContext(ctx, probe).Scan(&lossy); err != nil {
		return NewDDLError(schema, table, "alter column type", err)
	}
	if lossy > 0 {
		return &TypeConversionError{Schema: schema, Table: table, Column: column, NewType: newType, Rows: lossy}
	}

	rebuild := table + "_retype"
	if err := m.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"."%s"`, schema, rebuild)); err != nil {
			return err
		}

		var colDefs []string
		var selectCols []string
		for _, info := range infos {
			colType := info.Type
			if info.Name == column {
				colType = newType
			}

			def := fmt.Sprintf(`"%s" %s`, info.Name, colType)
			if info.IsPK {
				def += " PRIMARY KEY"
			}
			if info.NotNull && !info.IsPK {
				def += " NOT NULL"
			}
			// Parenthesized so expression defaults survive the round trip
			// through pragma_table_info.
			if info.Default != nil {
				def += " DEFAULT (" + *info.Default + ")"
			}
			colDefs = append(colDefs, def)

			if info.Name == column {
				selectCols = append(selectCols, fmt.Sprintf(`CAST("%s" AS %s)`, info.Name, newType))
			} else {
				selectCols = append(selectCols, fmt.Sprintf(`"%s"`, info.Name))
			}
		}

		createSQL := fmt.Sprintf(`CREATE TABLE "%s"."%s" (%s)`, schema, rebuild, strings.Join(colDefs, ", "))
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return err
		}

		copySQL := fmt.Sprintf(`INSERT INTO "%[1]s"."%[2]s" SELECT %[3]s FROM "%[1]s"."%[4]s"`,
			schema, rebuild, strings.Join(selectCols, ", "), table)
		if _, err := tx.ExecContext(ctx, copySQL); err != nil {
			return err
		}

		// Dropping the original also drops its triggers; the audit trigger is
		// reinstalled below, outside this transaction.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE "%s"."%s"`, schema, table)); err != nil {
			return err
		}
		renameSQL := fmt.Sprintf(`ALTER TABLE "%s"."%s" RENAME TO "%s"`, schema, rebuild, table)
		if _, err := tx.ExecContext(ctx, renameSQL); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return NewDDLError(schema, table, "alter column type", err)
	}

	return m.createAuditTrigger(ctx, schema, table)
}

// validIdents checks every name against the identifier rules.
func validIdents(names ...string) error {
	for _, name := range names {
		if !sqlite.ValidIdent(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

// quoteList renders column names as a quoted, comma-separated list.
func quoteList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}

// StructureChecksum returns a BLAKE2b digest of the ordered column name/type
// list, letting callers verify that two tables share a structure without
// comparing them column by column.
func (m *Manager) StructureChecksum(ctx context.Context, schema, table string) (string, error) {
	defs, err := m.TableStructure(ctx, schema, table)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, def := range defs {
		b.WriteString(def.Name)
		b.WriteByte(':')
		b.WriteString(strings.ToUpper(def.Type))
		b.WriteByte('\n')
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}
