package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const logicalTablesDDL = `
	CREATE TABLE IF NOT EXISTS "%[1]s".logical_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		physical_name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL DEFAULT 'runtime',
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)
`

const logicalColumnsDDL = `
	CREATE TABLE IF NOT EXISTS "%[1]s".logical_columns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_id INTEGER NOT NULL REFERENCES logical_tables(id) ON DELETE CASCADE,
		physical_name TEXT NOT NULL,
		label TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (table_id, physical_name)
	)
`

// Backup tables carry the same columns plus the snapshot timestamp. They are
// append-only, so the id column is deliberately not a primary key.
const logicalTablesBackupDDL = `
	CREATE TABLE IF NOT EXISTS "%[1]s".logical_tables_backup (
		id INTEGER NOT NULL,
		label TEXT NOT NULL,
		physical_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL DEFAULT 'runtime',
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		backup_at TEXT NOT NULL
	)
`

const logicalColumnsBackupDDL = `
	CREATE TABLE IF NOT EXISTS "%[1]s".logical_columns_backup (
		id INTEGER NOT NULL,
		table_id INTEGER NOT NULL,
		physical_name TEXT NOT NULL,
		label TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		backup_at TEXT NOT NULL
	)
`

// EnsureMetadataTables idempotently creates the metadata tables in the given
// schema and upgrades metadata tables written by older versions of the system
// whose column table lacked cascade-delete semantics.
func EnsureMetadataTables(ctx context.Context, pool *ConnectionPool, schema string) error {
	if !ValidIdent(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}

	for _, ddl := range []string{logicalTablesDDL, logicalColumnsDDL, logicalTablesBackupDDL, logicalColumnsBackupDDL} {
		if _, err := pool.DB().ExecContext(ctx, fmt.Sprintf(ddl, schema)); err != nil {
			return fmt.Errorf("failed to create metadata tables in schema %s: %w", schema, err)
		}
	}

	return upgradeLegacyColumnConstraints(ctx, pool, schema)
}

// upgradeLegacyColumnConstraints rebuilds logical_columns with ON DELETE
// CASCADE when the table was created by a release that omitted it. SQLite
// cannot alter a foreign key in place, so the upgrade copies the rows into a
// replacement table and renames it over the original, all in one transaction.
func upgradeLegacyColumnConstraints(ctx context.Context, pool *ConnectionPool, schema string) error {
	var createSQL string
	query := fmt.Sprintf(`SELECT sql FROM "%s".sqlite_master WHERE type = 'table' AND name = 'logical_columns'`, schema)
	if err := pool.DB().QueryRowContext(ctx, query).Scan(&createSQL); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("failed to inspect logical_columns in schema %s: %w", schema, err)
	}

	if strings.Contains(strings.ToUpper(createSQL), "ON DELETE CASCADE") {
		return nil
	}

	return pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s".logical_columns_upgrade`, schema)); err != nil {
			return fmt.Errorf("failed to clear stale upgrade table in schema %s: %w", schema, err)
		}
		upgradeDDL := strings.Replace(fmt.Sprintf(logicalColumnsDDL, schema),
			"logical_columns", "logical_columns_upgrade", 1)
		if _, err := tx.ExecContext(ctx, upgradeDDL); err != nil {
			return fmt.Errorf("failed to create upgraded logical_columns in schema %s: %w", schema, err)
		}
		copySQL := fmt.Sprintf(`INSERT INTO "%[1]s".logical_columns_upgrade SELECT * FROM "%[1]s".logical_columns`, schema)
		if _, err := tx.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("failed to copy logical_columns in schema %s: %w", schema, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE "%s".logical_columns`, schema)); err != nil {
			return fmt.Errorf("failed to drop legacy logical_columns in schema %s: %w", schema, err)
		}
		renameSQL := fmt.Sprintf(`ALTER TABLE "%s".logical_columns_upgrade RENAME TO logical_columns`, schema)
		if _, err := tx.ExecContext(ctx, renameSQL); err != nil {
			return fmt.Errorf("failed to rename upgraded logical_columns in schema %s: %w", schema, err)
		}
		return nil
	})
}
