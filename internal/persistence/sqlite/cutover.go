package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/tablestore/internal/persistence"
)

// CutoverParams describes one metadata cutover: repointing the target-schema
// metadata of a logical table at the physical table that now holds its data.
type CutoverParams struct {
	TargetSchema string
	// Source is the logical table row read from the source schema.
	Source persistence.LogicalTable
	// SourceColumns are the column rows owned by Source.
	SourceColumns []persistence.LogicalColumn
	// PhysicalName is the physical table in the target schema that holds the
	// migrated data (the shadow name on the shadow-copy path).
	PhysicalName string
	Actor        string
	Now          time.Time
	// Retention is the number of backup snapshots kept per row.
	Retention int
}

// CutoverStore applies the metadata cutover as a single transaction. Every
// destructive update is preceded by an append-only backup snapshot, and the
// backups are pruned to the retention limit afterwards.
type CutoverStore struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewCutoverStore creates a new cutover store.
func NewCutoverStore(pool *ConnectionPool) *CutoverStore {
	return &CutoverStore{
		pool:   pool,
		mapper: NewErrorMapper(),
	}
}

// Apply performs the cutover. If target-schema metadata already exists for
// the logical table's label, the existing rows are backed up, the physical
// link is repointed with a version bump, and the column rows are reconciled
// against the source. Otherwise the source rows are inserted verbatim,
// keeping their schema-local ids.
func (s *CutoverStore) Apply(ctx context.Context, params CutoverParams) error {
	if !ValidIdent(params.TargetSchema) {
		return persistence.ErrConstraintViolation
	}

	return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		existing, found, err := getTableByLabelTx(ctx, tx, params.TargetSchema, params.Source.Label)
		if err != nil {
			return err
		}

		if found {
			return s.repointExisting(ctx, tx, params, existing)
		}
		return s.insertVerbatim(ctx, tx, params)
	})
}

func (s *CutoverStore) repointExisting(ctx context.Context, tx *sql.Tx, params CutoverParams, existing persistence.LogicalTable) error {
	schema := params.TargetSchema
	stamp := FormatTime(params.Now)

	if err := backupTableTx(ctx, tx, schema, existing.ID, params.Now); err != nil {
		return err
	}
	if err := pruneBackupsTx(ctx, tx, schema, existing.ID, params.Retention); err != nil {
		return err
	}

	updateSQL := fmt.Sprintf(`
		UPDATE "%s".logical_tables
		SET physical_name = ?, description = ?, classification = ?, version = version + 1, updated_by = ?, updated_at = ?
		WHERE id = ?
	`, schema)
	if _, err := tx.ExecContext(ctx, updateSQL,
		params.PhysicalName,
		params.Source.Description,
		string(params.Source.Classification),
		params.Actor,
		stamp,
		existing.ID,
	); err != nil {
		return fmt.Errorf("failed to repoint logical table %d in schema %s: %w", existing.ID, schema, s.mapper.MapError(err))
	}

	return s.reconcileColumns(ctx, tx, params, existing.ID)
}

// reconcileColumns upserts the source column rows under the existing target
// table and prunes target columns that the source no longer has.
func (s *CutoverStore) reconcileColumns(ctx context.Context, tx *sql.Tx, params CutoverParams, targetTableID int64) error {
	schema := params.TargetSchema
	stamp := FormatTime(params.Now)

	existingSQL := fmt.Sprintf(`SELECT id, physical_name FROM "%s".logical_columns WHERE table_id = ?`, schema)
	rows, err := tx.QueryContext(ctx, existingSQL, targetTableID)
	if err != nil {
		return fmt.Errorf("failed to list target columns for table %d in schema %s: %w", targetTableID, schema, err)
	}
	existingByName := make(map[string]int64)
	for rows.Next() {
		var id int64
		var physicalName string
		if err := rows.Scan(&id, &physicalName); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan target column: %w", err)
		}
		existingByName[physicalName] = id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	sourceNames := make(map[string]struct{}, len(params.SourceColumns))
	for _, col := range params.SourceColumns {
		sourceNames[col.PhysicalName] = struct{}{}

		if existingID, ok := existingByName[col.PhysicalName]; ok {
			updateSQL := fmt.Sprintf(`
				UPDATE "%s".logical_columns
				SET label = ?, description = ?, version = version + 1, updated_by = ?, updated_at = ?
				WHERE id = ?
			`, schema)
			if _, err := tx.ExecContext(ctx, updateSQL, col.Label, col.Description, params.Actor, stamp, existingID); err != nil {
				return fmt.Errorf("failed to update logical column %s in schema %s: %w", col.PhysicalName, schema, s.mapper.MapError(err))
			}
			continue
		}

		insertSQL := fmt.Sprintf(`
			INSERT INTO "%s".logical_columns (table_id, physical_name, label, description, version, created_by, created_at, updated_by, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		`, schema)
		if _, err := tx.ExecContext(ctx, insertSQL, targetTableID, col.PhysicalName, col.Label, col.Description,
			params.Actor, stamp, params.Actor, stamp); err != nil {
			return fmt.Errorf("failed to insert logical column %s in schema %s: %w", col.PhysicalName, schema, s.mapper.MapError(err))
		}
	}

	for physicalName, id := range existingByName {
		if _, ok := sourceNames[physicalName]; ok {
			continue
		}
		deleteSQL := fmt.Sprintf(`DELETE FROM "%s".logical_columns WHERE id = ?`, schema)
		if _, err := tx.ExecContext(ctx, deleteSQL, id); err != nil {
			return fmt.Errorf("failed to prune stale logical column %s in schema %s: %w", physicalName, schema, s.mapper.MapError(err))
		}
	}

	return nil
}

// insertVerbatim copies the source metadata rows into the target schema,
// keeping their schema-local ids so retried migrations and backups line up.
func (s *CutoverStore) insertVerbatim(ctx context.Context, tx *sql.Tx, params CutoverParams) error {
	schema := params.TargetSchema
	src := params.Source

	tableSQL := fmt.Sprintf(`
		INSERT INTO "%s".logical_tables (id, label, physical_name, description, classification, version, created_by, created_at, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, schema)
	if _, err := tx.ExecContext(ctx, tableSQL,
		src.ID,
		src.Label,
		params.PhysicalName,
		src.Description,
		string(src.Classification),
		src.Version,
		src.CreatedBy,
		FormatTime(src.CreatedAt),
		src.UpdatedBy,
		FormatTime(src.UpdatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert logical table %d into schema %s: %w", src.ID, schema, s.mapper.MapError(err))
	}

	for _, col := range params.SourceColumns {
		columnSQL := fmt.Sprintf(`
			INSERT INTO "%s".logical_columns (id, table_id, physical_name, label, description, version, created_by, created_at, updated_by, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, schema)
		if _, err := tx.ExecContext(ctx, columnSQL,
			col.ID,
			src.ID,
			col.PhysicalName,
			col.Label,
			col.Description,
			col.Version,
			col.CreatedBy,
			FormatTime(col.CreatedAt),
			col.UpdatedBy,
			FormatTime(col.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert logical column %d into schema %s: %w", col.ID, schema, s.mapper.MapError(err))
		}
	}

	return nil
}

func getTableByLabelTx(ctx context.Context, tx *sql.Tx, schema, label string) (persistence.LogicalTable, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_tables WHERE label = ? ORDER BY id ASC LIMIT 1`, logicalTableColumns, schema)

	var table persistence.LogicalTable
	var classification, createdAtStr, updatedAtStr string
	err := tx.QueryRowContext(ctx, query, label).Scan(
		&table.ID,
		&table.Label,
		&table.PhysicalName,
		&table.Description,
		&classification,
		&table.Version,
		&table.CreatedBy,
		&createdAtStr,
		&table.UpdatedBy,
		&updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.LogicalTable{}, false, nil
		}
		return persistence.LogicalTable{}, false, fmt.Errorf("failed to look up logical table %q in schema %s: %w", label, schema, err)
	}

	table.Classification = persistence.Classification(classification)
	if table.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return persistence.LogicalTable{}, false, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if table.UpdatedAt, err = ParseTime(updatedAtStr); err != nil {
		return persistence.LogicalTable{}, false, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return table, true, nil
}
