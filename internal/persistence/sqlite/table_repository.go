package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/tablestore/internal/persistence"
)

// TableRepository provides access to the per-schema logical_tables metadata.
type TableRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewTableRepository creates a new logical table repository.
func NewTableRepository(pool *ConnectionPool) *TableRepository {
	return &TableRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const logicalTableColumns = "id, label, physical_name, description, classification, version, created_by, created_at, updated_by, updated_at"

// Create inserts a new logical table row and assigns its schema-local id.
func (r *TableRepository) Create(ctx context.Context, schema string, table *persistence.LogicalTable) error {
	if !ValidIdent(schema) {
		return persistence.ErrConstraintViolation
	}
	if table.Label == "" || table.PhysicalName == "" {
		return persistence.ErrConstraintViolation
	}
	if table.Classification == "" {
		table.Classification = persistence.ClassificationRunTime
	}
	if table.Version == 0 {
		table.Version = 1
	}

	now := time.Now().UTC()
	table.CreatedAt = now
	table.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO "%s".logical_tables (label, physical_name, description, classification, version, created_by, created_at, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, schema)

	result, err := r.helper.Exec(ctx, query,
		table.Label,
		table.PhysicalName,
		table.Description,
		string(table.Classification),
		table.Version,
		table.CreatedBy,
		FormatTime(table.CreatedAt),
		table.UpdatedBy,
		FormatTime(table.UpdatedAt),
	)
	if err != nil {
		return r.mapTableError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted table id: %w", err)
	}
	table.ID = id

	return nil
}

// GetByID retrieves a logical table by its schema-local id.
func (r *TableRepository) GetByID(ctx context.Context, schema string, id int64) (persistence.LogicalTable, error) {
	if !ValidIdent(schema) {
		return persistence.LogicalTable{}, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_tables WHERE id = ?`, logicalTableColumns, schema)
	return r.scanTable(r.helper.QueryRow(ctx, query, id))
}

// GetByLabel retrieves the oldest logical table carrying the given label.
// Labels are not unique, so the lowest id wins.
func (r *TableRepository) GetByLabel(ctx context.Context, schema, label string) (persistence.LogicalTable, error) {
	if !ValidIdent(schema) {
		return persistence.LogicalTable{}, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_tables WHERE label = ? ORDER BY id ASC LIMIT 1`, logicalTableColumns, schema)
	return r.scanTable(r.helper.QueryRow(ctx, query, label))
}

// GetByPhysicalName retrieves a logical table by its physical link.
func (r *TableRepository) GetByPhysicalName(ctx context.Context, schema, physicalName string) (persistence.LogicalTable, error) {
	if !ValidIdent(schema) {
		return persistence.LogicalTable{}, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_tables WHERE physical_name = ?`, logicalTableColumns, schema)
	return r.scanTable(r.helper.QueryRow(ctx, query, physicalName))
}

// List returns all logical tables in a schema ordered by id.
func (r *TableRepository) List(ctx context.Context, schema string) ([]persistence.LogicalTable, error) {
	if !ValidIdent(schema) {
		return nil, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_tables ORDER BY id ASC`, logicalTableColumns, schema)
	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var tables []persistence.LogicalTable
	for rows.Next() {
		table, err := r.scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return tables, nil
}

// Update rewrites the definitional fields of an existing logical table row.
// The caller is responsible for bumping the version counter; the update
// timestamp is stamped here.
func (r *TableRepository) Update(ctx context.Context, schema string, table persistence.LogicalTable) error {
	if !ValidIdent(schema) {
		return persistence.ErrConstraintViolation
	}

	query := fmt.Sprintf(`
		UPDATE "%s".logical_tables
		SET label = ?, physical_name = ?, description = ?, classification = ?, version = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`, schema)

	result, err := r.helper.Exec(ctx, query,
		table.Label,
		table.PhysicalName,
		table.Description,
		string(table.Classification),
		table.Version,
		table.UpdatedBy,
		FormatTime(time.Now().UTC()),
		table.ID,
	)
	if err != nil {
		return r.mapTableError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// Delete removes a logical table row; its column rows cascade.
func (r *TableRepository) Delete(ctx context.Context, schema string, id int64) error {
	if !ValidIdent(schema) {
		return persistence.ErrNotFound
	}

	query := fmt.Sprintf(`DELETE FROM "%s".logical_tables WHERE id = ?`, schema)
	result, err := r.helper.Exec(ctx, query, id)
	if err != nil {
		return r.mapTableError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *TableRepository) scanTable(row rowScanner) (persistence.LogicalTable, error) {
	var table persistence.LogicalTable
	var classification, createdAtStr, updatedAtStr string

	err := row.Scan(
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
			return persistence.LogicalTable{}, persistence.ErrNotFound
		}
		return persistence.LogicalTable{}, r.mapper.MapError(err)
	}

	table.Classification = persistence.Classification(classification)
	if table.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return persistence.LogicalTable{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if table.UpdatedAt, err = ParseTime(updatedAtStr); err != nil {
		return persistence.LogicalTable{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return table, nil
}

// mapTableError maps SQLite errors to persistence errors for table operations.
func (r *TableRepository) mapTableError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if containsAny(errStr, []string{"UNIQUE constraint failed"}) {
		return persistence.ErrDuplicate
	}
	if containsAny(errStr, []string{"FOREIGN KEY constraint failed"}) {
		return persistence.ErrForeignKeyViolation
	}
	if containsAny(errStr, []string{"CHECK constraint failed", "NOT NULL constraint failed"}) {
		return persistence.ErrConstraintViolation
	}

	return r.mapper.MapError(err)
}
