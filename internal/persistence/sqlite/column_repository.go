package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/tablestore/internal/persistence"
)

// ColumnRepository provides access to the per-schema logical_columns metadata.
type ColumnRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewColumnRepository creates a new logical column repository.
func NewColumnRepository(pool *ConnectionPool) *ColumnRepository {
	return &ColumnRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const logicalColumnColumns = "id, table_id, physical_name, label, description, version, created_by, created_at, updated_by, updated_at"

// Create inserts a new logical column row and assigns its id.
func (r *ColumnRepository) Create(ctx context.Context, schema string, column *persistence.LogicalColumn) error {
	if !ValidIdent(schema) {
		return persistence.ErrConstraintViolation
	}
	if column.TableID == 0 || column.PhysicalName == "" || column.Label == "" {
		return persistence.ErrConstraintViolation
	}
	if column.Version == 0 {
		column.Version = 1
	}

	now := time.Now().UTC()
	column.CreatedAt = now
	column.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO "%s".logical_columns (table_id, physical_name, label, description, version, created_by, created_at, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, schema)

	result, err := r.helper.Exec(ctx, query,
		column.TableID,
		column.PhysicalName,
		column.Label,
		column.Description,
		column.Version,
		column.CreatedBy,
		FormatTime(column.CreatedAt),
		column.UpdatedBy,
		FormatTime(column.UpdatedAt),
	)
	if err != nil {
		return r.mapColumnError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted column id: %w", err)
	}
	column.ID = id

	return nil
}

// GetByID retrieves a logical column by id.
func (r *ColumnRepository) GetByID(ctx context.Context, schema string, id int64) (persistence.LogicalColumn, error) {
	if !ValidIdent(schema) {
		return persistence.LogicalColumn{}, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_columns WHERE id = ?`, logicalColumnColumns, schema)
	return r.scanColumn(r.helper.QueryRow(ctx, query, id))
}

// ListByTable returns all logical columns of a table ordered by id.
func (r *ColumnRepository) ListByTable(ctx context.Context, schema string, tableID int64) ([]persistence.LogicalColumn, error) {
	if !ValidIdent(schema) {
		return nil, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "%s".logical_columns WHERE table_id = ? ORDER BY id ASC`, logicalColumnColumns, schema)
	rows, err := r.helper.Query(ctx, query, tableID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var columns []persistence.LogicalColumn
	for rows.Next() {
		column, err := r.scanColumn(rows)
		if err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return columns, nil
}

// Update rewrites the definitional fields of an existing logical column row.
func (r *ColumnRepository) Update(ctx context.Context, schema string, column persistence.LogicalColumn) error {
	if !ValidIdent(schema) {
		return persistence.ErrConstraintViolation
	}

	query := fmt.Sprintf(`
		UPDATE "%s".logical_columns
		SET physical_name = ?, label = ?, description = ?, version = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`, schema)

	result, err := r.helper.Exec(ctx, query,
		column.PhysicalName,
		column.Label,
		column.Description,
		column.Version,
		column.UpdatedBy,
		FormatTime(time.Now().UTC()),
		column.ID,
	)
	if err != nil {
		return r.mapColumnError(err)
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

// Delete removes a logical column row.
func (r *ColumnRepository) Delete(ctx context.Context, schema string, id int64) error {
	if !ValidIdent(schema) {
		return persistence.ErrNotFound
	}

	query := fmt.Sprintf(`DELETE FROM "%s".logical_columns WHERE id = ?`, schema)
	result, err := r.helper.Exec(ctx, query, id)
	if err != nil {
		return r.mapColumnError(err)
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

func (r *ColumnRepository) scanColumn(row rowScanner) (persistence.LogicalColumn, error) {
	var column persistence.LogicalColumn
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&column.ID,
		&column.TableID,
		&column.PhysicalName,
		&column.Label,
		&column.Description,
		&column.Version,
		&column.CreatedBy,
		&createdAtStr,
		&column.UpdatedBy,
		&updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.LogicalColumn{}, persistence.ErrNotFound
		}
		return persistence.LogicalColumn{}, r.mapper.MapError(err)
	}

	if column.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return persistence.LogicalColumn{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if column.UpdatedAt, err = ParseTime(updatedAtStr); err != nil {
		return persistence.LogicalColumn{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return column, nil
}

// mapColumnError maps SQLite errors to persistence errors for column operations.
func (r *ColumnRepository) mapColumnError(err error) error {
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
