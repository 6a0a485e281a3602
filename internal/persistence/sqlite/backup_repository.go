package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/tablestore/internal/persistence"
)

// BackupRepository snapshots logical table and column metadata into the
// append-only backup tables before destructive updates, and prunes old
// snapshots past the retention limit.
type BackupRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewBackupRepository creates a new metadata backup repository.
func NewBackupRepository(pool *ConnectionPool) *BackupRepository {
	return &BackupRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// Backup snapshots the logical table row and all its column rows in one
// transaction, tagged with the given timestamp.
func (r *BackupRepository) Backup(ctx context.Context, schema string, tableID int64, at time.Time) error {
	if !ValidIdent(schema) {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return backupTableTx(ctx, tx, schema, tableID, at)
	})
}

// Prune deletes all but the most recent keep distinct snapshot timestamps for
// the table row and for its column rows.
func (r *BackupRepository) Prune(ctx context.Context, schema string, tableID int64, keep int) error {
	if !ValidIdent(schema) {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return pruneBackupsTx(ctx, tx, schema, tableID, keep)
	})
}

// ListTableBackups returns the snapshots of a logical table row, newest first.
func (r *BackupRepository) ListTableBackups(ctx context.Context, schema string, tableID int64) ([]persistence.TableBackup, error) {
	if !ValidIdent(schema) {
		return nil, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`
		SELECT %s, backup_at FROM "%s".logical_tables_backup
		WHERE id = ? ORDER BY backup_at DESC
	`, logicalTableColumns, schema)

	rows, err := r.helper.Query(ctx, query, tableID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var backups []persistence.TableBackup
	for rows.Next() {
		var b persistence.TableBackup
		var classification, createdAtStr, updatedAtStr, backupAtStr string
		err := rows.Scan(
			&b.ID,
			&b.Label,
			&b.PhysicalName,
			&b.Description,
			&classification,
			&b.Version,
			&b.CreatedBy,
			&createdAtStr,
			&b.UpdatedBy,
			&updatedAtStr,
			&backupAtStr,
		)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		b.Classification = persistence.Classification(classification)
		if b.CreatedAt, err = ParseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if b.UpdatedAt, err = ParseTime(updatedAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		if b.BackupAt, err = ParseTime(backupAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse backup_at: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return backups, nil
}

// ListColumnBackups returns the snapshots of the column rows owned by a
// logical table, newest first.
func (r *BackupRepository) ListColumnBackups(ctx context.Context, schema string, tableID int64) ([]persistence.ColumnBackup, error) {
	if !ValidIdent(schema) {
		return nil, persistence.ErrNotFound
	}

	query := fmt.Sprintf(`
		SELECT %s, backup_at FROM "%s".logical_columns_backup
		WHERE table_id = ? ORDER BY backup_at DESC, id ASC
	`, logicalColumnColumns, schema)

	rows, err := r.helper.Query(ctx, query, tableID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var backups []persistence.ColumnBackup
	for rows.Next() {
		var b persistence.ColumnBackup
		var createdAtStr, updatedAtStr, backupAtStr string
		err := rows.Scan(
			&b.ID,
			&b.TableID,
			&b.PhysicalName,
			&b.Label,
			&b.Description,
			&b.Version,
			&b.CreatedBy,
			&createdAtStr,
			&b.UpdatedBy,
			&updatedAtStr,
			&backupAtStr,
		)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		if b.CreatedAt, err = ParseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if b.UpdatedAt, err = ParseTime(updatedAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		if b.BackupAt, err = ParseTime(backupAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse backup_at: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return backups, nil
}

// backupTableTx appends snapshots of the table row and its column rows inside
// an existing transaction. The snapshot is taken straight from the live rows
// so no read-modify-write race can corrupt it.
func backupTableTx(ctx context.Context, tx *sql.Tx, schema string, tableID int64, at time.Time) error {
	stamp := FormatTime(at)

	tableSQL := fmt.Sprintf(`
		INSERT INTO "%[1]s".logical_tables_backup (%[2]s, backup_at)
		SELECT %[2]s, ? FROM "%[1]s".logical_tables WHERE id = ?
	`, schema, logicalTableColumns)
	if _, err := tx.ExecContext(ctx, tableSQL, stamp, tableID); err != nil {
		return fmt.Errorf("failed to backup logical table %d in schema %s: %w", tableID, schema, err)
	}

	columnSQL := fmt.Sprintf(`
		INSERT INTO "%[1]s".logical_columns_backup (%[2]s, backup_at)
		SELECT %[2]s, ? FROM "%[1]s".logical_columns WHERE table_id = ?
	`, schema, logicalColumnColumns)
	if _, err := tx.ExecContext(ctx, columnSQL, stamp, tableID); err != nil {
		return fmt.Errorf("failed to backup logical columns of table %d in schema %s: %w", tableID, schema, err)
	}

	return nil
}

// pruneBackupsTx removes snapshots older than the keep most recent distinct
// backup timestamps, for the table row and its column rows.
func pruneBackupsTx(ctx context.Context, tx *sql.Tx, schema string, tableID int64, keep int) error {
	if keep < 0 {
		keep = 0
	}

	tableSQL := fmt.Sprintf(`
		DELETE FROM "%[1]s".logical_tables_backup
		WHERE id = ? AND backup_at NOT IN (
			SELECT DISTINCT backup_at FROM "%[1]s".logical_tables_backup
			WHERE id = ? ORDER BY backup_at DESC LIMIT ?
		)
	`, schema)
	if _, err := tx.ExecContext(ctx, tableSQL, tableID, tableID, keep); err != nil {
		return fmt.Errorf("failed to prune table backups for table %d in schema %s: %w", tableID, schema, err)
	}

	columnSQL := fmt.Sprintf(`
		DELETE FROM "%[1]s".logical_columns_backup
		WHERE table_id = ? AND backup_at NOT IN (
			SELECT DISTINCT backup_at FROM "%[1]s".logical_columns_backup
			WHERE table_id = ? ORDER BY backup_at DESC LIMIT ?
		)
	`, schema)
	if _, err := tx.ExecContext(ctx, columnSQL, tableID, tableID, keep); err != nil {
		return fmt.Errorf("failed to prune column backups for table %d in schema %s: %w", tableID, schema, err)
	}

	return nil
}
