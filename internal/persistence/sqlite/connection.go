package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width UTC timestamp layout. Unlike RFC3339 it keeps
// full nanosecond precision, so successive backup snapshots taken within the
// same second remain distinct and lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether name is a safe, lower-case SQL identifier.
// Schema and table names are interpolated into DDL, so everything that is not
// a bind parameter must pass this check first.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// ConnectionPool manages the SQLite connection and the set of attached
// schema databases. Each schema is a separate database file in the data
// directory, attached under its schema name; the primary schema is SQLite's
// implicit "main" database.
type ConnectionPool struct {
	db      *sql.DB
	dataDir string
}

// Open opens (creating if needed) the primary schema database inside dataDir.
func Open(dataDir, primarySchema string) (*ConnectionPool, error) {
	if !ValidIdent(primarySchema) {
		return nil, fmt.Errorf("invalid primary schema name %q", primarySchema)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		filepath.Join(dataDir, primarySchema+".db"))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// ATTACH is per-connection state, so the pool is pinned to a single
	// connection. SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	return &ConnectionPool{db: db, dataDir: dataDir}, nil
}

// DB returns the underlying database handle.
func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

// Close closes the connection pool.
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (cp *ConnectionPool) Ping(ctx context.Context) error {
	return cp.db.PingContext(ctx)
}

// SchemaExists reports whether a schema is currently attached.
func (cp *ConnectionPool) SchemaExists(ctx context.Context, name string) (bool, error) {
	rows, err := cp.db.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return false, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int
		var schemaName, file string
		if err := rows.Scan(&seq, &schemaName, &file); err != nil {
			return false, fmt.Errorf("failed to scan schema list: %w", err)
		}
		if schemaName == name {
			return true, nil
		}
	}
	return false, rows.Err()
}

// AttachSchema attaches the database file for the named schema, creating the
// file on first write. The call is idempotent.
func (cp *ConnectionPool) AttachSchema(ctx context.Context, name string) error {
	if !ValidIdent(name) {
		return fmt.Errorf("invalid schema name %q", name)
	}

	exists, err := cp.SchemaExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	path := filepath.Join(cp.dataDir, name+".db")
	if _, err := cp.db.ExecContext(ctx, fmt.Sprintf(`ATTACH DATABASE ? AS "%s"`, name), path); err != nil {
		return fmt.Errorf("failed to attach schema %s: %w", name, err)
	}
	return nil
}

// TransactionFunc represents a function that executes within a transaction.
type TransactionFunc func(tx *sql.Tx) error

// WithTransaction executes fn within a database transaction. If fn returns an
// error the transaction is rolled back, otherwise it is committed.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// QueryHelper provides helper methods for common query patterns.
type QueryHelper struct {
	pool *ConnectionPool
}

// NewQueryHelper creates a new query helper.
func NewQueryHelper(pool *ConnectionPool) *QueryHelper {
	return &QueryHelper{pool: pool}
}

// QueryRow executes a query that returns a single row.
func (qh *QueryHelper) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return qh.pool.db.QueryRowContext(ctx, query, args...)
}

// Query executes a query that returns multiple rows.
func (qh *QueryHelper) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return qh.pool.db.QueryContext(ctx, query, args...)
}

// Exec executes a query that doesn't return rows.
func (qh *QueryHelper) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return qh.pool.db.ExecContext(ctx, query, args...)
}

// ErrorMapper maps SQLite errors to persistence layer errors.
type ErrorMapper struct{}

// NewErrorMapper creates a new error mapper.
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// MapError maps SQLite-specific errors to persistence layer errors.
func (em *ErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return fmt.Errorf("record not found: %w", err)
	}

	errStr := err.Error()

	if containsAny(errStr, []string{"UNIQUE constraint failed", "PRIMARY KEY constraint failed"}) {
		return fmt.Errorf("duplicate record: %w", err)
	}

	if containsAny(errStr, []string{"FOREIGN KEY constraint failed", "foreign key constraint"}) {
		return fmt.Errorf("foreign key violation: %w", err)
	}

	if containsAny(errStr, []string{"CHECK constraint failed"}) {
		return fmt.Errorf("constraint violation: %w", err)
	}

	if containsAny(errStr, []string{"database is locked", "database locked"}) {
		return fmt.Errorf("database locked: %w", err)
	}

	return err
}

// containsAny checks if the string contains any of the given substrings.
func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if len(s) >= len(substr) {
			for i := 0; i <= len(s)-len(substr); i++ {
				if s[i:i+len(substr)] == substr {
					return true
				}
			}
		}
	}
	return false
}

// RetryConfig configures retry behavior for database operations.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryHelper retries operations that failed with transient SQLite errors.
// DDL is never routed through here: schema changes are not idempotent by
// default and must surface their first failure.
type RetryHelper struct {
	config RetryConfig
	mapper *ErrorMapper
}

// NewRetryHelper creates a new retry helper.
func NewRetryHelper(config RetryConfig) *RetryHelper {
	return &RetryHelper{
		config: config,
		mapper: NewErrorMapper(),
	}
}

// RetryableFunc represents a function that can be retried.
type RetryableFunc func() error

// WithRetry executes a function with retry logic for transient errors.
func (rh *RetryHelper) WithRetry(ctx context.Context, fn RetryableFunc) error {
	var lastErr error
	delay := rh.config.InitialDelay

	for attempt := 0; attempt <= rh.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * rh.config.BackoffFactor)
				if delay > rh.config.MaxDelay {
					delay = rh.config.MaxDelay
				}
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = rh.mapper.MapError(err)

		if !isRetryableError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", rh.config.MaxRetries, lastErr)
}

// isRetryableError determines if an error should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	if containsAny(errStr, []string{"database locked", "database is locked", "database is busy"}) {
		return true
	}

	return false
}
