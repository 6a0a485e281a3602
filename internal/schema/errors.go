package schema

import "fmt"

// DDLError reports a failed physical create/alter/drop. DDL failures are
// surfaced to the caller, never retried.
type DDLError struct {
	Schema    string
	Table     string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *DDLError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("ddl error: %s on %s.%s: %v", e.Operation, e.Schema, e.Table, e.Err)
	}
	return fmt.Sprintf("ddl error: %s on schema %s: %v", e.Operation, e.Schema, e.Err)
}

// Unwrap returns the underlying error.
func (e *DDLError) Unwrap() error {
	return e.Err
}

// NewDDLError creates a new DDLError with context.
func NewDDLError(schema, table, operation string, err error) *DDLError {
	return &DDLError{
		Schema:    schema,
		Table:     table,
		Operation: operation,
		Err:       err,
	}
}

// TypeConversionError reports that existing rows cannot be represented in the
// requested column type without loss.
type TypeConversionError struct {
	Schema  string
	Table   string
	Column  string
	NewType string
	// Rows is the number of rows whose value does not survive the cast.
	Rows int64
}

// Error implements the error interface.
func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("type conversion error: %d rows of %s.%s.%s cannot be cast to %s",
		e.Rows, e.Schema, e.Table, e.Column, e.NewType)
}
