package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTargetSchema indicates the requested target schema is blank
	// or absent from the configured allow-list.
	ErrInvalidTargetSchema = errors.New("target schema is not in the configured allow-list")

	// ErrTableNotFound indicates no logical table exists for the id in the
	// source schema.
	ErrTableNotFound = errors.New("logical table not found in source schema")

	// ErrMigrationInProgress indicates another migration already holds the
	// advisory lock for this logical table.
	ErrMigrationInProgress = errors.New("migration already in progress for this table")
)

// Step identifies a state of the migration state machine.
type Step string

const (
	StepValidating          Step = "validating"
	StepEnsuringTargetReady Step = "ensuring-target-ready"
	StepStrategySelection   Step = "strategy-selection"
	StepDirectCreate        Step = "direct-create"
	StepShadowCopy          Step = "shadow-copy"
	StepMetadataCutover     Step = "metadata-cutover"
)

// MigrationError wraps a step failure with enough context for the caller to
// retry safely.
type MigrationError struct {
	TableID      int64
	SourceSchema string
	TargetSchema string
	Step         Step
	Err          error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration of table %d (%s -> %s) failed at step %s: %v",
		e.TableID, e.SourceSchema, e.TargetSchema, e.Step, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *MigrationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewMigrationError creates a new MigrationError with context.
func NewMigrationError(tableID int64, sourceSchema, targetSchema string, step Step, err error) *MigrationError {
	return &MigrationError{
		TableID:      tableID,
		SourceSchema: sourceSchema,
		TargetSchema: targetSchema,
		Step:         step,
		Err:          err,
	}
}
