// Package naming produces the physical identifiers behind logical tables and
// columns. Names must be collision-resistant, sortable by creation time,
// lower-case, and valid unquoted SQL identifiers.
package naming

import (
	"strings"

	"github.com/google/uuid"
)

// Generator yields physical table and column names.
type Generator interface {
	TableName() string
	ColumnName() string
}

// UUIDGenerator derives names from UUIDv7 values. The embedded millisecond
// timestamp makes names sort in creation order, and the prefix keeps them
// starting with a letter.
type UUIDGenerator struct{}

// NewUUIDGenerator creates the default physical name generator.
func NewUUIDGenerator() UUIDGenerator {
	return UUIDGenerator{}
}

// TableName returns a fresh physical table name.
func (UUIDGenerator) TableName() string {
	return "t_" + token()
}

// ColumnName returns a fresh physical column name.
func (UUIDGenerator) ColumnName() string {
	return "c_" + token()
}

func token() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source is exhausted; fall back to
		// the non-sortable v4 rather than aborting DDL.
		u = uuid.New()
	}
	return strings.ReplaceAll(u.String(), "-", "")
}
