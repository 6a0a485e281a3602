package persistence

import "time"

// Classification distinguishes tables defined at design time from tables
// created by the running system.
type Classification string

const (
	ClassificationDesignTime Classification = "design"
	ClassificationRunTime    Classification = "runtime"
)

// LogicalTable maps a user-visible table onto its physical storage object.
// IDs are schema-local; the physical name is unique within one schema and is
// only repointed during a migration cutover.
type LogicalTable struct {
	ID             int64
	Label          string
	PhysicalName   string
	Description    string
	Classification Classification
	Version        int64
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedBy      string
	UpdatedAt      time.Time
}

// LogicalColumn maps a user-visible column onto a physical column of the
// owning table's storage object.
type LogicalColumn struct {
	ID           int64
	TableID      int64
	PhysicalName string
	Label        string
	Description  string
	Version      int64
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedBy    string
	UpdatedAt    time.Time
}

// TableBackup is an append-only snapshot of a LogicalTable row taken before a
// destructive metadata update.
type TableBackup struct {
	LogicalTable
	BackupAt time.Time
}

// ColumnBackup is an append-only snapshot of a LogicalColumn row taken before
// a destructive metadata update.
type ColumnBackup struct {
	LogicalColumn
	BackupAt time.Time
}
