// Package migration drives the online re-platforming of a logical table from
// one schema to another while concurrent reads and writes continue against
// the source.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/tablestore/internal/logging"
	"github.com/example/tablestore/internal/naming"
	"github.com/example/tablestore/internal/persistence"
	"github.com/example/tablestore/internal/persistence/sqlite"
	"github.com/example/tablestore/internal/schema"
)

// Status reports the outcome of a migration.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Request identifies one migration: a logical table id and the schema pair.
// SourceSchema defaults to the configured primary schema when blank.
type Request struct {
	TableID      int64
	SourceSchema string
	TargetSchema string
}

// Result describes a finished migration. ShadowTableName is the physical
// table that actually holds the data in the target schema: a fresh shadow
// name on the shadow-copy path, the source physical name otherwise.
type Result struct {
	Status            Status
	Message           string
	TableID           int64
	ShadowTableName   string
	TargetSchema      string
	StructureChecksum string
}

// Config carries the orchestrator's process-wide settings.
type Config struct {
	// PrimarySchema is the default source schema.
	PrimarySchema string
	// AllowedSchemas is the allow-list of migration target schemas.
	AllowedSchemas []string
	// BackupRetention is the number of metadata snapshots kept per row.
	BackupRetention int
	// Actor is the identity stamped into audit columns.
	Actor string
}

// Orchestrator runs the migration state machine:
//
//	Validating -> EnsuringTargetReady -> StrategySelection ->
//	{DirectCreate | ShadowCopy} -> MetadataCutover -> Done
//
// Any step failure aborts the run; physical artifacts created so far are
// deliberately left in place for forensic recovery, and the metadata cutover
// is never partially applied.
type Orchestrator struct {
	cfg     Config
	pool    *sqlite.ConnectionPool
	manager *schema.Manager
	tables  *sqlite.TableRepository
	columns *sqlite.ColumnRepository
	cutover *sqlite.CutoverStore
	names   naming.Generator
	retry   *sqlite.RetryHelper
	locks   *tableLocks
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator wires a migration orchestrator.
func NewOrchestrator(cfg Config, pool *sqlite.ConnectionPool, manager *schema.Manager, names naming.Generator, logger *slog.Logger) *Orchestrator {
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = 5
	}
	if cfg.Actor == "" {
		cfg.Actor = "system"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		pool:    pool,
		manager: manager,
		tables:  sqlite.NewTableRepository(pool),
		columns: sqlite.NewColumnRepository(pool),
		cutover: sqlite.NewCutoverStore(pool),
		names:   names,
		retry:   sqlite.NewRetryHelper(sqlite.DefaultRetryConfig()),
		locks:   newTableLocks(),
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the orchestrator's clock, used by tests to control
// backup snapshot timestamps.
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// AvailableSchemas returns the configured target schema allow-list.
func (o *Orchestrator) AvailableSchemas() []string {
	schemas := make([]string, len(o.cfg.AllowedSchemas))
	copy(schemas, o.cfg.AllowedSchemas)
	return schemas
}

func (o *Orchestrator) schemaAllowed(name string) bool {
	for _, s := range o.cfg.AllowedSchemas {
		if s == name {
			return true
		}
	}
	return false
}

// MigrateTable re-platforms one logical table into the target schema and
// repoints its metadata there. On failure the returned Result carries
// StatusFailed and the error wraps the failed step; no metadata cutover is
// performed and leftover physical artifacts are kept for inspection.
func (o *Orchestrator) MigrateTable(ctx context.Context, req Request) (Result, error) {
	logger := o.logger
	if ctxLogger := logging.FromContext(ctx); ctxLogger != nil {
		logger = ctxLogger
	}

	sourceSchema := req.SourceSchema
	if sourceSchema == "" {
		sourceSchema = o.cfg.PrimarySchema
	}

	logger = logger.With("table_id", req.TableID, "source_schema", sourceSchema, "target_schema", req.TargetSchema)

	// Validating: reject bad targets before any DDL executes.
	logger.Info("migration starting", "step", StepValidating)
	if req.TargetSchema == "" || !o.schemaAllowed(req.TargetSchema) {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepValidating,
			fmt.Errorf("%w: %q", ErrInvalidTargetSchema, req.TargetSchema))
	}

	if !o.locks.tryAcquire(sourceSchema, req.TableID) {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepValidating, ErrMigrationInProgress)
	}
	defer o.locks.release(sourceSchema, req.TableID)

	// EnsuringTargetReady: everything here is existence-checked so a retried
	// migration is idempotent from this step onward.
	logger.Info("preparing target schema", "step", StepEnsuringTargetReady)
	if err := o.ensureTargetReady(ctx, sourceSchema, req.TargetSchema); err != nil {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepEnsuringTargetReady, err)
	}

	// StrategySelection.
	logger.Info("selecting migration strategy", "step", StepStrategySelection)
	table, err := o.tables.GetByID(ctx, sourceSchema, req.TableID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = fmt.Errorf("%w: id %d in schema %s", ErrTableNotFound, req.TableID, sourceSchema)
		}
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepStrategySelection, err)
	}

	tableColumns, err := o.columns.ListByTable(ctx, sourceSchema, table.ID)
	if err != nil {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepStrategySelection, err)
	}

	occupied, err := o.manager.TableExistsInSchema(ctx, table.PhysicalName, req.TargetSchema)
	if err != nil {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepStrategySelection, err)
	}

	var finalName string
	var step Step
	if occupied {
		step = StepShadowCopy
		logger.Info("target name occupied, using shadow copy", "step", step, "physical_name", table.PhysicalName)
		finalName, err = o.shadowCopy(ctx, logger, sourceSchema, req.TargetSchema, table)
	} else {
		step = StepDirectCreate
		logger.Info("target name free, using direct create", "step", step, "physical_name", table.PhysicalName)
		finalName, err = o.directCreate(ctx, logger, sourceSchema, req.TargetSchema, table)
	}
	if err != nil {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, step, err)
	}

	// MetadataCutover: one transaction, backup-then-mutate throughout.
	logger.Info("cutting over metadata", "step", StepMetadataCutover, "final_name", finalName)
	params := sqlite.CutoverParams{
		TargetSchema:  req.TargetSchema,
		Source:        table,
		SourceColumns: tableColumns,
		PhysicalName:  finalName,
		Actor:         o.cfg.Actor,
		Now:           o.now(),
		Retention:     o.cfg.BackupRetention,
	}
	err = o.retry.WithRetry(ctx, func() error {
		return o.cutover.Apply(ctx, params)
	})
	if err != nil {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepMetadataCutover, err)
	}

	checksum, err := o.manager.StructureChecksum(ctx, req.TargetSchema, finalName)
	if err != nil {
		return o.fail(logger, req.TableID, sourceSchema, req.TargetSchema, StepMetadataCutover, err)
	}

	logger.Info("migration complete", "final_name", finalName, "structure_checksum", checksum)
	return Result{
		Status:            StatusSuccess,
		Message:           fmt.Sprintf("table %d migrated to %s.%s", req.TableID, req.TargetSchema, finalName),
		TableID:           req.TableID,
		ShadowTableName:   finalName,
		TargetSchema:      req.TargetSchema,
		StructureChecksum: checksum,
	}, nil
}

// ensureTargetReady idempotently attaches both schemas and materializes the
// target's metadata tables, including the legacy constraint upgrade.
func (o *Orchestrator) ensureTargetReady(ctx context.Context, sourceSchema, targetSchema string) error {
	if err := o.manager.CreateSchema(ctx, sourceSchema); err != nil {
		return err
	}
	if err := o.manager.CreateSchema(ctx, targetSchema); err != nil {
		return err
	}
	return sqlite.EnsureMetadataTables(ctx, o.pool, targetSchema)
}

// directCreate materializes the table under its own physical name in the
// target schema and copies the data once. No triggers are installed: this
// path assumes the source is not being mutated while the copy runs.
func (o *Orchestrator) directCreate(ctx context.Context, logger *slog.Logger, sourceSchema, targetSchema string, table persistence.LogicalTable) (string, error) {
	if err := o.manager.CloneTableStructure(ctx, sourceSchema, table.PhysicalName, targetSchema, table.PhysicalName); err != nil {
		return "", err
	}

	rows, err := o.manager.RowCount(ctx, sourceSchema, table.PhysicalName)
	if err != nil {
		return "", err
	}
	if rows > 0 {
		logger.Info("bulk copying table data", "rows", rows)
		if err := o.manager.BulkCopyTableData(ctx, table.PhysicalName, sourceSchema, table.PhysicalName, targetSchema); err != nil {
			return "", err
		}
	}

	return table.PhysicalName, nil
}

// shadowCopy builds a converging copy next to the table occupying the
// contested name. The forwarding triggers are installed on the contested
// table before the bulk copy starts; together with the copy's upsert-by-id
// semantics that closes the copy-start/trigger-install gap, at the cost of
// some rows being applied twice.
func (o *Orchestrator) shadowCopy(ctx context.Context, logger *slog.Logger, sourceSchema, targetSchema string, table persistence.LogicalTable) (string, error) {
	shadowName, err := o.resolveShadowTable(ctx, logger, sourceSchema, targetSchema, table)
	if err != nil {
		return "", err
	}

	triggers, err := o.manager.CreateChangeTriggers(ctx, targetSchema, table.PhysicalName, shadowName)
	if err != nil {
		return "", err
	}
	logger.Info("change-capture triggers installed", "triggers", triggers, "shadow_table", shadowName)

	// Seed the shadow with the occupant's current rows first, then lay the
	// source rows on top; on id collisions the migrated data wins.
	if err := o.manager.BulkCopyTableData(ctx, table.PhysicalName, targetSchema, shadowName, targetSchema); err != nil {
		return "", err
	}
	if err := o.manager.BulkCopyTableData(ctx, table.PhysicalName, sourceSchema, shadowName, targetSchema); err != nil {
		return "", err
	}

	return shadowName, nil
}

// resolveShadowTable reuses the shadow table of a previous run of this same
// migration when the target metadata already points at a structurally
// identical table; otherwise it creates a fresh, uniquely named shadow with
// the source's structure. The reuse check is what keeps a repeated
// migrateTable call from piling up shadow tables.
func (o *Orchestrator) resolveShadowTable(ctx context.Context, logger *slog.Logger, sourceSchema, targetSchema string, table persistence.LogicalTable) (string, error) {
	existing, err := o.tables.GetByLabel(ctx, targetSchema, table.Label)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return "", err
	}
	if err == nil && existing.PhysicalName != table.PhysicalName {
		present, err := o.manager.TableExistsInSchema(ctx, existing.PhysicalName, targetSchema)
		if err != nil {
			return "", err
		}
		if present {
			sourceSum, err := o.manager.StructureChecksum(ctx, sourceSchema, table.PhysicalName)
			if err != nil {
				return "", err
			}
			candidateSum, err := o.manager.StructureChecksum(ctx, targetSchema, existing.PhysicalName)
			if err != nil {
				return "", err
			}
			if sourceSum == candidateSum {
				logger.Info("reusing shadow table from previous run", "shadow_table", existing.PhysicalName)
				return existing.PhysicalName, nil
			}
		}
	}

	shadowName := o.names.TableName()
	if err := o.manager.CloneTableStructure(ctx, sourceSchema, table.PhysicalName, targetSchema, shadowName); err != nil {
		return "", err
	}
	logger.Info("shadow table created", "shadow_table", shadowName)
	return shadowName, nil
}

func (o *Orchestrator) fail(logger *slog.Logger, tableID int64, sourceSchema, targetSchema string, step Step, err error) (Result, error) {
	wrapped := NewMigrationError(tableID, sourceSchema, targetSchema, step, err)
	logger.Error("migration failed", "step", step, "error", err)
	return Result{
		Status:       StatusFailed,
		Message:      wrapped.Error(),
		TableID:      tableID,
		TargetSchema: targetSchema,
	}, wrapped
}
