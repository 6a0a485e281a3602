package schema

import (
	"context"
	"fmt"
	"strings"
)

// TriggerNames returns the three forwarding trigger names for a destination
// table. Each event gets its own named object so it can be inspected and
// dropped independently.
func TriggerNames(dstTable string) map[TriggerEvent]string {
	return map[TriggerEvent]string{
		TriggerInsert: dstTable + "_fwd_insert",
		TriggerUpdate: dstTable + "_fwd_update",
		TriggerDelete: dstTable + "_fwd_delete",
	}
}

// TriggerExists probes whether a named trigger exists in a schema.
func (m *Manager) TriggerExists(ctx context.Context, schema, name string) (bool, error) {
	if err := validIdents(schema, name); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s".sqlite_master WHERE type = 'trigger' AND name = ?`, schema)
	var count int
	if err := m.pool.DB().QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to probe trigger %s.%s: %w", schema, name, err)
	}
	return count > 0, nil
}

// DropTrigger removes a named trigger. Used for forensic cleanup after a
// failed migration; the engine never drops triggers automatically.
func (m *Manager) DropTrigger(ctx context.Context, schema, name string) error {
	if err := validIdents(schema, name); err != nil {
		return err
	}

	if _, err := m.pool.DB().ExecContext(ctx, fmt.Sprintf(`DROP TRIGGER "%s"."%s"`, schema, name)); err != nil {
		return NewDDLError(schema, "", "drop trigger", err)
	}
	return nil
}

// CreateTrigger installs one row-level change-capture trigger on the source
// table so that the given mutation event is mirrored into the destination
// table in the same transaction, keyed by the identity column. The engine
// only supports triggers whose source and destination share a schema, which
// is the only shape the migration engine needs.
func (m *Manager) CreateTrigger(ctx context.Context, name, srcTable, srcSchema, dstTable, dstSchema string, event TriggerEvent) error {
	if err := validIdents(name, srcTable, srcSchema, dstTable, dstSchema); err != nil {
		return err
	}
	if srcSchema != dstSchema {
		return NewDDLError(srcSchema, srcTable, "create trigger",
			fmt.Errorf("trigger destination %s.%s must share the source schema", dstSchema, dstTable))
	}

	columns, err := m.sharedColumns(ctx, srcSchema, srcTable, dstSchema, dstTable)
	if err != nil {
		return err
	}

	var body string
	switch event {
	case TriggerInsert, TriggerUpdate:
		// INSERT OR REPLACE keeps forwarding idempotent: replaying a row that
		// the bulk copy already moved converges instead of duplicating.
		newRefs := make([]string, len(columns))
		for i, c := range columns {
			newRefs[i] = `NEW."` + c + `"`
		}
		body = fmt.Sprintf(`INSERT OR REPLACE INTO "%s" (%s) VALUES (%s);`,
			dstTable, quoteList(columns), strings.Join(newRefs, ", "))
	case TriggerDelete:
		body = fmt.Sprintf(`DELETE FROM "%s" WHERE id = OLD.id;`, dstTable)
	default:
		return NewDDLError(srcSchema, srcTable, "create trigger", fmt.Errorf("unknown trigger event %q", event))
	}

	ddl := fmt.Sprintf(`
		CREATE TRIGGER "%s"."%s" AFTER %s ON "%s"
		FOR EACH ROW
		BEGIN
			%s
		END
	`, srcSchema, name, event, srcTable, body)
	if _, err := m.pool.DB().ExecContext(ctx, ddl); err != nil {
		return NewDDLError(srcSchema, srcTable, "create trigger", err)
	}

	return nil
}

// CreateChangeTriggers installs the insert, update and delete forwarding
// triggers from srcTable onto dstTable within one schema. Triggers that
// already exist are left untouched, so a retried migration does not
// duplicate them.
func (m *Manager) CreateChangeTriggers(ctx context.Context, schema, srcTable, dstTable string) ([]string, error) {
	names := TriggerNames(dstTable)
	installed := make([]string, 0, len(names))

	for _, event := range []TriggerEvent{TriggerInsert, TriggerUpdate, TriggerDelete} {
		name := names[event]
		exists, err := m.TriggerExists(ctx, schema, name)
		if err != nil {
			return installed, err
		}
		if exists {
			installed = append(installed, name)
			continue
		}
		if err := m.CreateTrigger(ctx, name, srcTable, schema, dstTable, schema, event); err != nil {
			return installed, err
		}
		installed = append(installed, name)
	}

	return installed, nil
}

// BulkCopyTableData copies every row of the source table into the
// destination over their shared column set, identity column included so the
// trigger forwarding keys line up. The copy runs without a table lock and
// upserts by id, so replaying it against rows the triggers already forwarded
// converges instead of failing.
func (m *Manager) BulkCopyTableData(ctx context.Context, srcTable, srcSchema, dstTable, dstSchema string) error {
	if err := validIdents(srcTable, srcSchema, dstTable, dstSchema); err != nil {
		return err
	}

	columns, err := m.sharedColumns(ctx, srcSchema, srcTable, dstSchema, dstTable)
	if err != nil {
		return err
	}

	copySQL := fmt.Sprintf(`
		INSERT OR REPLACE INTO "%s"."%s" (%s)
		SELECT %s FROM "%s"."%s"
	`, dstSchema, dstTable, quoteList(columns), quoteList(columns), srcSchema, srcTable)
	if _, err := m.pool.DB().ExecContext(ctx, copySQL); err != nil {
		return NewDDLError(dstSchema, dstTable, "bulk copy", err)
	}

	return nil
}

// RowCount returns the number of rows in a physical table.
func (m *Manager) RowCount(ctx context.Context, schema, table string) (int64, error) {
	if err := validIdents(schema, table); err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"."%s"`, schema, table)
	if err := m.pool.DB().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// sharedColumns returns the source-ordered intersection of the two tables'
// column sets.
func (m *Manager) sharedColumns(ctx context.Context, srcSchema, srcTable, dstSchema, dstTable string) ([]string, error) {
	srcDefs, err := m.TableStructure(ctx, srcSchema, srcTable)
	if err != nil {
		return nil, err
	}
	dstDefs, err := m.TableStructure(ctx, dstSchema, dstTable)
	if err != nil {
		return nil, err
	}

	dstNames := make(map[string]struct{}, len(dstDefs))
	for _, def := range dstDefs {
		dstNames[def.Name] = struct{}{}
	}

	var shared []string
	for _, def := range srcDefs {
		if _, ok := dstNames[def.Name]; ok {
			shared = append(shared, def.Name)
		}
	}

	if len(shared) == 0 {
		return nil, NewDDLError(dstSchema, dstTable, "column match",
			fmt.Errorf("tables %s.%s and %s.%s share no columns", srcSchema, srcTable, dstSchema, dstTable))
	}

	return shared, nil
}

// CloneTableStructure creates dstTable in dstSchema with the source table's
// data columns appended to the standard skeleton.
func (m *Manager) CloneTableStructure(ctx context.Context, srcSchema, srcTable, dstSchema, dstTable string) error {
	dataCols, err := m.DataColumns(ctx, srcSchema, srcTable)
	if err != nil {
		return err
	}

	if err := m.CreateTable(ctx, dstSchema, dstTable); err != nil {
		return err
	}

	for _, def := range dataCols {
		if err := m.AddColumn(ctx, dstSchema, dstTable, def.Name, def.Type); err != nil {
			return err
		}
	}

	return nil
}
