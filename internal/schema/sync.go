package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/ddl"
)

// SyncStatus classifies the result of Sync.
type SyncStatus string

const (
	SyncCreated            SyncStatus = "CREATED"
	SyncAltered            SyncStatus = "ALTERED"
	SyncRecreated          SyncStatus = "RECREATED"
	SyncUnchanged          SyncStatus = "UNCHANGED"
	SyncPendingDestructive SyncStatus = "PENDING_DESTRUCTIVE"
	SyncFailed             SyncStatus = "FAILED"
)

// SyncResult reports what Sync changed. Message starts with "Successfully",
// "Recreated" or "Error:".
type SyncResult struct {
	Table   string
	Status  SyncStatus
	Added   []string
	Dropped []string
	Retyped []string
	// Pending lists destructive changes skipped because force was false.
	Pending []string
	Message string
}

func (r SyncResult) String() string { return r.Message }

// Sync reconciles the physical table with its active declaration. Missing
// tables are created and missing columns added. Dropping and retyping live
// columns happens only when force is set; a backend that cannot retype in
// place gets the table rebuilt with its rows copied over.
func (r *Registry) Sync(ctx context.Context, table string, force bool) (SyncResult, error) {
	table = strings.ToUpper(strings.TrimSpace(table))
	res := SyncResult{Table: table}
	fail := func(err error) (SyncResult, error) {
		res.Status = SyncFailed
		res.Message = "Error: " + err.Error()
		r.log.Error("sync failed", zap.String("table", table), zap.Error(err))
		return res, err
	}

	decl, err := r.Table(ctx, table)
	if err != nil {
		return fail(err)
	}
	declared, err := r.physical(decl)
	if err != nil {
		return fail(err)
	}

	d := r.db.Dialect
	fqn := r.db.Target(table)
	liveCols, err := d.Columns(ctx, r.db, r.db.Schema, table)
	if err != nil {
		return fail(err)
	}

	if len(liveCols) == 0 {
		defs, err := ddl.Definitions(ddl.TableDef{FQN: fqn, Columns: declared}, d.Quote)
		if err != nil {
			return fail(err)
		}
		if _, err := r.db.ExecContext(ctx, d.CreateTable(fqn, defs)); err != nil {
			return fail(fmt.Errorf("schema: create %s: %w", table, err))
		}
		res.Status = SyncCreated
		res.Added = decl.Names()
		res.Message = fmt.Sprintf("Successfully created table %s with %d columns", table, len(declared))
		r.log.Info("table created", zap.String("table", table), zap.Int("columns", len(declared)))
		return res, nil
	}

	live := make([]ddl.ColumnDef, len(liveCols))
	for i, c := range liveCols {
		live[i] = ddl.ColumnDef{Name: c.Name, SQLType: c.Type, Nullable: c.Nullable}
	}
	plan := ddl.Diff(declared, live, d.NormalizeType)
	if plan.Empty() {
		res.Status = SyncUnchanged
		res.Message = fmt.Sprintf("Successfully synchronized %s: already up to date", table)
		return res, nil
	}

	var stmts []string
	for _, c := range plan.Add {
		// Existing rows have no value for the new column.
		c.Nullable, c.PrimaryKey = true, false
		def, err := ddl.Column(c, d.Quote)
		if err != nil {
			return fail(err)
		}
		stmts = append(stmts, d.AddColumn(fqn, def))
		res.Added = append(res.Added, c.Name)
	}

	if plan.Destructive() && !force {
		for _, c := range plan.Drop {
			res.Pending = append(res.Pending, "drop "+c.Name)
		}
		for _, rt := range plan.Retype {
			res.Pending = append(res.Pending, fmt.Sprintf("retype %s %s -> %s", rt.Column.Name, rt.From, rt.Column.SQLType))
		}
		if err := r.exec(ctx, stmts); err != nil {
			return fail(err)
		}
		res.Status = SyncPendingDestructive
		res.Message = fmt.Sprintf("Successfully added %d column(s) to %s; %d destructive change(s) pending, rerun with force: %s",
			len(res.Added), table, len(res.Pending), strings.Join(res.Pending, ", "))
		r.log.Warn("destructive changes pending", zap.String("table", table), zap.Strings("pending", res.Pending))
		return res, nil
	}

	recreate := false
	for _, c := range plan.Drop {
		stmts = append(stmts, d.DropColumn(fqn, c.Name))
		res.Dropped = append(res.Dropped, c.Name)
	}
	for _, rt := range plan.Retype {
		stmt, ok := d.AlterColumnType(fqn, rt.Column.Name, rt.Column.SQLType)
		if !ok {
			recreate = true
		}
		stmts = append(stmts, stmt)
		res.Retyped = append(res.Retyped, rt.Column.Name)
	}

	if recreate {
		if err := r.recreate(ctx, fqn, declared, live); err != nil {
			return fail(err)
		}
		res.Status = SyncRecreated
		res.Message = fmt.Sprintf("Recreated table %s: added %d, dropped %d, retyped %d column(s); rows copied",
			table, len(res.Added), len(res.Dropped), len(res.Retyped))
		r.log.Warn("table recreated", zap.String("table", table), zap.Strings("retyped", res.Retyped))
		return res, nil
	}

	if err := r.exec(ctx, stmts); err != nil {
		return fail(err)
	}
	res.Status = SyncAltered
	res.Message = fmt.Sprintf("Successfully altered %s: added %d, dropped %d, retyped %d column(s)",
		table, len(res.Added), len(res.Dropped), len(res.Retyped))
	r.log.Info("table altered", zap.String("table", table),
		zap.Strings("added", res.Added), zap.Strings("dropped", res.Dropped), zap.Strings("retyped", res.Retyped))
	return res, nil
}

// physical maps a declaration to backend column definitions.
func (r *Registry) physical(t Table) ([]ddl.ColumnDef, error) {
	out := make([]ddl.ColumnDef, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := c.Type()
		if err != nil {
			return nil, fmt.Errorf("schema: %s.%s: %w", t.Name, c.Name, err)
		}
		out = append(out, ddl.ColumnDef{
			Name:       c.Name,
			SQLType:    r.db.Dialect.MapType(typ),
			Nullable:   c.Nullable,
			PrimaryKey: c.PrimaryKey,
		})
	}
	return out, nil
}

func (r *Registry) exec(ctx context.Context, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("schema: %s: %w", s, err)
			}
		}
		return nil
	})
}

// recreate rebuilds fqn with the declared columns. Rows are parked in a
// scratch table, the target is dropped and created again, and the columns
// present on both sides are copied back.
func (r *Registry) recreate(ctx context.Context, fqn string, declared, live []ddl.ColumnDef) error {
	d := r.db.Dialect
	liveSet := make(map[string]bool, len(live))
	for _, c := range live {
		liveSet[strings.ToUpper(c.Name)] = true
	}
	var common []string
	for _, c := range declared {
		if liveSet[strings.ToUpper(c.Name)] {
			common = append(common, d.Quote(c.Name))
		}
	}
	defs, err := ddl.Definitions(ddl.TableDef{FQN: fqn, Columns: declared}, d.Quote)
	if err != nil {
		return err
	}
	scratchDefs := make([]string, 0, len(live))
	for _, c := range live {
		c.Nullable, c.PrimaryKey = true, false
		def, err := ddl.Column(c, d.Quote)
		if err != nil {
			return err
		}
		scratchDefs = append(scratchDefs, def)
	}

	scratch := r.db.Dialect.Qualify(r.db.Schema, "SILVER_SYNC_SCRATCH")
	cols := strings.Join(common, ", ")
	stmts := []string{
		d.DropTable(scratch),
		d.CreateTable(scratch, scratchDefs),
	}
	if len(common) > 0 {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", scratch, cols, cols, fqn))
	}
	stmts = append(stmts, d.DropTable(fqn), d.CreateTable(fqn, defs))
	if len(common) > 0 {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", fqn, cols, cols, scratch))
	}
	stmts = append(stmts, d.DropTable(scratch))
	return r.exec(ctx, stmts)
}
