package transform

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"silver/internal/bronze"
	"silver/internal/config"
	"silver/internal/mapping"
	"silver/internal/quality"
	"silver/internal/rules"
	"silver/internal/schema"
	"silver/internal/storage"
	"silver/internal/storage/storagetest"
)

const rawTable = "RAW_CUSTOMER"

type fixture struct {
	db         *storage.DB
	bronze     *bronze.Reader
	registry   *schema.Registry
	mappings   *mapping.Store
	rules      *rules.Store
	quarantine *quality.QuarantineStore
	engine     *Engine
}

// newFixture declares CUSTOMER(ID varchar key, NAME varchar, SIGNUP_DATE
// date), maps id, name (trimmed and upper-cased) and signup onto it, and
// adds a priority 1 TRIM standardization on NAME plus a priority 10
// NOT NULL check on ID with action.
func newFixture(t *testing.T, action rules.Action) *fixture {
	t.Helper()
	ctx := context.Background()
	db := storagetest.Open(t)

	f := &fixture{
		db:         db,
		bronze:     bronze.NewReader(db, config.Bronze{}, nil),
		registry:   schema.NewRegistry(db, nil),
		rules:      rules.NewStore(db, nil),
		quarantine: quality.NewQuarantineStore(db, nil),
	}
	f.mappings = mapping.NewStore(db, f.registry, nil)
	if err := f.bronze.EnsureTable(ctx, bronze.Ref{Table: rawTable}); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	_, err := f.registry.CreateTable(ctx, "CUSTOMER", []schema.ColumnSpec{
		{Name: "ID", DataType: "VARCHAR", PrimaryKey: true},
		{Name: "NAME", DataType: "VARCHAR", Nullable: true},
		{Name: "SIGNUP_DATE", DataType: "DATE", Nullable: true},
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := f.registry.Sync(ctx, "CUSTOMER", false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	for _, m := range []mapping.ManualInput{
		{SourceField: "id", TargetColumn: "ID"},
		{SourceField: "name", TargetColumn: "NAME", Transformation: "TRIM(UPPER(name))"},
		{SourceField: "signup", TargetColumn: "SIGNUP_DATE"},
	} {
		m.SourceTable, m.TargetTable, m.By = rawTable, "CUSTOMER", "tester"
		if _, err := f.mappings.CreateManual(ctx, m); err != nil {
			t.Fatalf("CreateManual %s: %v", m.SourceField, err)
		}
	}

	for _, in := range []rules.Input{
		{ID: "STD_NAME", Name: "trim name", Type: rules.Standardization, TargetTable: "CUSTOMER",
			TargetColumn: "NAME", Logic: "TRIM", Priority: 1},
		{ID: "DQ_ID", Name: "id required", Type: rules.DataQuality, TargetTable: "CUSTOMER",
			TargetColumn: "ID", Logic: "IS NOT NULL", Priority: 10, Action: action},
	} {
		if _, err := f.rules.Create(ctx, in); err != nil {
			t.Fatalf("rules.Create %s: %v", in.ID, err)
		}
	}

	f.engine = New(Deps{
		DB:         db,
		Source:     f.bronze,
		Registry:   f.registry,
		Mappings:   f.mappings,
		Rules:      f.rules,
		Recorder:   quality.NewRecorder(db, 0.95, nil),
		Quarantine: f.quarantine,
	}, config.Transform{BatchSize: 100, WriteChunkSize: 2, StaleAfter: time.Hour}, "tester")
	return f
}

func (f *fixture) insert(t *testing.T, docs ...map[string]any) {
	t.Helper()
	if _, err := f.bronze.Insert(context.Background(), bronze.Ref{Table: rawTable}, "test.json", docs); err != nil {
		t.Fatalf("bronze.Insert: %v", err)
	}
}

func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	res, err := f.engine.Run(context.Background(), Request{
		SourceTable:      rawTable,
		TargetTable:      "CUSTOMER",
		ApplyRules:       true,
		AdvanceWatermark: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

type customer struct {
	ID     string         `db:"ID"`
	Name   sql.NullString `db:"NAME"`
	Signup sql.NullTime   `db:"SIGNUP_DATE"`
}

func (f *fixture) customers(t *testing.T) []customer {
	t.Helper()
	var out []customer
	if err := f.db.SelectContext(context.Background(), &out,
		`SELECT "ID", "NAME", "SIGNUP_DATE" FROM `+f.db.Target("CUSTOMER")+` ORDER BY "ID"`); err != nil {
		t.Fatalf("select customers: %v", err)
	}
	return out
}

func TestRun_CustomerRowWritten(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t, map[string]any{"id": "7", "name": " bob ", "signup": "2024-01-05"})

	res := f.run(t)
	if res.Status != StatusSuccess || !strings.Contains(res.String(), "Successfully") {
		t.Fatalf("result = %+v", res)
	}
	if res.Read != 1 || res.Processed != 1 || res.Rejected != 0 || res.Quarantined != 0 {
		t.Fatalf("counts = read %d processed %d rejected %d quarantined %d", res.Read, res.Processed, res.Rejected, res.Quarantined)
	}
	if res.RulesApplied != 2 {
		t.Fatalf("RulesApplied = %d, want 2", res.RulesApplied)
	}

	got := f.customers(t)
	if len(got) != 1 {
		t.Fatalf("customers = %+v, want one row", got)
	}
	c := got[0]
	if c.ID != "7" || c.Name.String != "BOB" {
		t.Fatalf("customer = %+v, want ID=7 NAME=BOB", c)
	}
	if !c.Signup.Valid || c.Signup.Time.Format(time.DateOnly) != "2024-01-05" {
		t.Fatalf("SIGNUP_DATE = %v, want 2024-01-05", c.Signup)
	}

	wm, err := f.engine.Watermark(context.Background(), rawTable, "CUSTOMER")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if wm.LastPosition.String != "1" || wm.LastBatchID.String != res.BatchID || wm.LockedBy.Valid {
		t.Fatalf("watermark = %+v", wm)
	}

	b, err := f.engine.Batches().Get(context.Background(), res.BatchID)
	if err != nil {
		t.Fatalf("Batches.Get: %v", err)
	}
	if b.Status != StatusSuccess || b.RecordsProcessed != 1 || !b.EndTime.Valid || b.WatermarkTo.String != "1" {
		t.Fatalf("batch = %+v", b)
	}
	if n := storagetest.Count(t, f.db, f.db.Meta(storage.TableQualityMetrics)); n == 0 {
		t.Fatal("no quality metrics recorded")
	}
}

func TestRun_MissingIDRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t, map[string]any{"name": " bob ", "signup": "2024-01-05"})

	res := f.run(t)
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	if len(f.customers(t)) != 0 {
		t.Fatal("row with NULL ID was written")
	}
	if res.Rejected != 1 || res.Quarantined != 1 {
		t.Fatalf("rejected %d quarantined %d, want 1 and 1", res.Rejected, res.Quarantined)
	}
	q, err := f.quarantine.List(context.Background(), quality.QuarantineFilter{BatchID: res.BatchID})
	if err != nil {
		t.Fatalf("quarantine.List: %v", err)
	}
	if len(q) != 1 || q[0].RuleID.String != "DQ_ID" {
		t.Fatalf("quarantine = %+v, want one DQ_ID record", q)
	}
	if res.WatermarkTo != "1" {
		t.Fatalf("WatermarkTo = %q, want 1", res.WatermarkTo)
	}
}

func TestRun_QuarantineCompleteness(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionQuarantine)
	f.insert(t,
		map[string]any{"id": "1", "name": "ann"},
		map[string]any{"name": "nobody"},
		map[string]any{"name": "nobody again"},
		map[string]any{"id": "2", "name": "ben", "signup": "not a date"},
		map[string]any{"id": "3", "name": "cy"},
	)

	res := f.run(t)
	if res.Read != 5 || res.Processed != 2 || res.Rejected != 3 {
		t.Fatalf("counts = %+v", res)
	}
	q, err := f.quarantine.List(context.Background(), quality.QuarantineFilter{BatchID: res.BatchID})
	if err != nil {
		t.Fatalf("quarantine.List: %v", err)
	}
	byRule := map[string]int{}
	for _, r := range q {
		byRule[r.RuleID.String]++
		if r.BatchID != res.BatchID {
			t.Fatalf("quarantine batch = %s, want %s", r.BatchID, res.BatchID)
		}
	}
	if byRule["DQ_ID"] != 2 || byRule[""] != 1 {
		t.Fatalf("quarantine by rule = %v, want DQ_ID:2 and one mapping failure", byRule)
	}
	for _, r := range q {
		if !r.RuleID.Valid && !strings.Contains(r.ErrorDetail, "cast failed: SIGNUP_DATE") {
			t.Fatalf("mapping failure detail = %q", r.ErrorDetail)
		}
	}
}

func TestRun_IdempotentReplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t,
		map[string]any{"id": "1", "name": "ann"},
		map[string]any{"id": "2", "name": "ben"},
	)

	first := f.run(t)
	second := f.run(t)
	if second.Read != 0 || second.Processed != 0 {
		t.Fatalf("replay read %d wrote %d, want 0", second.Read, second.Processed)
	}
	if second.WatermarkTo != first.WatermarkTo || second.WatermarkFrom != first.WatermarkTo {
		t.Fatalf("replay moved the watermark: first %+v second %+v", first, second)
	}
	if got := len(f.customers(t)); got != 2 {
		t.Fatalf("customers = %d, want 2", got)
	}
}

func TestRun_MergeByKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t, map[string]any{"id": "1", "name": "ann"})
	f.run(t)

	f.insert(t,
		map[string]any{"id": "1", "name": "anne"},
		map[string]any{"id": "1", "name": "annie"},
	)
	res := f.run(t)
	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1 after collapsing the key", res.Processed)
	}
	got := f.customers(t)
	if len(got) != 1 || got[0].Name.String != "ANNIE" {
		t.Fatalf("customers = %+v, want one ANNIE", got)
	}
}

func TestRun_WatermarkMonotonic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	ctx := context.Background()
	f.engine.cfg.BatchSize = 2
	for i := 0; i < 5; i++ {
		f.insert(t, map[string]any{"id": string(rune('a' + i)), "name": "x"})
	}

	prev := ""
	for i := 0; i < 4; i++ {
		res := f.run(t)
		if prev != "" && bronze.ComparePositions(res.WatermarkTo, prev) < 0 {
			t.Fatalf("watermark went back from %s to %s", prev, res.WatermarkTo)
		}
		prev = res.WatermarkTo
	}
	if prev != "5" {
		t.Fatalf("final watermark = %s, want 5", prev)
	}

	// A failing write leaves the watermark where it was.
	f.insert(t, map[string]any{"id": "z", "name": "x"})
	if _, err := f.db.ExecContext(ctx, `DROP TABLE `+f.db.Target("CUSTOMER")); err != nil {
		t.Fatalf("drop: %v", err)
	}
	res, err := f.engine.Run(ctx, Request{SourceTable: rawTable, TargetTable: "CUSTOMER", ApplyRules: true, AdvanceWatermark: true})
	if err == nil || res.Status != StatusFailed || !strings.HasPrefix(res.Message, "Error:") {
		t.Fatalf("Run after drop = %+v, %v; want FAILED", res, err)
	}
	wm, _ := f.engine.Watermark(ctx, rawTable, "CUSTOMER")
	if wm.LastPosition.String != "5" || wm.LockedBy.Valid {
		t.Fatalf("watermark after failure = %+v", wm)
	}
	b, err := f.engine.Batches().Get(ctx, res.BatchID)
	if err != nil || b.Status != StatusFailed || !b.ErrorMessage.Valid {
		t.Fatalf("failed batch = %+v, %v", b, err)
	}
	if n := storagetest.Count(t, f.db, f.db.Meta(storage.TableQuarantine)); n != 0 {
		t.Fatalf("quarantine rows after rollback = %d", n)
	}
}

func TestRun_DryRunKeepsWatermark(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t, map[string]any{"id": "1", "name": "ann"})

	res, err := f.engine.Run(context.Background(), Request{SourceTable: rawTable, TargetTable: "CUSTOMER", ApplyRules: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 1 || res.WatermarkTo != "" {
		t.Fatalf("dry run = %+v", res)
	}
	if !strings.Contains(res.Message, "dry run") {
		t.Fatalf("message = %q", res.Message)
	}
	wm, _ := f.engine.Watermark(context.Background(), rawTable, "CUSTOMER")
	if wm.LastPosition.Valid {
		t.Fatalf("dry run advanced watermark to %s", wm.LastPosition.String)
	}
	if n := len(f.customers(t)); n != 0 {
		t.Fatalf("dry run left %d customer row(s)", n)
	}
	b, err := f.engine.Batches().Get(context.Background(), res.BatchID)
	if err != nil {
		t.Fatalf("Batches.Get: %v", err)
	}
	if b.Status != StatusSuccess || b.RecordsProcessed != 1 {
		t.Fatalf("dry run batch = %+v", b)
	}
}

func TestRun_DryRunThenRunOnKeylessTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, rules.ActionReject)
	if _, err := f.registry.CreateTable(ctx, "EVENTS", []schema.ColumnSpec{
		{Name: "NAME", DataType: "VARCHAR", Nullable: true},
	}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := f.registry.Sync(ctx, "EVENTS", false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := f.mappings.CreateManual(ctx, mapping.ManualInput{
		SourceTable: rawTable, SourceField: "name", TargetTable: "EVENTS", TargetColumn: "NAME", By: "tester",
	}); err != nil {
		t.Fatalf("CreateManual: %v", err)
	}
	f.insert(t, map[string]any{"id": "1", "name": "signup"})

	for _, advance := range []bool{false, true, true} {
		if _, err := f.engine.Run(ctx, Request{SourceTable: rawTable, TargetTable: "EVENTS", AdvanceWatermark: advance}); err != nil {
			t.Fatalf("Run(advance=%v): %v", advance, err)
		}
	}
	if n := storagetest.Count(t, f.db, f.db.Target("EVENTS")); n != 1 {
		t.Fatalf("EVENTS rows = %d, want 1", n)
	}
	var quarantined int
	if err := f.db.GetContext(ctx, &quarantined, `SELECT COUNT(*) FROM `+f.db.Meta(storage.TableQuarantine)); err != nil {
		t.Fatal(err)
	}
	if quarantined != 0 {
		t.Fatalf("quarantined = %d", quarantined)
	}
}

func TestRun_ApprovalGating(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	ctx := context.Background()
	// An unapproved candidate that would overwrite NAME with the city.
	if _, err := f.mappings.InsertCandidates(ctx, rawTable, "CUSTOMER", "", []mapping.Candidate{
		{SourceField: "city", TargetColumn: "NAME", Confidence: 0.99, Method: mapping.MethodSimilarity},
	}); err != nil {
		t.Fatalf("InsertCandidates: %v", err)
	}
	f.insert(t, map[string]any{"id": "1", "city": "Paris"})

	f.run(t)
	got := f.customers(t)
	if len(got) != 1 || got[0].Name.Valid {
		t.Fatalf("customers = %+v, want NAME NULL", got)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown target", Request{SourceTable: rawTable, TargetTable: "NOPE"}},
		{"no approved mappings", Request{SourceTable: "RAW_OTHER", TargetTable: "CUSTOMER"}},
		{"negative batch size", Request{SourceTable: rawTable, TargetTable: "CUSTOMER", BatchSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Run(ctx, tt.req)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Run error = %v, want *ConfigError", err)
			}
		})
	}
	if n := storagetest.Count(t, f.db, f.db.Meta(storage.TableBatches)); n != 0 {
		t.Fatalf("batches after config errors = %d, want 0", n)
	}
}

func TestRun_LockRefusalAndStaleTakeover(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	ctx := context.Background()
	f.insert(t, map[string]any{"id": "1", "name": "ann"})

	// A crashed run left its batch RUNNING and the lock held.
	if err := f.engine.lock(ctx, rawTable, "CUSTOMER", "crashed"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.engine.batches.open(ctx, Batch{ID: "crashed", SourceTable: rawTable, TargetTable: "CUSTOMER", StartTime: time.Now().UTC()}); err != nil {
		t.Fatalf("open: %v", err)
	}

	req := Request{SourceTable: rawTable, TargetTable: "CUSTOMER", ApplyRules: true, AdvanceWatermark: true}
	if _, err := f.engine.Run(ctx, req); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Run with live lock = %v, want ErrRunInProgress", err)
	}

	// Stale but no auto reset: still refused, naming the batch.
	f.engine.now = func() time.Time { return time.Now().UTC().Add(3 * time.Hour) }
	_, err := f.engine.Run(ctx, req)
	if !errors.Is(err, ErrRunInProgress) || !strings.Contains(err.Error(), "crashed") {
		t.Fatalf("Run with stale lock = %v", err)
	}

	f.engine.cfg.AutoResetStale = true
	res, err := f.engine.Run(ctx, req)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("Run with takeover = %+v, %v", res, err)
	}
	old, err := f.engine.Batches().Get(ctx, "crashed")
	if err != nil || old.Status != StatusFailed || old.ErrorMessage.String != "stale RUNNING batch reset" {
		t.Fatalf("stale batch = %+v, %v", old, err)
	}
}

func TestResetLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	ctx := context.Background()

	if id, err := f.engine.ResetLock(ctx, rawTable, "CUSTOMER"); err != nil || id != "" {
		t.Fatalf("ResetLock on unlocked pair = %q, %v", id, err)
	}
	if err := f.engine.lock(ctx, rawTable, "CUSTOMER", "held"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	id, err := f.engine.ResetLock(ctx, rawTable, "CUSTOMER")
	if err != nil || id != "held" {
		t.Fatalf("ResetLock = %q, %v", id, err)
	}
	wm, _ := f.engine.Watermark(ctx, rawTable, "CUSTOMER")
	if wm.LockedBy.Valid {
		t.Fatalf("lock still held: %+v", wm)
	}
}

func TestPreviewWritesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t,
		map[string]any{"id": "1", "name": " ann "},
		map[string]any{"name": "ghost"},
	)
	p, err := f.engine.Preview(context.Background(), Request{SourceTable: rawTable, TargetTable: "CUSTOMER", ApplyRules: true}, 10)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.Read != 2 || len(p.Accepted) != 1 || len(p.Rejected) != 1 {
		t.Fatalf("preview = %+v", p)
	}
	if got := p.Accepted[0].Value("NAME").Text(); got != "ANN" {
		t.Fatalf("NAME = %q, want ANN", got)
	}
	if len(f.customers(t)) != 0 || storagetest.Count(t, f.db, f.db.Meta(storage.TableBatches)) != 0 {
		t.Fatal("preview wrote state")
	}
}

func TestRunAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rules.ActionReject)
	f.insert(t, map[string]any{"id": "1", "name": "ann"})

	reqs := []Request{
		{SourceTable: rawTable, TargetTable: "CUSTOMER", ApplyRules: true, AdvanceWatermark: true},
		{SourceTable: "RAW_OTHER", TargetTable: "CUSTOMER"},
	}
	var (
		mu   sync.Mutex
		seen []int
	)
	results, err := f.engine.RunAllFunc(context.Background(), reqs, 2, func(i int, _ Result) {
		mu.Lock()
		seen = append(seen, i)
		mu.Unlock()
	})
	if err == nil {
		t.Fatal("RunAll error = nil, want the second pair's config error")
	}
	if len(seen) != len(reqs) {
		t.Fatalf("done called %d times, want %d", len(seen), len(reqs))
	}
	if results[0].Status != StatusSuccess || results[0].Processed != 1 {
		t.Fatalf("first pair = %+v", results[0])
	}
	if results[1].Status != StatusFailed {
		t.Fatalf("second pair = %+v", results[1])
	}

	if _, err := f.engine.RunAll(context.Background(), []Request{reqs[0], reqs[0]}, 2); err == nil {
		t.Fatal("duplicate pair accepted")
	}
}
