package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/bronze"
	"silver/internal/config"
	"silver/internal/mapping"
	"silver/internal/metrics"
	"silver/internal/quality"
	"silver/internal/rules"
	"silver/internal/schema"
	"silver/internal/storage"
	"silver/pkg/records"
)

// Source reads the Bronze window of a run.
type Source interface {
	Read(ctx context.Context, ref bronze.Ref, after string, limit int) ([]bronze.Row, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	DB         *storage.DB
	Source     Source
	Registry   *schema.Registry
	Mappings   *mapping.Store
	Rules      *rules.Store
	Recorder   *quality.Recorder
	Quarantine *quality.QuarantineStore
	Log        *zap.Logger
}

// Engine runs transformation batches. It is safe for concurrent use; runs
// of the same pair exclude each other through the watermark lock.
type Engine struct {
	db         *storage.DB
	source     Source
	registry   *schema.Registry
	mappings   *mapping.Store
	rules      *rules.Store
	recorder   *quality.Recorder
	quarantine *quality.QuarantineStore
	batches    *BatchLog

	cfg  config.Transform
	user string
	log  *zap.Logger

	now   func() time.Time
	newID func() string
}

// New returns an Engine. user is reported by CURRENT_USER() in rules.
func New(d Deps, cfg config.Transform, user string) *Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Hour
	}
	return &Engine{
		db:         d.DB,
		source:     d.Source,
		registry:   d.Registry,
		mappings:   d.Mappings,
		rules:      d.Rules,
		recorder:   d.Recorder,
		quarantine: d.Quarantine,
		batches:    NewBatchLog(d.DB),
		cfg:        cfg,
		user:       user,
		log:        log.Named("transform"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
}

// Batches returns the batch log.
func (e *Engine) Batches() *BatchLog { return e.batches }

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func (e *Engine) normalize(req Request) Request {
	req.SourceTable = upper(req.SourceTable)
	req.TargetTable = upper(req.TargetTable)
	if req.BatchSize == 0 {
		req.BatchSize = e.cfg.BatchSize
	}
	return req
}

// prepared is the metadata read once at the start of a run.
type prepared struct {
	plan    *plan
	program *rules.Program
}

// prepare checks the configuration of req. It reads metadata only.
func (e *Engine) prepare(ctx context.Context, req Request) (*prepared, error) {
	cfgErr := func(err error) error {
		return &ConfigError{Source: req.SourceTable, Target: req.TargetTable, Err: err}
	}
	if req.SourceTable == "" || req.TargetTable == "" {
		return nil, cfgErr(errors.New("source and target tables are required"))
	}
	if req.BatchSize <= 0 {
		return nil, cfgErr(fmt.Errorf("batch size must be positive, got %d", req.BatchSize))
	}
	tbl, err := e.registry.Table(ctx, req.TargetTable)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			return nil, cfgErr(err)
		}
		return nil, err
	}
	maps, err := e.mappings.Approved(ctx, req.SourceTable, req.TargetTable)
	if err != nil {
		return nil, err
	}
	p, err := compilePlan(tbl, maps, e.cfg.DateLayouts)
	if err != nil {
		return nil, cfgErr(err)
	}
	p.user = e.user

	prep := &prepared{plan: p}
	if req.ApplyRules {
		rs, err := e.rules.Applicable(ctx, req.TargetTable)
		if err != nil {
			return nil, err
		}
		if prep.program, err = rules.Compile(rs); err != nil {
			return nil, cfgErr(err)
		}
	}
	return prep, nil
}

// Rejected is a row removed during MAP or RULES.
type Rejected struct {
	Position string
	Row      *records.Record
	RuleID   string
	Detail   string
}

// processed is the outcome of READ, MAP and RULES over one window.
type processed struct {
	read     int
	lastPos  string
	accepted []*records.Record
	rejected []Rejected
	outcomes []rules.Outcome
}

// process maps and validates rows.
func (e *Engine) process(ctx context.Context, req Request, prep *prepared, rows []bronze.Row) (*processed, error) {
	job := req.Pair()
	out := &processed{read: len(rows)}
	prep.plan.now = e.now()

	start := time.Now()
	mapped := make([]*records.Record, 0, len(rows))
	positions := make([]string, 0, len(rows))
	for _, r := range rows {
		if out.lastPos == "" || bronze.ComparePositions(r.Position, out.lastPos) > 0 {
			out.lastPos = r.Position
		}
		src, err := records.DecodeJSON(r.Data)
		if err != nil {
			raw := records.New(1)
			raw.Set("RAW_DATA", records.String(string(r.Data)))
			out.rejected = append(out.rejected, Rejected{
				Position: r.Position,
				Row:      raw,
				Detail:   (&MappingGapError{Reason: ReasonInvalidSource, Err: err}).Error(),
			})
			continue
		}
		row, err := prep.plan.mapRow(src)
		if err != nil {
			out.rejected = append(out.rejected, Rejected{Position: r.Position, Row: src, Detail: err.Error()})
			continue
		}
		mapped = append(mapped, row)
		positions = append(positions, r.Position)
	}
	metrics.RecordStep(job, "map", nil, time.Since(start))

	start = time.Now()
	accepted := mapped
	if prep.program != nil {
		res, err := prep.program.Apply(ctx, mapped, rules.Scope{
			Table:   req.TargetTable,
			Types:   prep.plan.types,
			Now:     prep.plan.now,
			User:    e.user,
			Layouts: e.cfg.DateLayouts,
		})
		metrics.RecordStep(job, "rules", err, time.Since(start))
		if err != nil {
			return nil, err
		}
		accepted = res.Accepted
		out.outcomes = res.Outcomes
		for _, rj := range res.Rejected {
			out.rejected = append(out.rejected, Rejected{
				Position: positions[rj.Index],
				Row:      rj.Row,
				RuleID:   rj.RuleID,
				Detail:   rj.Detail,
			})
		}
	}

	for _, row := range accepted {
		if err := prep.plan.required(row); err != nil {
			out.rejected = append(out.rejected, Rejected{Row: row, Detail: err.Error()})
			continue
		}
		out.accepted = append(out.accepted, row)
	}
	return out, nil
}

// Run executes one batch for req. Configuration problems and a held lock
// are returned before any state changes and leave no batch behind. Every
// other failure closes the batch FAILED; the returned Result then carries
// the batch id and an "Error:" message alongside the error.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	req = e.normalize(req)
	job := req.Pair()
	res := Result{SourceTable: req.SourceTable, TargetTable: req.TargetTable}
	started := e.now()

	prep, err := e.prepare(ctx, req)
	if err != nil {
		res.fail(err)
		return res, err
	}

	initStart := time.Now()
	res.BatchID = e.newID()
	if err := e.lock(ctx, req.SourceTable, req.TargetTable, res.BatchID); err != nil {
		metrics.RecordStep(job, "init", err, time.Since(initStart))
		res.BatchID = ""
		res.fail(err)
		return res, err
	}
	defer func() {
		if err := e.unlock(context.WithoutCancel(ctx), req.SourceTable, req.TargetTable, res.BatchID); err != nil {
			e.log.Error("release lock", zap.String("batch", res.BatchID), zap.Error(err))
		}
	}()

	wm, err := e.Watermark(ctx, req.SourceTable, req.TargetTable)
	if err == nil {
		res.WatermarkFrom = wm.LastPosition.String
		res.WatermarkTo = res.WatermarkFrom
		err = e.batches.open(ctx, Batch{
			ID:            res.BatchID,
			SourceTable:   req.SourceTable,
			TargetTable:   req.TargetTable,
			WatermarkFrom: storage.NullString(res.WatermarkFrom),
			StartTime:     started,
		})
	}
	metrics.RecordStep(job, "init", err, time.Since(initStart))
	if err != nil {
		res.fail(err)
		return res, err
	}
	log := e.log.With(zap.String("batch", res.BatchID), zap.String("source", req.SourceTable), zap.String("target", req.TargetTable))
	log.Info("batch started", zap.String("watermark", res.WatermarkFrom), zap.Int("batch_size", req.BatchSize))

	if err := e.execute(ctx, req, prep, &res, started); err != nil {
		res.Duration = e.now().Sub(started)
		res.fail(err)
		if cerr := e.batches.close(context.WithoutCancel(ctx), e.db, res, e.now()); cerr != nil {
			log.Error("close failed batch", zap.Error(cerr))
		}
		metrics.RecordBatches(job, string(StatusFailed), 1)
		log.Error("batch failed", zap.Error(err))
		return res, err
	}

	metrics.RecordBatches(job, string(StatusSuccess), 1)
	metrics.RecordRow(job, "read", int64(res.Read))
	metrics.RecordRow(job, "processed", int64(res.Processed))
	metrics.RecordRow(job, "rejected", int64(res.Rejected))
	metrics.RecordRow(job, "quarantined", int64(res.Quarantined))
	log.Info("batch succeeded",
		zap.Int("read", res.Read), zap.Int("processed", res.Processed),
		zap.Int("rejected", res.Rejected), zap.Int("quarantined", res.Quarantined),
		zap.String("watermark", res.WatermarkTo), zap.Duration("elapsed", res.Duration))
	return res, nil
}

// execute runs READ through WATERMARK for an opened batch.
func (e *Engine) execute(ctx context.Context, req Request, prep *prepared, res *Result, started time.Time) error {
	job := req.Pair()

	start := time.Now()
	rows, err := e.source.Read(ctx, bronze.Ref{Schema: req.SourceSchema, Table: req.SourceTable}, res.WatermarkFrom, req.BatchSize)
	metrics.RecordStep(job, "read", err, time.Since(start))
	if err != nil {
		return err
	}

	out, err := e.process(ctx, req, prep, rows)
	if err != nil {
		return err
	}
	res.Read = out.read
	res.Rejected = len(out.rejected)
	res.RulesApplied = len(out.outcomes)
	if req.AdvanceWatermark && out.lastPos != "" {
		res.WatermarkTo = out.lastPos
	}

	start = time.Now()
	err = e.db.InTx(ctx, func(tx *sqlx.Tx) error {
		written, err := e.write(ctx, tx, prep.plan, req.TargetTable, out.accepted)
		if err != nil {
			return err
		}
		res.Processed = written

		entries := make([]quality.Entry, len(out.rejected))
		for i, r := range out.rejected {
			entries[i] = quality.Entry{Row: r.Row, RuleID: r.RuleID, Detail: r.Detail}
		}
		if res.Quarantined, err = e.quarantine.Insert(ctx, tx, res.BatchID, req.SourceTable, req.TargetTable, entries); err != nil {
			return err
		}

		ms := e.recorder.Measure(quality.Input{
			BatchID:  res.BatchID,
			Table:    req.TargetTable,
			Read:     out.read,
			Accepted: out.accepted,
			Columns:  prep.plan.table.Names(),
			Outcomes: out.outcomes,
		})
		if err := e.recorder.Save(ctx, tx, ms); err != nil {
			return err
		}

		if !req.AdvanceWatermark {
			return errDryRun
		}
		if out.lastPos != "" {
			wmStart := time.Now()
			err := e.advance(ctx, tx, req.SourceTable, req.TargetTable, out.lastPos, res.BatchID)
			metrics.RecordStep(job, "watermark", err, time.Since(wmStart))
			if err != nil {
				return err
			}
		}

		end := e.now()
		res.Duration = end.Sub(started)
		res.succeed()
		return e.batches.close(ctx, tx, *res, end)
	})
	if errors.Is(err, errDryRun) {
		end := e.now()
		res.Duration = end.Sub(started)
		res.succeed()
		res.Message += " (dry run, rolled back)"
		err = e.batches.close(ctx, e.db, *res, end)
	}
	metrics.RecordStep(job, "write", err, time.Since(start))
	if err != nil {
		res.Processed, res.Quarantined = 0, 0
		res.WatermarkTo = res.WatermarkFrom
	}
	return err
}
