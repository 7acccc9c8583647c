package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"silver/internal/mapping"
	"silver/internal/transform"
)

// approvedPairs returns every (source, target) pair with at least one
// approved mapping, sorted.
func (a *app) approvedPairs(ctx context.Context) ([][2]string, error) {
	yes := true
	ms, err := a.mappings.List(ctx, mapping.Filter{Approved: &yes})
	if err != nil {
		return nil, err
	}
	seen := map[[2]string]bool{}
	var out [][2]string
	for _, m := range ms {
		p := [2]string{m.SourceTable, m.TargetTable}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out, nil
}

func newTransformCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "transform",
		Short: "Run transformation batches",
	}

	var (
		all          bool
		batchSize    int
		noRules      bool
		dryRun       bool
		parallelism  int
		progress     bool
		sourceSchema string
	)
	run := &cobra.Command{
		Use:   "run [SOURCE_TABLE TARGET_TABLE]",
		Short: "Transform the rows past the watermark of one pair, or of every pair with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			base := transform.Request{
				SourceSchema:     sourceSchema,
				BatchSize:        batchSize,
				ApplyRules:       !noRules,
				AdvanceWatermark: !dryRun,
			}
			if !all {
				req := base
				req.SourceTable, req.TargetTable = args[0], args[1]
				res, err := a.engine.Run(cmd.Context(), req)
				return outcome(cmd, res.Message, err)
			}

			pairs, err := a.approvedPairs(cmd.Context())
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				return outcome(cmd, "No pairs with approved mappings", nil)
			}
			reqs := make([]transform.Request, len(pairs))
			for i, p := range pairs {
				reqs[i] = base
				reqs[i].SourceTable, reqs[i].TargetTable = p[0], p[1]
			}

			var done func(int, transform.Result)
			if progress {
				uiprogress.Start()
				bar := uiprogress.AddBar(len(reqs)).AppendCompleted().PrependElapsed()
				var (
					mu   sync.Mutex
					last string
				)
				bar.PrependFunc(func(*uiprogress.Bar) string {
					mu.Lock()
					defer mu.Unlock()
					return fmt.Sprintf("%-30s", last)
				})
				done = func(i int, _ transform.Result) {
					mu.Lock()
					last = reqs[i].SourceTable + " -> " + reqs[i].TargetTable
					mu.Unlock()
					bar.Incr()
				}
			}
			results, err := a.engine.RunAllFunc(cmd.Context(), reqs, parallelism, done)
			if progress {
				uiprogress.Stop()
			}
			if results == nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %s\n", r.SourceTable, r.TargetTable, r.Message)
			}
			if err != nil {
				return reported{err}
			}
			return nil
		},
	}
	rf := run.Flags()
	rf.BoolVar(&all, "all", false, "run every pair with approved mappings")
	rf.IntVar(&batchSize, "batch-size", 0, "rows per batch (default from config)")
	rf.BoolVar(&noRules, "no-rules", false, "skip transformation rules")
	rf.BoolVar(&dryRun, "dry-run", false, "run the batch and roll back its writes")
	rf.IntVar(&parallelism, "parallelism", 0, "--all: pairs run at once (default from config)")
	rf.BoolVar(&progress, "progress", false, "--all: show a progress bar")
	rf.StringVar(&sourceSchema, "source-schema", "", "Bronze schema (default from config)")

	resetLock := &cobra.Command{
		Use:   "reset-lock SOURCE_TABLE TARGET_TABLE",
		Short: "Release a pair's run lock and fail the batch holding it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := a.engine.ResetLock(cmd.Context(), args[0], args[1])
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			pair := strings.ToUpper(args[0]) + " -> " + strings.ToUpper(args[1])
			if holder == "" {
				return outcome(cmd, "No lock held on "+pair, nil)
			}
			return outcome(cmd, fmt.Sprintf("Successfully released lock on %s held by batch %s", pair, holder), nil)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show every pair's watermark and lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wms, err := a.engine.Watermarks(cmd.Context())
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "SOURCE", "TARGET", "POSITION", "LAST BATCH", "LOCKED BY", "UPDATED")
			for _, wm := range wms {
				row(w, wm.SourceTable, wm.TargetTable, orDash(wm.LastPosition), orDash(wm.LastBatchID),
					orDash(wm.LockedBy), when(wm.UpdatedAt))
			}
			return w.Flush()
		},
	}

	c.AddCommand(run, resetLock, status)
	return c
}

func newBatchesCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "batches",
		Aliases: []string{"batch"},
		Short:   "Inspect the batch log",
	}

	var (
		f      transform.BatchFilter
		status string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Status = transform.Status(strings.ToUpper(status))
			bs, err := a.engine.Batches().List(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "BATCH", "SOURCE", "TARGET", "STATUS", "READ", "WRITTEN", "REJECTED", "QUARANTINED", "STARTED", "DURATION", "ERROR")
			for _, b := range bs {
				row(w, b.ID, b.SourceTable, b.TargetTable, b.Status, count(b.RecordsRead), count(b.RecordsProcessed),
					count(b.RecordsRejected), count(b.RecordsQuarantined), when(b.StartTime), b.Duration(), orDash(b.ErrorMessage))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&f.SourceTable, "source", "", "source table")
	list.Flags().StringVar(&f.TargetTable, "target", "", "target table")
	list.Flags().StringVar(&status, "status", "", "RUNNING, SUCCESS or FAILED")
	list.Flags().IntVar(&f.Limit, "limit", 20, "maximum rows")

	show := &cobra.Command{
		Use:   "show BATCH_ID",
		Short: "Show one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.engine.Batches().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "batch", b.ID)
			row(w, "pair", b.SourceTable+" -> "+b.TargetTable)
			row(w, "status", b.Status)
			row(w, "read", count(b.RecordsRead))
			row(w, "written", count(b.RecordsProcessed))
			row(w, "rejected", count(b.RecordsRejected))
			row(w, "quarantined", count(b.RecordsQuarantined))
			row(w, "rules applied", b.RulesApplied)
			row(w, "watermark", orDash(b.WatermarkFrom)+" -> "+orDash(b.WatermarkTo))
			row(w, "started", b.StartTime.Format("2006-01-02 15:04:05"))
			row(w, "duration", b.Duration())
			row(w, "error", orDash(b.ErrorMessage))
			return w.Flush()
		},
	}

	c.AddCommand(list, show)
	return c
}
