package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"silver/internal/quality"
)

func newQuarantineCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and resolve quarantined rows",
	}

	var f quality.QuarantineFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List quarantined rows, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			qs, err := a.quarantine.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "ID", "BATCH", "TARGET", "RULE", "RESOLVED", "DETAIL", "RECORD")
			for _, q := range qs {
				row(w, q.ID, q.BatchID, q.TargetTable, orDash(q.RuleID), yesNo(q.Resolved), q.ErrorDetail, q.RecordData)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&f.BatchID, "batch", "", "batch id")
	list.Flags().StringVar(&f.TargetTable, "target", "", "target table")
	list.Flags().StringVar(&f.RuleID, "rule", "", "rule id")
	list.Flags().BoolVar(&f.Unresolved, "unresolved", false, "unresolved rows only")
	list.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")

	resolve := &cobra.Command{
		Use:   "resolve ID...",
		Short: "Mark quarantined rows as remediated",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range args {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				if err := a.quarantine.Resolve(cmd.Context(), id, a.cfg.User); err != nil {
					return outcome(cmd, "Error: "+err.Error(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully resolved quarantined row %d\n", id)
			}
			return nil
		},
	}

	c.AddCommand(list, resolve)
	return c
}

func newMetricsCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect data quality metrics",
	}

	var f quality.Filter
	list := &cobra.Command{
		Use:   "list",
		Short: "List quality metrics, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ms, err := a.recorder.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "BATCH", "TABLE", "TYPE", "NAME", "VALUE", "RECORDS", "PASSED", "MEASURED")
			for _, m := range ms {
				row(w, orDash(m.BatchID), m.Table, m.Type, m.Name, strconv.FormatFloat(m.Value, 'f', 4, 64),
					count(m.RecordCount), yesNo(m.Passed), when(m.MeasuredAt))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&f.Table, "table", "", "target table")
	list.Flags().StringVar(&f.BatchID, "batch", "", "batch id")
	list.Flags().StringVar(&f.Type, "type", "", "metric type, e.g. COMPLETENESS or DATA_QUALITY")
	list.Flags().BoolVar(&f.Failing, "failing", false, "failing metrics only")
	list.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")

	c.AddCommand(list)
	return c
}
