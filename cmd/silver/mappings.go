package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"silver/internal/mapping"
	"silver/internal/transform"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newMappingsCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "mappings",
		Aliases: []string{"mapping"},
		Short:   "Manage source-field to target-column mappings",
	}

	var in mapping.ManualInput
	add := &cobra.Command{
		Use:   "add SOURCE_TABLE SOURCE_FIELD TARGET_TABLE TARGET_COLUMN",
		Short: "Add an approved MANUAL mapping",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SourceTable, in.SourceField, in.TargetTable, in.TargetColumn = args[0], args[1], args[2], args[3]
			in.By = a.cfg.User
			m, err := a.mappings.CreateManual(cmd.Context(), in)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully added mapping %d: %s.%s -> %s.%s",
				m.ID, m.SourceTable, m.SourceField, m.TargetTable, m.TargetColumn), nil)
		},
	}
	add.Flags().StringVar(&in.Transformation, "transform", "", "transformation expression over the source field")
	add.Flags().StringVar(&in.Description, "description", "", "mapping description")
	add.Flags().StringVar(&in.TPA, "tpa", "", "third-party administrator tag")

	var (
		f        mapping.Filter
		method   string
		approved bool
		pending  bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List mappings; duplicate pairs are flagged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if method != "" {
				m, err := mapping.ParseMethod(method)
				if err != nil {
					return err
				}
				f.Method = m
			}
			switch {
			case approved && pending:
				return fmt.Errorf("--approved and --pending are exclusive")
			case approved:
				f.Approved = &approved
			case pending:
				no := false
				f.Approved = &no
			}
			ms, err := a.mappings.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "ID", "SOURCE", "FIELD", "TARGET", "COLUMN", "METHOD", "CONFIDENCE", "APPROVED", "TRANSFORM", "DUP")
			for _, m := range ms {
				dup := ""
				if m.Duplicate {
					dup = "DUPLICATE"
				}
				row(w, m.ID, m.SourceTable, m.SourceField, m.TargetTable, m.TargetColumn, m.Method,
					strconv.FormatFloat(m.Confidence, 'f', 2, 64), yesNo(m.Approved), orDash(m.Transformation), dup)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&f.SourceTable, "source", "", "source table")
	list.Flags().StringVar(&f.TargetTable, "target", "", "target table")
	list.Flags().StringVar(&f.TPA, "tpa", "", "third-party administrator tag")
	list.Flags().StringVar(&method, "method", "", "manual, ml or llm")
	list.Flags().BoolVar(&approved, "approved", false, "approved mappings only")
	list.Flags().BoolVar(&pending, "pending", false, "unapproved mappings only")

	approve := &cobra.Command{
		Use:   "approve ID...",
		Short: "Approve mappings so transformation runs use them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range args {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				if err := a.mappings.Approve(cmd.Context(), id, a.cfg.User); err != nil {
					return outcome(cmd, "Error: "+err.Error(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully approved mapping %d\n", id)
			}
			return nil
		},
	}

	unapprove := &cobra.Command{
		Use:   "unapprove ID",
		Short: "Withdraw a mapping's approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mappings.Unapprove(cmd.Context(), id); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully unapproved mapping %d", id), nil)
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mappings.Delete(cmd.Context(), id); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully deleted mapping %d", id), nil)
		},
	}

	setTransform := &cobra.Command{
		Use:   "set-transform ID EXPR",
		Short: "Set or clear (empty EXPR) a mapping's transformation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mappings.UpdateTransformation(cmd.Context(), id, args[1]); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully updated transformation of mapping %d", id), nil)
		},
	}

	var (
		req     mapping.Request
		meth    string
		pairs   []string
		minConf float64
	)
	generate := &cobra.Command{
		Use:   "generate SOURCE_TABLE TARGET_TABLE",
		Short: "Propose mappings with the similarity (ml) or semantic (llm) generator",
		Example: `  silver mappings generate RAW_DATA_TABLE CUSTOMER --method ml --top-n 3 --min-confidence 0.7
  silver mappings generate RAW_DATA_TABLE CUSTOMER --method llm --model llama3.1-70b
  silver mappings generate RAW_DATA_TABLE CUSTOMER --method manual --pair cust_id=ID --pair email=EMAIL`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mapping.ParseMethod(meth)
			if err != nil {
				return err
			}
			req.Method = m
			req.SourceTable, req.TargetTable = args[0], args[1]
			req.By = a.cfg.User
			if cmd.Flags().Changed("min-confidence") {
				req.MinConfidence = &minConf
			}
			if len(pairs) > 0 {
				req.Pairs = make(map[string]string, len(pairs))
				for _, p := range pairs {
					src, tgt, ok := strings.Cut(p, "=")
					if !ok {
						return fmt.Errorf("pair %q: want source=target", p)
					}
					req.Pairs[strings.TrimSpace(src)] = strings.TrimSpace(tgt)
				}
			}
			svc, err := a.mappingService()
			if err != nil {
				return err
			}
			out, err := svc.Generate(cmd.Context(), req)
			if err == nil && len(out.Candidates) > 0 {
				w := newTable(cmd)
				row(w, "FIELD", "COLUMN", "CONFIDENCE", "RATIONALE")
				for _, cand := range out.Candidates {
					row(w, cand.SourceField, cand.TargetColumn, strconv.FormatFloat(cand.Confidence, 'f', 2, 64), cand.Rationale)
				}
				if ferr := w.Flush(); ferr != nil {
					return ferr
				}
			}
			return outcome(cmd, out.Message, err)
		},
	}
	generate.Flags().StringVar(&meth, "method", "ml", "generator: manual, ml or llm")
	generate.Flags().StringVar(&req.TPA, "tpa", "", "third-party administrator tag")
	generate.Flags().IntVar(&req.TopN, "top-n", 0, "ml: candidates kept per source field (default from config)")
	generate.Flags().Float64Var(&minConf, "min-confidence", 0, "ml: minimum score, 0 keeps every candidate (default from config)")
	generate.Flags().StringVar(&req.Model, "model", "", "llm: model name (default from config)")
	generate.Flags().StringVar(&req.PromptID, "prompt", "", "llm: prompt template id (default from config)")
	generate.Flags().StringArrayVar(&pairs, "pair", nil, "manual: source=target (repeatable)")

	var (
		limit   int
		noRules bool
	)
	preview := &cobra.Command{
		Use:   "preview SOURCE_TABLE TARGET_TABLE",
		Short: "Show what the next run would write and reject, without writing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.engine.Preview(cmd.Context(), transform.Request{
				SourceTable: args[0],
				TargetTable: args[1],
				ApplyRules:  !noRules,
			}, limit)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			out := cmd.OutOrStdout()
			wm := p.Watermark
			if wm == "" {
				wm = "start"
			}
			fmt.Fprintf(out, "Read %s row(s) after %s: %s accepted, %s rejected\n",
				count(p.Read), wm, count(len(p.Accepted)), count(len(p.Rejected)))
			for _, r := range p.Accepted {
				b, err := r.MarshalJSON()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  + %s\n", b)
			}
			for _, r := range p.Rejected {
				fmt.Fprintf(out, "  - %s %s: %s\n", r.Position, orText(r.RuleID, "MAP"), r.Detail)
			}
			return nil
		},
	}
	preview.Flags().IntVar(&limit, "limit", 10, "rows to read")
	preview.Flags().BoolVar(&noRules, "no-rules", false, "skip transformation rules")

	c.AddCommand(add, list, approve, unapprove, del, setTransform, generate, preview)
	return c
}

func orText(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
