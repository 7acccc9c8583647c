package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"silver/internal/config"
	"silver/internal/rules"
	"silver/pkg/records"
)

func newRulesCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Manage transformation rules",
	}

	var (
		in                  rules.Input
		typ, action, params string
	)
	add := &cobra.Command{
		Use:   "add RULE_ID NAME",
		Short: "Add a rule; it must compile",
		Example: `  silver rules add DQ_EMAIL "email present" --type dq --table CUSTOMER --column EMAIL --logic "IS NOT NULL" --action quarantine
  silver rules add STD_NAME "trim names" --type std --table CUSTOMER --column NAME --logic TRIM --priority 1
  silver rules add DEDUP_EMAIL "one row per email" --type dedup --table CUSTOMER --params '{"keys":["EMAIL"],"strategy":"KEEP_LAST"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ID, in.Name = args[0], args[1]
			t, err := rules.ParseType(typ)
			if err != nil {
				return err
			}
			in.Type = t
			if in.Action, err = rules.ParseAction(action); err != nil {
				return err
			}
			if params != "" {
				if in.Parameters, err = config.ParseOptions(params); err != nil {
					return err
				}
			}
			r, err := a.rules.Create(cmd.Context(), in)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully added rule %s (%s, priority %d)", r.ID, r.Type, r.Priority), nil)
		},
	}
	af := add.Flags()
	af.StringVar(&typ, "type", "", "DATA_QUALITY (dq), BUSINESS_LOGIC (bl), STANDARDIZATION (std) or DEDUPLICATION (dedup)")
	af.StringVar(&in.TargetTable, "table", "", "target table; empty applies to every table")
	af.StringVar(&in.TargetColumn, "column", "", "target column; empty makes the rule row-level")
	af.StringVar(&in.Logic, "logic", "", "rule expression")
	af.StringVar(&params, "params", "", "JSON object of rule parameters")
	af.IntVar(&in.Priority, "priority", 100, "evaluation order, lower first")
	af.StringVar(&action, "action", "LOG", "LOG, REJECT or QUARANTINE")
	af.StringVar(&in.Description, "description", "", "description")
	_ = add.MarkFlagRequired("type")

	update := &cobra.Command{
		Use:   "update RULE_ID",
		Short: "Edit a rule; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := ruleUpdate(cmd.Flags())
			if err != nil {
				return err
			}
			r, err := a.rules.Update(cmd.Context(), args[0], u)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, "Successfully updated rule "+r.ID, nil)
		},
	}
	uf := update.Flags()
	uf.String("name", "", "rule name")
	uf.String("table", "", "target table")
	uf.String("column", "", "target column")
	uf.String("logic", "", "rule expression")
	uf.String("params", "", "JSON object of rule parameters")
	uf.Int("priority", 100, "evaluation order")
	uf.String("action", "", "LOG, REJECT or QUARANTINE")
	uf.String("description", "", "description")

	var (
		lf      rules.Filter
		listTyp string
		all     bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listTyp != "" {
				t, err := rules.ParseType(listTyp)
				if err != nil {
					return err
				}
				lf.Type = t
			}
			lf.ActiveOnly = !all
			rs, err := a.rules.List(cmd.Context(), lf)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "ID", "TYPE", "SCOPE", "PRIORITY", "ACTION", "ACTIVE", "LOGIC")
			for _, r := range rs {
				row(w, r.ID, r.Type, r.Scope(), r.Priority, r.Action, yesNo(r.Active), r.Logic)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&lf.Table, "table", "", "rules applying to this table")
	list.Flags().StringVar(&listTyp, "type", "", "rule type")
	list.Flags().BoolVar(&all, "all", false, "include disabled rules")

	setActive := func(use, verb string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " RULE_ID",
			Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.rules.SetActive(cmd.Context(), args[0], active); err != nil {
					return outcome(cmd, "Error: "+err.Error(), err)
				}
				return outcome(cmd, fmt.Sprintf("Successfully %s rule %s", verb, strings.ToUpper(args[0])), nil)
			},
		}
	}

	del := &cobra.Command{
		Use:   "delete RULE_ID",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.rules.Delete(cmd.Context(), args[0]); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, "Successfully deleted rule "+strings.ToUpper(args[0]), nil)
		},
	}

	var rows []string
	test := &cobra.Command{
		Use:   "test RULE_ID",
		Short: "Apply one rule to sample rows without touching any table",
		Example: `  silver rules test DQ_EMAIL --row '{"EMAIL":"a@b.c"}' --row '{"EMAIL":null}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.rules.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			prog, err := rules.Compile([]rules.Rule{r})
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			recs := make([]*records.Record, len(rows))
			for i, s := range rows {
				if recs[i], err = records.DecodeJSON([]byte(s)); err != nil {
					return fmt.Errorf("row %d: %w", i+1, err)
				}
			}
			res, err := prog.Apply(cmd.Context(), recs, rules.Scope{
				Now:     time.Now().UTC(),
				User:    a.cfg.User,
				Layouts: a.cfg.Transform.DateLayouts,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, o := range res.Outcomes {
				fmt.Fprintf(out, "%s: evaluated %d, passed %d, failed %d, errored %d\n",
					o.RuleID, o.Evaluated, o.Passed, o.Failed, o.Errored)
			}
			for _, rec := range res.Accepted {
				b, err := rec.MarshalJSON()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  + %s\n", b)
			}
			for _, rj := range res.Rejected {
				fmt.Fprintf(out, "  - row %d %s: %s\n", rj.Index+1, rj.Action, rj.Detail)
			}
			return nil
		},
	}
	test.Flags().StringArrayVar(&rows, "row", nil, "JSON object to evaluate (repeatable)")
	_ = test.MarkFlagRequired("row")

	c.AddCommand(add, update, list,
		setActive("enable", "enabled", true),
		setActive("disable", "disabled", false),
		del, test)
	return c
}

func ruleUpdate(f *pflag.FlagSet) (rules.Update, error) {
	var u rules.Update
	str := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetString(name)
		return &v
	}
	u.Name = str("name")
	u.TargetTable = str("table")
	u.TargetColumn = str("column")
	u.Logic = str("logic")
	u.Description = str("description")
	if f.Changed("priority") {
		p, _ := f.GetInt("priority")
		u.Priority = &p
	}
	if s := str("action"); s != nil {
		act, err := rules.ParseAction(*s)
		if err != nil {
			return rules.Update{}, err
		}
		u.Action = &act
	}
	if s := str("params"); s != nil {
		o, err := config.ParseOptions(*s)
		if err != nil {
			return rules.Update{}, err
		}
		u.Parameters = &o
	}
	return u, nil
}
