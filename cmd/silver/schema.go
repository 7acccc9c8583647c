package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"silver/internal/bronze"
	"silver/internal/schema"
	"silver/pkg/records"
)

// parseColumn reads NAME:TYPE[:pk][:notnull][:desc=TEXT][:default=EXPR].
// default= must come last and may itself contain colons.
func parseColumn(s string) (schema.ColumnSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return schema.ColumnSpec{}, fmt.Errorf("column %q: want NAME:TYPE[:pk][:notnull][:desc=TEXT][:default=EXPR]", s)
	}
	spec := schema.ColumnSpec{Name: parts[0], DataType: parts[1], Nullable: true}
	for i := 2; i < len(parts); i++ {
		p := strings.TrimSpace(parts[i])
		switch {
		case strings.EqualFold(p, "pk"):
			spec.PrimaryKey = true
			spec.Nullable = false
		case strings.EqualFold(p, "notnull"):
			spec.Nullable = false
		case strings.HasPrefix(strings.ToLower(p), "desc="):
			spec.Description = p[len("desc="):]
		case strings.HasPrefix(strings.ToLower(p), "default="):
			spec.Default = strings.Join(append([]string{p[len("default="):]}, parts[i+1:]...), ":")
			return spec, nil
		default:
			return schema.ColumnSpec{}, fmt.Errorf("column %q: unknown attribute %q", s, p)
		}
	}
	return spec, nil
}

func newSchemaCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "schema",
		Short: "Declare target tables and sync them to storage",
	}

	var (
		cols  []string
		audit bool
		sync  bool
	)
	create := &cobra.Command{
		Use:   "create TABLE",
		Short: "Declare a new target table",
		Example: `  silver schema create CUSTOMER \
    --column ID:VARCHAR(20):pk \
    --column NAME:VARCHAR(200):notnull \
    --column SIGNUP_DATE:DATE \
    --column STATUS:VARCHAR(10):default='ACTIVE' --audit --sync`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := make([]schema.ColumnSpec, 0, len(cols))
			for _, s := range cols {
				spec, err := parseColumn(s)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			var opts []schema.Option
			if audit {
				opts = append(opts, schema.WithAuditColumns())
			}
			t, err := a.registry.CreateTable(cmd.Context(), args[0], specs, opts...)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully declared %s with %d column(s)\n", t.Name, len(t.Columns))
			if !sync {
				return nil
			}
			res, err := a.registry.Sync(cmd.Context(), t.Name, false)
			return outcome(cmd, res.Message, err)
		},
	}
	create.Flags().StringArrayVar(&cols, "column", nil, "column as NAME:TYPE[:pk][:notnull][:desc=TEXT][:default=EXPR] (repeatable)")
	create.Flags().BoolVar(&audit, "audit", false, "append INGESTION_TIMESTAMP, CREATED_AT and UPDATED_AT")
	create.Flags().BoolVar(&sync, "sync", false, "sync the physical table right away")
	_ = create.MarkFlagRequired("column")

	addColumn := &cobra.Command{
		Use:   "add-column TABLE NAME:TYPE[:attrs]",
		Short: "Declare an additional column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parseColumn(args[1])
			if err != nil {
				return err
			}
			col, err := a.registry.AddColumn(cmd.Context(), args[0], spec)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully added %s.%s %s", col.Table, col.Name, col.DataType), nil)
		},
	}

	updateColumn := &cobra.Command{
		Use:   "update-column TABLE COLUMN",
		Short: "Change a column declaration; type changes apply on the next forced sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u schema.ColumnUpdate
			f := cmd.Flags()
			if f.Changed("type") {
				v, _ := f.GetString("type")
				u.DataType = &v
			}
			if f.Changed("nullable") {
				v, _ := f.GetBool("nullable")
				u.Nullable = &v
			}
			if f.Changed("pk") {
				v, _ := f.GetBool("pk")
				u.PrimaryKey = &v
			}
			if f.Changed("default") {
				v, _ := f.GetString("default")
				u.Default = &v
			}
			if f.Changed("description") {
				v, _ := f.GetString("description")
				u.Description = &v
			}
			col, err := a.registry.UpdateColumn(cmd.Context(), args[0], args[1], u)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully updated %s.%s", col.Table, col.Name), nil)
		},
	}
	updateColumn.Flags().String("type", "", "new data type")
	updateColumn.Flags().Bool("nullable", true, "whether NULL is allowed")
	updateColumn.Flags().Bool("pk", false, "whether the column is part of the primary key")
	updateColumn.Flags().String("default", "", "default expression, empty clears it")
	updateColumn.Flags().String("description", "", "column description")

	dropColumn := &cobra.Command{
		Use:   "drop-column TABLE COLUMN",
		Short: "Deactivate a column; the physical column goes on the next forced sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.registry.DeactivateColumn(cmd.Context(), args[0], args[1]); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully deactivated %s.%s",
				strings.ToUpper(args[0]), strings.ToUpper(args[1])), nil)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List declared tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.registry.Tables(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show TABLE",
		Short: "Show a table's active columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.registry.Table(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "#", "COLUMN", "TYPE", "NULLABLE", "PK", "DEFAULT", "DESCRIPTION")
			for _, col := range t.Columns {
				row(w, col.Ordinal, col.Name, col.DataType, yesNo(col.Nullable), yesNo(col.PrimaryKey),
					orDash(col.Default), orDash(col.Description))
			}
			return w.Flush()
		},
	}

	var confirm bool
	drop := &cobra.Command{
		Use:   "drop TABLE",
		Short: "Drop a table and every declaration of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.registry.DropTable(cmd.Context(), args[0], confirm); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, "Successfully dropped "+strings.ToUpper(args[0]), nil)
		},
	}
	drop.Flags().BoolVar(&confirm, "confirm", false, "required; the table and its rows are removed")

	var force bool
	syncCmd := &cobra.Command{
		Use:   "sync [TABLE...]",
		Short: "Reconcile physical tables with their declarations (all tables when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := args
			if len(tables) == 0 {
				var err error
				if tables, err = a.registry.Tables(cmd.Context()); err != nil {
					return err
				}
			}
			var firstErr error
			for _, t := range tables {
				res, err := a.registry.Sync(cmd.Context(), t, force)
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				if err != nil && firstErr == nil {
					firstErr = reported{err}
				}
			}
			return firstErr
		},
	}
	syncCmd.Flags().BoolVar(&force, "force", false, "apply destructive changes (drop and retype columns)")

	var (
		target string
		pk     []string
		apply  bool
	)
	infer := &cobra.Command{
		Use:   "infer SOURCE_TABLE",
		Short: "Propose a target declaration from recent Bronze documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.bronze.Read(cmd.Context(), bronze.Ref{Table: args[0]}, "", a.cfg.Bronze.SampleRows)
			if err != nil {
				return err
			}
			samples := make([]*records.Record, 0, len(rows))
			for _, r := range rows {
				rec, err := records.DecodeJSON(r.Data)
				if err != nil {
					a.log.Debug("skipping undecodable sample")
					continue
				}
				samples = append(samples, rec)
			}
			specs := schema.Infer(samples, a.cfg.Transform.DateLayouts)
			if len(specs) == 0 {
				return fmt.Errorf("no fields found in %d sample(s) of %s", len(rows), strings.ToUpper(args[0]))
			}
			keys := map[string]bool{}
			for _, k := range pk {
				keys[strings.ToUpper(k)] = true
			}
			w := newTable(cmd)
			row(w, "COLUMN", "TYPE", "PK")
			for i := range specs {
				if keys[specs[i].Name] {
					specs[i].PrimaryKey = true
					specs[i].Nullable = false
				}
				row(w, specs[i].Name, specs[i].DataType, yesNo(specs[i].PrimaryKey))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !apply {
				return nil
			}
			if target == "" {
				return fmt.Errorf("--create needs --target")
			}
			t, err := a.registry.CreateTable(cmd.Context(), target, specs, schema.WithAuditColumns())
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully declared %s with %d column(s)", t.Name, len(t.Columns)), nil)
		},
	}
	infer.Flags().StringVar(&target, "target", "", "target table to declare with --create")
	infer.Flags().StringSliceVar(&pk, "pk", nil, "columns to mark as primary key")
	infer.Flags().BoolVar(&apply, "create", false, "declare the proposed table")

	c.AddCommand(create, addColumn, updateColumn, dropColumn, list, show, drop, syncCmd, infer)
	return c
}
