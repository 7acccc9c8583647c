package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"silver/internal/bronze"
)

func newBronzeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "bronze",
		Short: "Development helpers for the Bronze landing table",
		Long: `Development helpers for the Bronze landing table. They create the raw
table and fill it with synthetic or fixture documents so transformations
can be exercised without the ingestion chain.`,
	}

	var schemaName string
	ref := func(args []string) bronze.Ref {
		r := bronze.Ref{Schema: schemaName}
		if len(args) > 0 {
			r.Table = args[0]
		}
		return r
	}

	ensure := &cobra.Command{
		Use:   "ensure [TABLE]",
		Short: "Create the raw table when missing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bronze.EnsureTable(cmd.Context(), ref(args)); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, "Successfully ensured raw table", nil)
		},
	}

	var opt bronze.SeedOptions
	seed := &cobra.Command{
		Use:   "seed [TABLE]",
		Short: "Insert synthetic customer documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := ref(args)
			if err := a.bronze.EnsureTable(cmd.Context(), r); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			n, err := a.bronze.Seed(cmd.Context(), r, opt)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully seeded %s raw row(s)", count(n)), nil)
		},
	}
	seed.Flags().IntVar(&opt.Rows, "rows", 100, "documents to insert")
	seed.Flags().Int64Var(&opt.Seed, "seed", 0, "random seed; 0 picks one")
	seed.Flags().Float64Var(&opt.MissingIDRate, "missing-id-rate", 0.05, "share of documents without cust_id")
	seed.Flags().Float64Var(&opt.DuplicateRate, "duplicate-rate", 0.05, "share of documents repeating an earlier email")

	var (
		lopt   bronze.LoadOptions
		format string
		delim  string
	)
	load := &cobra.Command{
		Use:   "load FILE|URL [TABLE]",
		Short: "Append the records of a CSV or JSON fixture as raw rows",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := ref(args[1:])
			lopt.Format = bronze.Format(strings.ToLower(format))
			if delim != "" {
				lopt.Delimiter = []rune(delim)[0]
			}
			if err := a.bronze.EnsureTable(cmd.Context(), r); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			n, err := a.bronze.Load(cmd.Context(), r, args[0], lopt)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully loaded %s raw row(s) from %s", count(n), args[0]), nil)
		},
	}
	load.Flags().StringVar(&format, "format", "", "csv or json (default from the extension)")
	load.Flags().StringVar(&delim, "delimiter", "", "csv field delimiter")
	load.Flags().StringVar(&lopt.TPA, "tpa", "", "third-party administrator tag")
	load.Flags().IntVar(&lopt.ChunkSize, "chunk-size", 1000, "rows per insert")

	fields := &cobra.Command{
		Use:   "fields [TABLE]",
		Short: "List the field names found in recent raw documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.bronze.Fields(cmd.Context(), ref(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			return nil
		},
	}

	c.PersistentFlags().StringVar(&schemaName, "schema", "", "Bronze schema (default from config)")
	c.AddCommand(ensure, seed, load, fields)
	return c
}
