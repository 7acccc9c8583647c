package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"silver/internal/config"
	"silver/internal/storage"
)

func newBootstrapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the metadata tables and seed the default prompt template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := storage.Bootstrap(cmd.Context(), a.db); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully bootstrapped metadata on %s (schema %s)",
				a.db.Dialect.Name(), a.cfg.Silver.Schema), nil)
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
		// Replaces the root hook: no storage connection is needed here.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.loadConfig()
		},
	}
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Lint the configuration and exit non-zero on errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues := config.Validate(a.cfg)
			for _, iss := range issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return outcome(cmd, "Configuration is invalid", fmt.Errorf("config: %d issue(s)", len(issues)))
			}
			return outcome(cmd, "Configuration is valid", nil)
		},
	})
	return c
}
