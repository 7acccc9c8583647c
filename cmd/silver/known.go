package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"silver/internal/mapping"
)

func newKnownCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "known",
		Short: "Curated field pairs that lift similarity scores",
	}

	var desc string
	add := &cobra.Command{
		Use:   "add SOURCE_FIELD TARGET_FIELD",
		Short: "Add a known mapping",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.known.Create(cmd.Context(), args[0], args[1], desc)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully added known mapping %d: %s -> %s", k.ID, k.SourceField, k.TargetField), nil)
		},
	}
	add.Flags().StringVar(&desc, "description", "", "description")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List known mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := a.known.List(cmd.Context(), !all)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "ID", "SOURCE", "TARGET", "ACTIVE", "DESCRIPTION")
			for _, k := range ks {
				row(w, k.ID, k.SourceField, k.TargetField, yesNo(k.Active), orDash(k.Description))
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include deactivated entries")

	deactivate := &cobra.Command{
		Use:   "deactivate ID",
		Short: "Deactivate a known mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.known.Deactivate(cmd.Context(), id); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully deactivated known mapping %d", id), nil)
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a known mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.known.Delete(cmd.Context(), id); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, fmt.Sprintf("Successfully deleted known mapping %d", id), nil)
		},
	}

	c.AddCommand(add, list, deactivate, del)
	return c
}

func newPromptsCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "prompts",
		Aliases: []string{"prompt"},
		Short:   "Prompt templates for the semantic generator",
	}

	var (
		text, file, desc string
	)
	add := &cobra.Command{
		Use:   "add ID NAME",
		Short: "Add a prompt template; the text must contain both placeholders",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := text
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				body = string(b)
			}
			t, err := a.templates.Create(cmd.Context(), args[0], args[1], body, desc)
			if err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, "Successfully added prompt template "+t.ID, nil)
		},
	}
	add.Flags().StringVar(&text, "text", "", "template text")
	add.Flags().StringVar(&file, "file", "", "read the template text from a file")
	add.Flags().StringVar(&desc, "description", "", "description")
	add.MarkFlagsMutuallyExclusive("text", "file")
	add.MarkFlagsOneRequired("text", "file")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := a.templates.List(cmd.Context(), !all)
			if err != nil {
				return err
			}
			w := newTable(cmd)
			row(w, "ID", "NAME", "ACTIVE", "UPDATED", "DESCRIPTION")
			for _, t := range ts {
				row(w, t.ID, t.Name, yesNo(t.Active), when(t.UpdatedAt), orDash(t.Description))
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include deactivated templates")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a template's text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.templates.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Text)
			return nil
		},
	}

	setActive := func(use, short, verb string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.templates.SetActive(cmd.Context(), args[0], active); err != nil {
					return outcome(cmd, "Error: "+err.Error(), err)
				}
				return outcome(cmd, fmt.Sprintf("Successfully %s prompt template %s", verb, mapping.TemplateID(args[0])), nil)
			},
		}
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a prompt template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.templates.Delete(cmd.Context(), args[0]); err != nil {
				return outcome(cmd, "Error: "+err.Error(), err)
			}
			return outcome(cmd, "Successfully deleted prompt template "+mapping.TemplateID(args[0]), nil)
		},
	}

	c.AddCommand(add, list, show,
		setActive("activate", "Activate a prompt template", "activated", true),
		setActive("deactivate", "Deactivate a prompt template", "deactivated", false),
		del)
	return c
}
