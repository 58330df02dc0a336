package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kestrel-noc/kestrel/internal/kpi"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and export the rule catalog.",
	}
	cmd.AddCommand(newRulesValidateCmd(a), newRulesExportCmd(a))
	return cmd
}

func newRulesValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Compile a rule file, or the configured catalog, and list its rules.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				catalog *kpi.Catalog
				source  string
				err     error
			)
			if len(args) == 1 {
				catalog, err = catalogFromFile(args[0], a.cfg.Evaluator.ExtraFields)
				source = args[0]
			} else {
				catalog, source, err = resolveCatalog(cmd.Context(), a.cfg, nil)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✓ %d rules compiled from %s\n\n", catalog.Len(), source)

			table := tablewriter.NewWriter(out)
			table.Header([]string{"Name", "Category", "Fields"})

			var data [][]string
			for _, def := range catalog.Definitions() {
				data = append(data, []string{
					def.Name,
					def.Category,
					strings.Join(catalog.Fields(def.Name), ", "),
				})
			}
			if err := table.Bulk(data); err != nil {
				return err
			}
			return table.Render()
		},
	}
}

func newRulesExportCmd(a *app) *cobra.Command {
	var builtin bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the active rule catalog as YAML.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs := kpi.DefaultCatalog()
			if !builtin {
				catalog, _, err := resolveCatalog(cmd.Context(), a.cfg, nil)
				if err != nil {
					return err
				}
				defs = catalog.Definitions()
			}
			return kpi.MarshalDefinitions(cmd.OutOrStdout(), defs)
		},
	}

	cmd.Flags().BoolVar(&builtin, "builtin", false, "Export the built-in catalog instead of the configured one")
	return cmd
}

func catalogFromFile(path string, extraFields []string) (*kpi.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defs, err := kpi.LoadDefinitions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kpi.NewCatalog(defs, kpi.WithFields(extraFields...))
}
