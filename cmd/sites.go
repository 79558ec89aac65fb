package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/casaops/harvester/internal/sites"
)

func sitesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage site adapters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(sitesListCommand())
	cmd.AddCommand(sitesValidateCommand())
	return cmd
}

func sitesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured site adapters",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := loadRun()
			if err != nil {
				return err
			}

			adapters, excluded, err := sites.NewLoader(cfg.SitesFile).Load()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Base URL", "Pagination", "Parser", "Rendered", "Card Selector"})

			for _, adapter := range adapters {
				t.AppendRow(table.Row{
					adapter.Key,
					adapter.BaseURL,
					adapter.Pagination,
					adapter.Parser,
					adapter.ScriptRendered,
					adapter.Selectors.Card,
				})
			}
			t.Render()

			for _, ex := range excluded {
				fmt.Printf("excluded %s: %s\n", ex.Key, ex.Reason)
			}
			return nil
		},
	}
}

func sitesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the site adapter configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := loadRun()
			if err != nil {
				return err
			}

			adapters, excluded, err := sites.NewLoader(cfg.SitesFile).Load()
			if err != nil {
				return err
			}

			fmt.Printf("%d valid site adapter(s)\n", len(adapters))
			for _, ex := range excluded {
				fmt.Printf("invalid %s: %s\n", ex.Key, ex.Reason)
			}
			if len(excluded) > 0 {
				return fmt.Errorf("%d invalid site adapter(s)", len(excluded))
			}
			return nil
		},
	}
}
