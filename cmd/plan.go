package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/casaops/harvester/internal/dedup"
	"github.com/casaops/harvester/internal/harvest"
	"github.com/casaops/harvester/internal/planner"
)

func planCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Compute and display the batch plan without running it",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadRun()
			if err != nil {
				return err
			}

			// The runner validates adapters and owns planning; the store
			// is never written here.
			runner, err := harvest.NewRunner(cfg, harvest.Options{
				Store: dedup.NewMemoryStore(),
			}, log)
			if err != nil {
				return err
			}

			plan, err := runner.Plan()
			if err != nil {
				return err
			}

			renderPlan(plan)
			return nil
		},
	}
}

func renderPlan(plan *planner.Plan) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Session", "Sites", "Estimated"})

	for i, session := range plan.Sessions {
		t.AppendRow(table.Row{
			i + 1,
			strings.Join(session.SiteKeys, ", "),
			(time.Duration(session.EstimatedSeconds * float64(time.Second))).Round(time.Second),
		})
	}
	t.Render()

	fmt.Printf("\nVerdict: %s (projected %s of %s budget, %d-way sessions)\n",
		plan.Verdict,
		plan.ProjectedWallClock.Round(time.Second),
		plan.TimeBudget,
		plan.Parallelism,
	)
	if plan.Recommendation != "" {
		fmt.Printf("Recommendation: %s\n", plan.Recommendation)
	}
}
