package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableRenderer displays a run report as formatted console tables.
type TableRenderer struct {
	out io.Writer
}

// NewTableRenderer creates a renderer writing to out.
func NewTableRenderer(out io.Writer) *TableRenderer {
	return &TableRenderer{out: out}
}

// Render writes the per-site table followed by the run summary.
func (r *TableRenderer) Render(run *RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{
		"Site", "Pages", "Raw", "Accepted", "Rejected", "Avg Quality", "Discovery", "Status", "Elapsed",
	})

	for _, site := range run.SortedSites() {
		t.AppendRow(table.Row{
			site.SiteKey,
			site.PagesFetched,
			site.RawCount,
			site.Accepted,
			site.RejectedTotal(),
			fmt.Sprintf("%.1f", site.AvgQuality),
			discoveryCell(site),
			statusCell(site),
			site.Elapsed.Round(time.Millisecond),
		})
	}

	t.Render()

	fmt.Fprintf(r.out, "\nRun %s: %d sessions, verdict %s, %d listings accepted, %d sites failed, elapsed %s\n",
		run.RunID,
		run.Sessions,
		run.Verdict,
		run.TotalAccepted(),
		len(run.FailedSites()),
		run.Elapsed.Round(time.Millisecond),
	)
	if run.Recommendation != "" {
		fmt.Fprintf(r.out, "Recommendation: %s\n", run.Recommendation)
	}
}

func discoveryCell(site *SiteReport) string {
	switch {
	case site.DiscoveredSelector != "":
		return site.DiscoveredSelector
	case site.DiscoveryAttempted:
		return "attempted"
	default:
		return "-"
	}
}

func statusCell(site *SiteReport) string {
	if site.Failed() {
		return "failed: " + site.FailureReason
	}
	return "ok"
}
