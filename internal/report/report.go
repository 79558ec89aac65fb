// Package report defines the per-site and per-run result summaries
// produced by a harvest, plus their console rendering.
package report

import (
	"sort"
	"time"

	"github.com/casaops/harvester/internal/planner"
)

// SiteReport summarizes one site's extraction outcome. A run always
// produces a SiteReport for every planned site, including failed ones.
type SiteReport struct {
	SiteKey string `json:"site_key"`

	// PagesFetched is how many result pages were retrieved.
	PagesFetched int `json:"pages_fetched"`
	// RenderedPages counts pages that needed the browser fallback.
	RenderedPages int `json:"rendered_pages"`
	// RawCount is the number of raw records extracted before normalization.
	RawCount int `json:"raw_count"`
	// Accepted is the number of listings that passed normalization and
	// were merged into the aggregate store.
	Accepted int `json:"accepted"`
	// Rejected counts normalization rejections by reason.
	Rejected map[string]int `json:"rejected,omitempty"`
	// Inserted and Updated split the accepted listings by merge outcome.
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`

	// AvgQuality is the mean quality score of accepted listings.
	AvgQuality float64 `json:"avg_quality"`

	// DiscoveryAttempted is set when the configured selector failed and
	// pattern discovery ran, regardless of whether it succeeded.
	DiscoveryAttempted bool `json:"discovery_attempted"`
	// DiscoveredSelector is the pattern discovery settled on, if any.
	DiscoveredSelector string `json:"discovered_selector,omitempty"`

	// FailureReason is non-empty when the site produced no results due to
	// an error, a panic, or a deadline.
	FailureReason string `json:"failure_reason,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// RejectedTotal sums the rejection counts.
func (r *SiteReport) RejectedTotal() int {
	var total int
	for _, n := range r.Rejected {
		total += n
	}
	return total
}

// Failed reports whether the site finished with a failure reason.
func (r *SiteReport) Failed() bool {
	return r.FailureReason != ""
}

// AddRejection counts one normalization rejection under reason.
func (r *SiteReport) AddRejection(reason string) {
	if r.Rejected == nil {
		r.Rejected = make(map[string]int)
	}
	r.Rejected[reason]++
}

// RunReport is the full result of one harvest run. A run always
// completes with a report, even when every site failed.
type RunReport struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	Verdict        planner.Verdict `json:"verdict"`
	Recommendation string          `json:"recommendation,omitempty"`
	Sessions       int             `json:"sessions"`

	Sites map[string]*SiteReport `json:"sites"`

	Elapsed time.Duration `json:"elapsed"`
}

// TotalAccepted sums accepted listings across sites.
func (r *RunReport) TotalAccepted() int {
	var total int
	for _, s := range r.Sites {
		total += s.Accepted
	}
	return total
}

// FailedSites returns the keys of sites that finished with a failure.
func (r *RunReport) FailedSites() []string {
	var keys []string
	for key, s := range r.Sites {
		if s.Failed() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// SortedSites returns the site reports ordered by key for stable output.
func (r *RunReport) SortedSites() []*SiteReport {
	keys := make([]string, 0, len(r.Sites))
	for key := range r.Sites {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*SiteReport, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.Sites[key])
	}
	return out
}
