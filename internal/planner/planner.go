// Package planner computes a time-budget-aware batch plan: how to split
// the enabled sites into sessions so that the whole run, executed with
// bounded session parallelism, stays under the external wall-clock cap.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/casaops/harvester/internal/sites"
)

// Verdict is the human-readable safety classification of a plan.
type Verdict string

const (
	// VerdictSafe means the projected wall clock is comfortably under budget.
	VerdictSafe Verdict = "safe"
	// VerdictWarning means the projection is close to the budget.
	VerdictWarning Verdict = "warning"
	// VerdictUnsafe means the projection exceeds the budget.
	VerdictUnsafe Verdict = "unsafe"
)

// safeHeadroom is the fraction of the budget under which a plan is safe.
const safeHeadroom = 0.8

// Default planning knobs.
const (
	DefaultSafetyMultiplier   = 1.3
	DefaultSessionParallelism = 3
	DefaultTimeBudget         = 50 * time.Minute
	DefaultPageCap            = 5
	DefaultRecordsPerPage     = 20
)

// ErrNoSites is returned when planning is requested for an empty site set.
var ErrNoSites = errors.New("no sites to plan")

// CostModel holds the per-unit time constants used to estimate a site.
type CostModel struct {
	PerPageSeconds            float64 `yaml:"per_page_seconds" mapstructure:"per_page_seconds"`
	SiteOverheadSeconds       float64 `yaml:"site_overhead_seconds" mapstructure:"site_overhead_seconds"`
	GeocodeSecondsPerRecord   float64 `yaml:"geocode_seconds_per_record" mapstructure:"geocode_seconds_per_record"`
	SinkWriteSecondsPerRecord float64 `yaml:"sink_write_seconds_per_record" mapstructure:"sink_write_seconds_per_record"`
}

// DefaultCostModel returns the calibration used when none is configured.
func DefaultCostModel() CostModel {
	return CostModel{
		PerPageSeconds:            8,
		SiteOverheadSeconds:       10,
		GeocodeSecondsPerRecord:   1.2,
		SinkWriteSecondsPerRecord: 0.3,
	}
}

// SiteEstimate is the buffered time estimate for one site.
type SiteEstimate struct {
	SiteKey string
	// Pages is the number of result pages budgeted for the site.
	Pages int
	// ExpectedRecords is the projected record count across those pages.
	ExpectedRecords int
	// Seconds is the raw cost-model estimate.
	Seconds float64
	// BufferedSeconds is Seconds times the safety multiplier. Packing and
	// verdicts use this value.
	BufferedSeconds float64
}

// SessionSpec is one parallel session of the plan.
type SessionSpec struct {
	SiteKeys         []string
	EstimatedSeconds float64
}

// Plan is the computed partition of sites into sessions plus its safety
// verdict. Read-only once produced.
type Plan struct {
	Sessions       []SessionSpec
	Estimates      []SiteEstimate
	Verdict        Verdict
	Recommendation string
	// SessionBudget is the per-session ceiling: TimeBudget / Parallelism.
	SessionBudget time.Duration
	// ProjectedWallClock is the estimated total run time with sessions
	// executing Parallelism at a time.
	ProjectedWallClock time.Duration
	TimeBudget         time.Duration
	Parallelism        int
}

// SiteKeys returns every planned site key in session order.
func (p *Plan) SiteKeys() []string {
	keys := make([]string, 0, len(p.Estimates))
	for _, session := range p.Sessions {
		keys = append(keys, session.SiteKeys...)
	}
	return keys
}

// Planner turns a set of enabled adapters into a Plan.
type Planner struct {
	costs       CostModel
	safety      float64
	timeBudget  time.Duration
	parallelism int
	pageCap     int
	geocode     bool
}

// Options configures a Planner. Zero values fall back to the defaults.
type Options struct {
	Costs            CostModel
	SafetyMultiplier float64
	TimeBudget       time.Duration
	Parallelism      int
	PageCap          int
	Geocode          bool
}

// New creates a Planner.
func New(opts Options) *Planner {
	if opts.Costs == (CostModel{}) {
		opts.Costs = DefaultCostModel()
	}
	if opts.SafetyMultiplier <= 1 {
		opts.SafetyMultiplier = DefaultSafetyMultiplier
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = DefaultTimeBudget
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultSessionParallelism
	}
	if opts.PageCap <= 0 {
		opts.PageCap = DefaultPageCap
	}
	return &Planner{
		costs:       opts.Costs,
		safety:      opts.SafetyMultiplier,
		timeBudget:  opts.TimeBudget,
		parallelism: opts.Parallelism,
		pageCap:     opts.PageCap,
		geocode:     opts.Geocode,
	}
}

// Estimate computes the buffered time estimate for one adapter.
func (p *Planner) Estimate(adapter *sites.Adapter) SiteEstimate {
	pages := p.pageCap
	if adapter.Overrides.PageCap > 0 {
		pages = adapter.Overrides.PageCap
	}

	perPage := adapter.ExpectedRecordsPerPage
	if perPage <= 0 {
		perPage = DefaultRecordsPerPage
	}
	records := pages * perPage

	geocode := p.geocode
	if adapter.Overrides.Geocode != nil {
		geocode = *adapter.Overrides.Geocode
	}

	perRecord := p.costs.SinkWriteSecondsPerRecord
	if geocode {
		perRecord += p.costs.GeocodeSecondsPerRecord
	}

	seconds := float64(pages)*p.costs.PerPageSeconds +
		p.costs.SiteOverheadSeconds +
		float64(records)*perRecord

	return SiteEstimate{
		SiteKey:         adapter.Key,
		Pages:           pages,
		ExpectedRecords: records,
		Seconds:         seconds,
		BufferedSeconds: seconds * p.safety,
	}
}

// Plan packs the adapters into sessions. Sites are never dropped: a site
// whose buffered estimate alone exceeds the session budget still gets its
// own session and surfaces through the verdict instead.
func (p *Planner) Plan(adapters []*sites.Adapter) (*Plan, error) {
	if len(adapters) == 0 {
		return nil, ErrNoSites
	}

	estimates := make([]SiteEstimate, 0, len(adapters))
	for _, adapter := range adapters {
		estimates = append(estimates, p.Estimate(adapter))
	}

	sessionBudget := p.timeBudget.Seconds() / float64(p.parallelism)
	sessions := pack(estimates, sessionBudget)

	plan := &Plan{
		Sessions:      sessions,
		Estimates:     estimates,
		SessionBudget: time.Duration(sessionBudget * float64(time.Second)),
		TimeBudget:    p.timeBudget,
		Parallelism:   p.parallelism,
	}
	plan.ProjectedWallClock = projectWallClock(sessions, p.parallelism)
	plan.Verdict, plan.Recommendation = p.classify(plan)

	return plan, nil
}

// pack distributes the estimates across sessions using first-fit
// decreasing against the per-session budget.
func pack(estimates []SiteEstimate, sessionBudget float64) []SessionSpec {
	sorted := make([]SiteEstimate, len(estimates))
	copy(sorted, estimates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BufferedSeconds > sorted[j].BufferedSeconds
	})

	var sessions []SessionSpec
	for _, est := range sorted {
		placed := false
		for i := range sessions {
			if sessions[i].EstimatedSeconds+est.BufferedSeconds <= sessionBudget {
				sessions[i].SiteKeys = append(sessions[i].SiteKeys, est.SiteKey)
				sessions[i].EstimatedSeconds += est.BufferedSeconds
				placed = true
				break
			}
		}
		if !placed {
			sessions = append(sessions, SessionSpec{
				SiteKeys:         []string{est.SiteKey},
				EstimatedSeconds: est.BufferedSeconds,
			})
		}
	}
	return sessions
}

// projectWallClock estimates total run time with sessions executing
// parallelism at a time: sessions are taken in waves and each wave costs
// its longest session.
func projectWallClock(sessions []SessionSpec, parallelism int) time.Duration {
	var total float64
	for i := 0; i < len(sessions); i += parallelism {
		end := min(i+parallelism, len(sessions))
		var longest float64
		for _, s := range sessions[i:end] {
			if s.EstimatedSeconds > longest {
				longest = s.EstimatedSeconds
			}
		}
		total += longest
	}
	return time.Duration(total * float64(time.Second))
}

func (p *Planner) classify(plan *Plan) (Verdict, string) {
	budget := p.timeBudget.Seconds()
	projected := plan.ProjectedWallClock.Seconds()

	switch {
	case projected > budget:
		return VerdictUnsafe, fmt.Sprintf(
			"projected %s exceeds the %s budget; reduce the enabled-site set or lower the page cap",
			plan.ProjectedWallClock.Round(time.Second), p.timeBudget)
	case projected > budget*safeHeadroom:
		return VerdictWarning, fmt.Sprintf(
			"projected %s is within %d%% of the %s budget; consider a smaller batch",
			plan.ProjectedWallClock.Round(time.Second), int((1-safeHeadroom)*100), p.timeBudget)
	default:
		return VerdictSafe, ""
	}
}
