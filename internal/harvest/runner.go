// Package harvest wires the full pipeline: site adapters are loaded and
// validated, the planner splits them into sessions, the executor walks
// each site through extraction, normalization, optional geocoding and
// the aggregate merge, and the run ends with a report regardless of how
// many sites failed.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casaops/harvester/internal/config"
	"github.com/casaops/harvester/internal/dedup"
	"github.com/casaops/harvester/internal/executor"
	"github.com/casaops/harvester/internal/extract"
	"github.com/casaops/harvester/internal/fetch"
	"github.com/casaops/harvester/internal/geocode"
	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/metrics"
	"github.com/casaops/harvester/internal/normalize"
	"github.com/casaops/harvester/internal/planner"
	"github.com/casaops/harvester/internal/relevance"
	"github.com/casaops/harvester/internal/report"
	"github.com/casaops/harvester/internal/sites"
)

// Rejection reason keys used in per-site reports.
const (
	reasonMissingRequired  = "missing_required_field"
	reasonUnparseablePrice = "unparseable_price"
	reasonBelowThreshold   = "below_quality_threshold"
	reasonOther            = "other"
)

// Runner executes harvest runs.
type Runner struct {
	cfg      *config.RunConfig
	adapters map[string]*sites.Adapter
	excluded []sites.Excluded
	registry *extract.Registry
	store    dedup.Store
	enricher *geocode.Enricher
	metrics  *metrics.Metrics
	log      logger.Interface
}

// Options carries the injectable collaborators. Store is required;
// Enricher and Metrics may be nil.
type Options struct {
	Store    dedup.Store
	Enricher *geocode.Enricher
	Metrics  *metrics.Metrics
	// Renderer overrides the fetch engine's browser fallback; nil uses
	// the config's rendering settings.
	Renderer fetch.Renderer
}

// NewRunner loads and validates the site adapters and assembles the
// pipeline. Invalid adapters are excluded with a reason, not fatal.
func NewRunner(cfg *config.RunConfig, opts Options, log logger.Interface) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("aggregate store is required")
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	log = log.WithComponent("harvest")

	loaded, excluded, err := sites.NewLoader(cfg.SitesFile).Load()
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	for _, ex := range excluded {
		log.Warn("site excluded", "site", ex.Key, "reason", ex.Reason)
	}

	adapters := make(map[string]*sites.Adapter, len(loaded))
	for i := range loaded {
		adapter := &loaded[i]
		if !cfg.SiteEnabled(adapter.Key) {
			continue
		}
		adapters[adapter.Key] = adapter
	}

	renderer := opts.Renderer
	if renderer == nil && cfg.RenderingEnabled {
		renderer = fetch.NewChromeRenderer(cfg.ChromePath, cfg.UserAgent)
	}

	var snapshots *fetch.Snapshotter
	if cfg.SnapshotDir != "" {
		snapshots = fetch.NewSnapshotter(cfg.SnapshotDir, log)
	}

	engine := fetch.NewEngine(fetch.Config{
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		MaxAttempts:    cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, renderer, snapshots, log)

	scorer := relevance.NewDefaultScorer()
	generic := extract.NewGeneric(engine, scorer, relevance.NewDiscovery(scorer),
		opts.Metrics, cfg.PageCap, log)

	registry := extract.NewRegistry()
	registry.Register(sites.ParserGeneric, generic)
	registry.Register(sites.ParserCustom, generic)

	// Resolve every adapter's extractor now so a bad parser kind fails
	// before the run starts, not mid-extraction.
	for _, adapter := range adapters {
		if _, err := registry.Resolve(adapter.Parser); err != nil {
			return nil, fmt.Errorf("site %s: %w", adapter.Key, err)
		}
	}

	return &Runner{
		cfg:      cfg,
		adapters: adapters,
		excluded: excluded,
		registry: registry,
		store:    opts.Store,
		enricher: opts.Enricher,
		metrics:  opts.Metrics,
		log:      log,
	}, nil
}

// Adapters returns the enabled, validated adapters keyed by site.
func (r *Runner) Adapters() map[string]*sites.Adapter {
	return r.adapters
}

// Excluded returns the adapters dropped at load time with their reasons.
func (r *Runner) Excluded() []sites.Excluded {
	return r.excluded
}

// Plan computes the batch plan for the enabled sites.
func (r *Runner) Plan() (*planner.Plan, error) {
	list := make([]*sites.Adapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		list = append(list, adapter)
	}

	return planner.New(planner.Options{
		Costs:            r.cfg.Costs,
		SafetyMultiplier: r.cfg.SafetyMultiplier,
		TimeBudget:       r.cfg.TimeBudget,
		Parallelism:      r.cfg.SessionParallelism,
		PageCap:          r.cfg.PageCap,
		Geocode:          r.cfg.Geocode,
	}).Plan(list)
}

// Run executes the whole pipeline and always returns a report; per-site
// failures are recorded in it, never escalated.
func (r *Runner) Run(ctx context.Context) (*report.RunReport, error) {
	started := time.Now()
	runID := uuid.New().String()
	log := r.log.With("run_id", runID)

	plan, err := r.Plan()
	if err != nil {
		return nil, err
	}

	log.Info("run planned",
		"sites", len(r.adapters),
		"sessions", len(plan.Sessions),
		"verdict", string(plan.Verdict),
		"projected", plan.ProjectedWallClock.Round(time.Second))
	if plan.Recommendation != "" {
		log.Warn("plan recommendation", "recommendation", plan.Recommendation)
	}

	exec := executor.New(executor.Options{
		SessionParallelism: r.cfg.SessionParallelism,
		WorkerOverride:     r.cfg.WorkerOverride,
	}, log)

	siteReports := exec.Run(ctx, plan, func(ctx context.Context, siteKey string) *report.SiteReport {
		return r.harvestSite(ctx, siteKey, runID)
	})

	if r.metrics != nil && r.enricher != nil {
		r.metrics.RecordGeocodeCalls(r.enricher.Calls())
	}

	run := &report.RunReport{
		RunID:          runID,
		StartedAt:      started,
		Verdict:        plan.Verdict,
		Recommendation: plan.Recommendation,
		Sessions:       len(plan.Sessions),
		Sites:          siteReports,
		Elapsed:        time.Since(started),
	}

	log.Info("run finished",
		"accepted", run.TotalAccepted(),
		"failed_sites", len(run.FailedSites()),
		"elapsed", run.Elapsed.Round(time.Millisecond))

	return run, nil
}

// harvestSite runs extraction, normalization, enrichment and merging for
// one site and builds its report.
func (r *Runner) harvestSite(ctx context.Context, siteKey, runID string) *report.SiteReport {
	started := time.Now()
	log := r.log.WithSite(siteKey)
	siteReport := &report.SiteReport{SiteKey: siteKey}

	adapter, ok := r.adapters[siteKey]
	if !ok {
		siteReport.FailureReason = "unknown site key"
		return siteReport
	}

	extractor, err := r.registry.Resolve(adapter.Parser)
	if err != nil {
		siteReport.FailureReason = err.Error()
		return siteReport
	}

	records, stats, err := extractor.Extract(ctx, adapter)
	if stats != nil {
		siteReport.PagesFetched = stats.PagesFetched
		siteReport.RenderedPages = stats.RenderedPages
		siteReport.DiscoveryAttempted = stats.DiscoveryAttempted
		siteReport.DiscoveredSelector = stats.DiscoveredSelector
	}
	if err != nil {
		log.WithError(err).Error("site extraction failed")
		siteReport.FailureReason = err.Error()
		siteReport.Elapsed = time.Since(started)
		return siteReport
	}

	siteReport.RawCount = len(records)

	pipeline := normalize.NewPipeline(r.qualityThreshold(adapter))
	geocodeOn := r.cfg.Geocode
	if adapter.Overrides.Geocode != nil {
		geocodeOn = *adapter.Overrides.Geocode
	}

	var qualitySum int
	for _, raw := range records {
		l, normErr := pipeline.Normalize(raw)
		if normErr != nil {
			siteReport.AddRejection(rejectionReason(normErr))
			if r.metrics != nil {
				r.metrics.RecordRejected()
			}
			continue
		}

		if geocodeOn && l.Coordinates == nil {
			l.Coordinates = r.enricher.Lookup(ctx, l.Location())
		}

		outcome, mergeErr := r.store.Merge(ctx, l, runID)
		if mergeErr != nil {
			log.WithError(mergeErr).Error("merge failed", "fingerprint", l.Fingerprint)
			siteReport.AddRejection(reasonOther)
			continue
		}

		siteReport.Accepted++
		qualitySum += l.QualityScore
		switch outcome {
		case dedup.OutcomeInserted:
			siteReport.Inserted++
		case dedup.OutcomeUpdated:
			siteReport.Updated++
		}
		if r.metrics != nil {
			r.metrics.RecordAccepted()
		}
	}

	if siteReport.Accepted > 0 {
		siteReport.AvgQuality = float64(qualitySum) / float64(siteReport.Accepted)
	}
	siteReport.Elapsed = time.Since(started)

	log.Info("site harvested",
		"raw", siteReport.RawCount,
		"accepted", siteReport.Accepted,
		"rejected", siteReport.RejectedTotal(),
		"pages", siteReport.PagesFetched)

	return siteReport
}

// qualityThreshold resolves the per-site minimum quality score.
func (r *Runner) qualityThreshold(adapter *sites.Adapter) int {
	if adapter.Overrides.QualityThreshold > 0 {
		return adapter.Overrides.QualityThreshold
	}
	return r.cfg.QualityThreshold
}

// rejectionReason buckets a normalization error for the report.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, normalize.ErrMissingRequired):
		return reasonMissingRequired
	case errors.Is(err, normalize.ErrUnparseablePrice):
		return reasonUnparseablePrice
	case errors.Is(err, normalize.ErrBelowThreshold):
		return reasonBelowThreshold
	default:
		return reasonOther
	}
}
