// Package executor runs per-site extraction across a batch plan with two
// nested levels of bounded parallelism: sessions run concurrently up to a
// small cap, and sites within a session run concurrently up to a cap
// derived from the session's size. Every site runs in isolation; a panic
// or error in one site never aborts its siblings.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/planner"
	"github.com/casaops/harvester/internal/report"
)

// ExtractFn performs the full per-site pipeline (extract, normalize,
// merge) and returns the site's report. It must be safe to call from
// multiple goroutines for different sites.
type ExtractFn func(ctx context.Context, siteKey string) *report.SiteReport

// Site-level parallelism bounds. The cap grows slowly with session size
// and never exceeds MaxSiteWorkers.
const (
	MinSiteWorkers = 2
	MaxSiteWorkers = 6
)

// DefaultSessionParallelism bounds how many sessions run at once.
const DefaultSessionParallelism = planner.DefaultSessionParallelism

// SiteWorkers computes the per-session worker count for n sites.
func SiteWorkers(n int) int {
	workers := MinSiteWorkers + n/4
	if workers > MaxSiteWorkers {
		workers = MaxSiteWorkers
	}
	if workers < MinSiteWorkers {
		workers = MinSiteWorkers
	}
	return workers
}

// Executor runs a batch plan.
type Executor struct {
	sessionParallelism int
	workerOverride     int
	log                logger.Interface
}

// Options configures an Executor.
type Options struct {
	// SessionParallelism bounds concurrent sessions; zero means the default.
	SessionParallelism int
	// WorkerOverride, when positive, replaces the derived per-session site
	// worker count.
	WorkerOverride int
}

// New creates an Executor.
func New(opts Options, log logger.Interface) *Executor {
	if opts.SessionParallelism <= 0 {
		opts.SessionParallelism = DefaultSessionParallelism
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Executor{
		sessionParallelism: opts.SessionParallelism,
		workerOverride:     opts.WorkerOverride,
		log:                log.WithComponent("executor"),
	}
}

// Run executes every session of the plan and returns one report per
// planned site. It always returns a complete map: sites that panicked,
// errored, or were skipped at the soft deadline appear with a failure
// reason and zero results.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan, fn ExtractFn) map[string]*report.SiteReport {
	results := make(map[string]*report.SiteReport, len(plan.Estimates))
	var mu sync.Mutex

	sem := make(chan struct{}, e.sessionParallelism)
	var wg sync.WaitGroup

	for i, session := range plan.Sessions {
		wg.Add(1)
		go func(idx int, session planner.SessionSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			e.runSession(ctx, idx, session, plan.SessionBudget, fn, &mu, results)
		}(i, session)
	}

	wg.Wait()
	return results
}

// runSession dispatches the session's sites under the per-session worker
// bound. The soft deadline stops new dispatches; in-flight extractions
// finish naturally so their partial results survive.
func (e *Executor) runSession(
	ctx context.Context,
	idx int,
	session planner.SessionSpec,
	budget time.Duration,
	fn ExtractFn,
	mu *sync.Mutex,
	results map[string]*report.SiteReport,
) {
	log := e.log.With("session", idx, "sites", len(session.SiteKeys))
	log.Info("session started")

	softDeadline := time.Now().Add(budget)

	workers := SiteWorkers(len(session.SiteKeys))
	if e.workerOverride > 0 {
		workers = e.workerOverride
	}

	siteSem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, key := range session.SiteKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			siteSem <- struct{}{}
			defer func() { <-siteSem }()

			// The deadline gate sits after the worker slot: a site whose
			// turn comes up past the soft deadline is skipped, while a
			// site already running finishes naturally and keeps its
			// partial results.
			var siteReport *report.SiteReport
			if ctx.Err() != nil || (budget > 0 && time.Now().After(softDeadline)) {
				log.WithSite(key).Warn("session soft deadline reached, skipping site")
				siteReport = &report.SiteReport{
					SiteKey:       key,
					FailureReason: "session soft deadline reached before start",
				}
			} else {
				siteReport = e.extractSite(ctx, key, fn)
			}

			mu.Lock()
			results[key] = siteReport
			mu.Unlock()
		}(key)
	}

	wg.Wait()
	log.Info("session finished")
}

// extractSite runs one site's extraction with panic isolation.
func (e *Executor) extractSite(ctx context.Context, key string, fn ExtractFn) (siteReport *report.SiteReport) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.log.WithSite(key).Error("site extraction panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			siteReport = &report.SiteReport{
				SiteKey:       key,
				FailureReason: fmt.Sprintf("panic: %v", r),
				Elapsed:       time.Since(started),
			}
		}
	}()

	siteReport = fn(ctx, key)
	if siteReport == nil {
		siteReport = &report.SiteReport{SiteKey: key}
	}
	siteReport.SiteKey = key
	if siteReport.Elapsed == 0 {
		siteReport.Elapsed = time.Since(started)
	}
	return siteReport
}
