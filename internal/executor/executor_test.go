package executor_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaops/harvester/internal/executor"
	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/planner"
	"github.com/casaops/harvester/internal/report"
)

// planOf builds a plan with one session per key group. SessionBudget is
// generous unless a test overrides it.
func planOf(groups ...[]string) *planner.Plan {
	plan := &planner.Plan{
		SessionBudget: time.Minute,
		Parallelism:   executor.DefaultSessionParallelism,
	}
	for _, keys := range groups {
		plan.Sessions = append(plan.Sessions, planner.SessionSpec{SiteKeys: keys})
		for _, key := range keys {
			plan.Estimates = append(plan.Estimates, planner.SiteEstimate{SiteKey: key})
		}
	}
	return plan
}

func okFn(_ context.Context, key string) *report.SiteReport {
	return &report.SiteReport{SiteKey: key, Accepted: 1}
}

func TestRun_EverySiteReported(t *testing.T) {
	t.Parallel()

	exec := executor.New(executor.Options{}, logger.NewNoOp())
	plan := planOf([]string{"a", "b"}, []string{"c"}, []string{"d", "e", "f"})

	results := exec.Run(context.Background(), plan, okFn)

	require.Len(t, results, 6)
	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		require.Contains(t, results, key)
		assert.Equal(t, key, results[key].SiteKey)
		assert.Equal(t, 1, results[key].Accepted)
	}
}

func TestRun_PanicIsolatedToOneSite(t *testing.T) {
	t.Parallel()

	exec := executor.New(executor.Options{}, logger.NewNoOp())
	plan := planOf([]string{"healthy", "broken", "another"})

	results := exec.Run(context.Background(), plan, func(_ context.Context, key string) *report.SiteReport {
		if key == "broken" {
			panic("selector engine exploded")
		}
		return &report.SiteReport{SiteKey: key, Accepted: 2}
	})

	require.Len(t, results, 3)
	assert.Equal(t, 2, results["healthy"].Accepted)
	assert.Equal(t, 2, results["another"].Accepted)
	assert.Zero(t, results["broken"].Accepted)
	assert.Contains(t, results["broken"].FailureReason, "panic")
	assert.Contains(t, results["broken"].FailureReason, "selector engine exploded")
}

func TestRun_NilReportReplacedWithZeroResult(t *testing.T) {
	t.Parallel()

	exec := executor.New(executor.Options{}, logger.NewNoOp())
	plan := planOf([]string{"quiet"})

	results := exec.Run(context.Background(), plan, func(context.Context, string) *report.SiteReport {
		return nil
	})

	require.Contains(t, results, "quiet")
	assert.Equal(t, "quiet", results["quiet"].SiteKey)
}

func TestRun_SiteConcurrencyBounded(t *testing.T) {
	t.Parallel()

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("site-%02d", i)
	}
	plan := planOf(keys)

	override := 3
	exec := executor.New(executor.Options{WorkerOverride: override}, logger.NewNoOp())

	var current, peak atomic.Int32
	var mu sync.Mutex

	exec.Run(context.Background(), plan, func(_ context.Context, key string) *report.SiteReport {
		n := current.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return &report.SiteReport{SiteKey: key}
	})

	assert.LessOrEqual(t, peak.Load(), int32(override))
}

func TestRun_SoftDeadlineSkipsUnstartedSites(t *testing.T) {
	t.Parallel()

	plan := planOf([]string{"first", "second", "third"})
	plan.SessionBudget = 30 * time.Millisecond

	// One worker so sites run strictly in order; the first outlives the
	// soft deadline, so the rest must be skipped while the first still
	// returns its partial result.
	exec := executor.New(executor.Options{WorkerOverride: 1}, logger.NewNoOp())

	var started atomic.Int32
	results := exec.Run(context.Background(), plan, func(_ context.Context, key string) *report.SiteReport {
		started.Add(1)
		time.Sleep(80 * time.Millisecond)
		return &report.SiteReport{SiteKey: key, Accepted: 4}
	})

	require.Len(t, results, 3)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, 4, results["first"].Accepted, "in-flight extraction finishes and keeps its results")
	for _, key := range []string{"second", "third"} {
		assert.Contains(t, results[key].FailureReason, "soft deadline")
		assert.Zero(t, results[key].Accepted)
	}
}

func TestSiteWorkers_Clamped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, executor.MinSiteWorkers, executor.SiteWorkers(1))
	assert.Equal(t, 3, executor.SiteWorkers(4))
	assert.Equal(t, executor.MaxSiteWorkers, executor.SiteWorkers(40))
}
