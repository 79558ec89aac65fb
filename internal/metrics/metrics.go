// Package metrics provides run-wide counters shared by the harvest
// workers. All counters are guarded by a single mutex; contention is
// negligible at the pipeline's update rate.
package metrics

import (
	"sync"
	"time"
)

// Metrics holds the counters for one harvest run.
type Metrics struct {
	mu sync.Mutex

	// StartTime is when the run began.
	StartTime time.Time

	// PagesFetched counts result pages retrieved over HTTP.
	PagesFetched int64
	// PagesRendered counts pages that needed the browser fallback.
	PagesRendered int64
	// FailedPages counts pages abandoned after retries.
	FailedPages int64

	// DiscoveryAttempts counts selector-discovery invocations.
	DiscoveryAttempts int64
	// DiscoveryHits counts discoveries that produced a selector.
	DiscoveryHits int64

	// RawRecords counts extracted records before normalization.
	RawRecords int64
	// AcceptedListings counts listings merged into the store.
	AcceptedListings int64
	// RejectedRecords counts normalization rejections.
	RejectedRecords int64

	// GeocodeCalls counts outbound provider calls.
	GeocodeCalls int64
}

// New creates metrics for a run starting now.
func New() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// Snapshot is a copy of the counters safe to read without locking.
type Snapshot struct {
	StartTime         time.Time
	Elapsed           time.Duration
	PagesFetched      int64
	PagesRendered     int64
	FailedPages       int64
	DiscoveryAttempts int64
	DiscoveryHits     int64
	RawRecords        int64
	AcceptedListings  int64
	RejectedRecords   int64
	GeocodeCalls      int64
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		StartTime:         m.StartTime,
		Elapsed:           time.Since(m.StartTime),
		PagesFetched:      m.PagesFetched,
		PagesRendered:     m.PagesRendered,
		FailedPages:       m.FailedPages,
		DiscoveryAttempts: m.DiscoveryAttempts,
		DiscoveryHits:     m.DiscoveryHits,
		RawRecords:        m.RawRecords,
		AcceptedListings:  m.AcceptedListings,
		RejectedRecords:   m.RejectedRecords,
		GeocodeCalls:      m.GeocodeCalls,
	}
}

// RecordPage counts one fetched page and whether it was rendered.
func (m *Metrics) RecordPage(rendered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PagesFetched++
	if rendered {
		m.PagesRendered++
	}
}

// RecordFailedPage counts one page abandoned after retries.
func (m *Metrics) RecordFailedPage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedPages++
}

// RecordDiscovery counts one discovery attempt and whether it found a
// selector.
func (m *Metrics) RecordDiscovery(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DiscoveryAttempts++
	if hit {
		m.DiscoveryHits++
	}
}

// RecordRawRecords counts extracted records.
func (m *Metrics) RecordRawRecords(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RawRecords += int64(n)
}

// RecordAccepted counts one merged listing.
func (m *Metrics) RecordAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcceptedListings++
}

// RecordRejected counts one normalization rejection.
func (m *Metrics) RecordRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RejectedRecords++
}

// RecordGeocodeCalls sets the provider call total for the run.
func (m *Metrics) RecordGeocodeCalls(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GeocodeCalls = int64(n)
}
