// Package dedup merges normalized listings into the fingerprint-keyed
// aggregate store. Merges are idempotent and append-only: repeated
// sightings update an entry in place, price changes are recorded in an
// audit trail, and entries are never deleted by the pipeline.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/casaops/harvester/internal/listing"
)

// Outcome reports what a merge did.
type Outcome string

const (
	// OutcomeInserted means the fingerprint was seen for the first time.
	OutcomeInserted Outcome = "inserted"
	// OutcomeUpdated means an existing entry was refreshed.
	OutcomeUpdated Outcome = "updated"
)

// MaxPriceHistory caps the audit trail per entry; the oldest records are
// dropped first.
const MaxPriceHistory = 25

var (
	// ErrEmptyFingerprint is returned when a listing arrives without one.
	ErrEmptyFingerprint = errors.New("listing has empty fingerprint")
	// ErrNotFound is returned by lookups for unknown fingerprints.
	ErrNotFound = errors.New("entry not found")
)

// PriceChange is one audit record of a price movement.
type PriceChange struct {
	OldPrice  float64   `json:"old_price" db:"old_price"`
	NewPrice  float64   `json:"new_price" db:"new_price"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
	RunID     string    `json:"run_id" db:"run_id"`
}

// Entry is one aggregate-store record keyed by fingerprint.
type Entry struct {
	Fingerprint  string                    `json:"fingerprint"`
	Listing      listing.NormalizedListing `json:"listing"`
	FirstSeen    time.Time                 `json:"first_seen"`
	LastSeen     time.Time                 `json:"last_seen"`
	PriceHistory []PriceChange             `json:"price_history,omitempty"`
}

// Store is the aggregate-store merge contract. Implementations serialize
// merges internally so concurrent site workers can share one store.
type Store interface {
	// Merge inserts or updates the entry for the listing's fingerprint.
	Merge(ctx context.Context, l *listing.NormalizedListing, runID string) (Outcome, error)
	// Get returns the entry for a fingerprint, or ErrNotFound.
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	// Count returns the number of live entries.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is the in-process Store, guarded by a single merge lock.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Merge implements Store. Merging the same listing repeatedly yields one
// entry and at most one audit record for any given price value.
func (s *MemoryStore) Merge(_ context.Context, l *listing.NormalizedListing, runID string) (Outcome, error) {
	if l.Fingerprint == "" {
		return "", ErrEmptyFingerprint
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	entry, ok := s.entries[l.Fingerprint]
	if !ok {
		s.entries[l.Fingerprint] = &Entry{
			Fingerprint: l.Fingerprint,
			Listing:     *l,
			FirstSeen:   now,
			LastSeen:    now,
		}
		return OutcomeInserted, nil
	}

	if entry.Listing.Price != l.Price {
		entry.PriceHistory = append(entry.PriceHistory, PriceChange{
			OldPrice:  entry.Listing.Price,
			NewPrice:  l.Price,
			ChangedAt: now,
			RunID:     runID,
		})
		if len(entry.PriceHistory) > MaxPriceHistory {
			entry.PriceHistory = entry.PriceHistory[len(entry.PriceHistory)-MaxPriceHistory:]
		}
	}

	// FirstSeen survives every update.
	entry.Listing = *l
	entry.LastSeen = now
	return OutcomeUpdated, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}

	out := *entry
	out.PriceHistory = append([]PriceChange(nil), entry.PriceHistory...)
	return &out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
