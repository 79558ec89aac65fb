// Package extract turns a site adapter into a stream of raw records:
// pages are walked through the fetch engine, cards are located through a
// fallback chain (configured selector, generic fallback, pattern
// discovery), filtered by the relevance scorer, and read field by field.
package extract

import (
	"context"
	"fmt"

	"github.com/casaops/harvester/internal/listing"
	"github.com/casaops/harvester/internal/sites"
)

// Stats describes how one site's extraction went.
type Stats struct {
	// PagesFetched counts retrieved result pages.
	PagesFetched int
	// RenderedPages counts pages produced by the browser fallback.
	RenderedPages int
	// FailedPages counts pages abandoned after retries.
	FailedPages int

	// CardsSeen counts elements matched by the active card selector.
	CardsSeen int
	// CardsFiltered counts elements the relevance scorer rejected.
	CardsFiltered int

	// DiscoveryAttempted is set when the fallback chain reached pattern
	// discovery, whether or not it found anything.
	DiscoveryAttempted bool
	// DiscoveredSelector is the pattern discovery settled on, if any.
	DiscoveredSelector string
}

// Extractor produces the raw records for one site. Records already
// extracted are returned even when the walk ends in an error.
type Extractor interface {
	Extract(ctx context.Context, adapter *sites.Adapter) ([]*listing.RawRecord, *Stats, error)
}

// Registry maps parser kinds to extractor implementations. Adapters are
// resolved against it once at load time.
type Registry struct {
	extractors map[sites.ParserKind]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[sites.ParserKind]Extractor)}
}

// Register binds a parser kind to an extractor.
func (r *Registry) Register(kind sites.ParserKind, e Extractor) {
	r.extractors[kind] = e
}

// Resolve returns the extractor for a parser kind.
func (r *Registry) Resolve(kind sites.ParserKind) (Extractor, error) {
	e, ok := r.extractors[kind]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for parser kind %q", kind)
	}
	return e, nil
}
