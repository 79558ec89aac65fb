// Package listing defines the domain types shared across the harvest
// pipeline: raw scraped records, normalized listings, and fingerprints.
package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// RawRecord is one unnormalized scraped listing card plus provenance.
// Produced per page by an extractor and consumed immediately by the
// normalization pipeline; never persisted.
type RawRecord struct {
	// Fields holds the raw string fields keyed by whatever field names
	// the site adapter produced.
	Fields map[string]string

	// SourceURL is the URL the record was scraped from.
	SourceURL string

	// SiteKey identifies the site adapter that produced the record.
	SiteKey string

	// FetchedAt is when the page containing the record was fetched.
	FetchedAt time.Time
}

// Coordinates is a geographic point attached to a listing by enrichment.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NormalizedListing is the canonical listing schema. Immutable after
// creation; every instance carries a non-empty Fingerprint.
type NormalizedListing struct {
	Title        string       `json:"title" db:"title"`
	Price        float64      `json:"price" db:"price"`
	Currency     string       `json:"currency" db:"currency"`
	Area         string       `json:"area" db:"area"`
	District     string       `json:"district,omitempty" db:"district"`
	Region       string       `json:"region,omitempty" db:"region"`
	PropertyType string       `json:"property_type,omitempty" db:"property_type"`
	Bedrooms     int          `json:"bedrooms,omitempty" db:"bedrooms"`
	Bathrooms    int          `json:"bathrooms,omitempty" db:"bathrooms"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	MediaURLs    []string     `json:"media_urls,omitempty"`
	Description  string       `json:"description,omitempty" db:"description"`
	Contact      string       `json:"contact,omitempty" db:"contact"`
	QualityScore int          `json:"quality_score" db:"quality_score"`
	SourceURL    string       `json:"source_url" db:"source_url"`
	SiteKey      string       `json:"site_key" db:"site_key"`
	Fingerprint  string       `json:"fingerprint" db:"fingerprint"`
	FetchedAt    time.Time    `json:"fetched_at" db:"fetched_at"`
}

// Location returns the listing's location hierarchy joined from most to
// least specific, skipping empty levels.
func (l *NormalizedListing) Location() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Area, l.District, l.Region} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ComputeFingerprint returns the hex-encoded SHA-256 of the canonical
// identity fields (title, price, location, source URL). Two listings with
// equal fingerprints are the same real-world entity. The input fields are
// lowercased and trimmed so that repeated normalization of the same raw
// record always yields the same fingerprint.
func ComputeFingerprint(title string, price float64, location, sourceURL string) string {
	canonical := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(title)),
		strconv.FormatFloat(price, 'f', 2, 64),
		strings.ToLower(strings.TrimSpace(location)),
		strings.TrimSpace(sourceURL),
	}, "|")

	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:])
}
