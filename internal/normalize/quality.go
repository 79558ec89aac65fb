package normalize

import "github.com/casaops/harvester/internal/listing"

// Quality score weights. Three completeness tiers: required fields carry
// the majority of the 0-100 scale, recommended fields partial credit,
// bonus fields a small remainder. A listing missing any required field is
// rejected before scoring.
const (
	// Required tier: title, price, location, source URL.
	RequiredFieldScore = 15
	RequiredTier       = 4 * RequiredFieldScore // 60

	// Recommended tier.
	BedroomsScore     = 8
	BathroomsScore    = 8
	PropertyTypeScore = 7
	MediaScore        = 7

	// Bonus tier.
	CoordinatesScore = 4
	DescriptionScore = 3
	ContactScore     = 3

	// MaxQualityScore is the ceiling of the scale.
	MaxQualityScore = 100

	// DefaultMinQuality accepts a listing that has exactly the required
	// fields and nothing else.
	DefaultMinQuality = RequiredTier
)

// scoreQuality computes the completeness-based quality score for a
// normalized listing. The caller guarantees the required fields are
// present, so the required tier is always earned in full.
func scoreQuality(l *listing.NormalizedListing) int {
	score := RequiredTier

	if l.Bedrooms > 0 {
		score += BedroomsScore
	}
	if l.Bathrooms > 0 {
		score += BathroomsScore
	}
	if l.PropertyType != "" {
		score += PropertyTypeScore
	}
	if len(l.MediaURLs) > 0 {
		score += MediaScore
	}

	if l.Coordinates != nil {
		score += CoordinatesScore
	}
	if l.Description != "" {
		score += DescriptionScore
	}
	if l.Contact != "" {
		score += ContactScore
	}

	if score > MaxQualityScore {
		score = MaxQualityScore
	}
	return score
}
