// Package relevance scores DOM elements for listing-ness. The scorer is a
// pure function over six independently weighted signal groups; discovery
// uses it to recover a working card selector when configured ones stop
// matching.
package relevance

// DefaultThreshold is the minimum score for an element to count as a
// genuine listing card. Tunable per run; not baked into the scorer.
const DefaultThreshold = 30

// Empirically tuned signal weights. Negative values are penalties. These
// are a starting calibration; override via Weights when a deployment's
// sources score poorly.
const (
	DefaultDomainKeywordWeight   = 4
	DefaultDomainKeywordCap      = 12
	DefaultLocationKeywordWeight = 3
	DefaultLocationKeywordCap    = 9
	DefaultActionKeywordWeight   = 3
	DefaultActionKeywordCap      = 6
	DefaultPriceTokenWeight      = 8
	DefaultNumericCountWeight    = 2
	DefaultNumericCountCap       = 6
	DefaultFullStructureWeight   = 20
	DefaultPartialStructureWeight = 8
	DefaultNestingBonusWeight    = 4
	DefaultListingURLWeight      = 15
	DefaultCategoryURLPenalty    = -15
	DefaultPositiveClassWeight   = 6
	DefaultNegativeClassPenalty  = -10
	DefaultContentRegionWeight   = 5
	DefaultChromeRegionPenalty   = -12
	DefaultExclusionPhrasePenalty = -25
)

// Weights holds the per-signal-group weights used by the scorer. No single
// signal can force acceptance or rejection on its own; the groups sum.
type Weights struct {
	// Text pattern signals (group 1). Additive with small caps.
	DomainKeyword   int
	DomainKeywordCap int
	LocationKeyword int
	LocationKeywordCap int
	ActionKeyword   int
	ActionKeywordCap int
	PriceToken      int
	NumericCount    int
	NumericCountCap int

	// DOM structure signals (group 2).
	FullStructure    int
	PartialStructure int
	NestingBonus     int

	// URL shape signals (group 3).
	ListingURL  int
	CategoryURL int

	// Element attribute signals (group 4).
	PositiveClass int
	NegativeClass int

	// DOM position signals (group 5).
	ContentRegion int
	ChromeRegion  int

	// Exclusion phrase penalty (group 6).
	ExclusionPhrase int
}

// DefaultWeights returns the tuned default weights.
func DefaultWeights() Weights {
	return Weights{
		DomainKeyword:      DefaultDomainKeywordWeight,
		DomainKeywordCap:   DefaultDomainKeywordCap,
		LocationKeyword:    DefaultLocationKeywordWeight,
		LocationKeywordCap: DefaultLocationKeywordCap,
		ActionKeyword:      DefaultActionKeywordWeight,
		ActionKeywordCap:   DefaultActionKeywordCap,
		PriceToken:         DefaultPriceTokenWeight,
		NumericCount:       DefaultNumericCountWeight,
		NumericCountCap:    DefaultNumericCountCap,
		FullStructure:      DefaultFullStructureWeight,
		PartialStructure:   DefaultPartialStructureWeight,
		NestingBonus:       DefaultNestingBonusWeight,
		ListingURL:         DefaultListingURLWeight,
		CategoryURL:        DefaultCategoryURLPenalty,
		PositiveClass:      DefaultPositiveClassWeight,
		NegativeClass:      DefaultNegativeClassPenalty,
		ContentRegion:      DefaultContentRegionWeight,
		ChromeRegion:       DefaultChromeRegionPenalty,
		ExclusionPhrase:    DefaultExclusionPhrasePenalty,
	}
}
