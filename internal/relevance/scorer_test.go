package relevance_test

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaops/harvester/internal/relevance"
)

const pageURL = "https://homes.example.com/bangkok/for-sale"

// propertyCardHTML is a synthetic genuine listing card: image, title,
// price and link together, positive class, inside main content, detail URL.
const propertyCardHTML = `
<html><body><main class="search-results">
<div class="listing-card" id="card-1">
  <img src="/img/villa.jpg" alt="villa">
  <h3 class="title">Modern 3 Bedroom Villa with Pool</h3>
  <span class="price">$450,000</span>
  <p>3 bed 2 bath villa for sale near the beach, 250 sqm</p>
  <a href="/property/la-vista-villa-48217/">Details</a>
</div>
</main></body></html>`

// navigationHTML is a synthetic navigation element: negative class, in the
// footer, category URL, exclusion phrase.
const navigationHTML = `
<html><body><footer class="site-footer">
<div class="footer-nav-links">
  <a href="/search?page=2">View all listings</a>
</div>
</footer></body></html>`

func selectionFrom(t *testing.T, html, selector string) *goquery.Selection {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	sel := doc.Find(selector)
	require.Positive(t, sel.Length(), "fixture selector %q matched nothing", selector)
	return sel.First()
}

func TestScore_PropertyCardBeatsNavigation(t *testing.T) {
	t.Parallel()

	scorer := relevance.NewDefaultScorer()

	card := scorer.Score(selectionFrom(t, propertyCardHTML, "div.listing-card"), pageURL)
	nav := scorer.Score(selectionFrom(t, navigationHTML, "div.footer-nav-links"), pageURL)

	assert.Greater(t, card.Score, nav.Score)
	assert.True(t, card.IsRelevant)
	assert.False(t, nav.IsRelevant)
}

func TestScore_PropertyCardSignalBreakdown(t *testing.T) {
	t.Parallel()

	scorer := relevance.NewDefaultScorer()
	result := scorer.Score(selectionFrom(t, propertyCardHTML, "div.listing-card"), pageURL)

	assert.Positive(t, result.Signals[relevance.SignalText])
	assert.Equal(t, relevance.DefaultFullStructureWeight+relevance.DefaultNestingBonusWeight,
		result.Signals[relevance.SignalStructure])
	assert.Equal(t, relevance.DefaultListingURLWeight, result.Signals[relevance.SignalURL])
	assert.Equal(t, relevance.DefaultPositiveClassWeight, result.Signals[relevance.SignalAttribute])
	assert.Equal(t, relevance.DefaultContentRegionWeight, result.Signals[relevance.SignalPosition])
	assert.Zero(t, result.Signals[relevance.SignalExclusion])
}

func TestScore_NavigationSignalBreakdown(t *testing.T) {
	t.Parallel()

	scorer := relevance.NewDefaultScorer()
	result := scorer.Score(selectionFrom(t, navigationHTML, "div.footer-nav-links"), pageURL)

	assert.Equal(t, relevance.DefaultCategoryURLPenalty, result.Signals[relevance.SignalURL])
	assert.Equal(t, relevance.DefaultNegativeClassPenalty, result.Signals[relevance.SignalAttribute])
	assert.Equal(t, relevance.DefaultChromeRegionPenalty, result.Signals[relevance.SignalPosition])
	assert.Equal(t, relevance.DefaultExclusionPhrasePenalty, result.Signals[relevance.SignalExclusion])
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	scorer := relevance.NewDefaultScorer()
	sel := selectionFrom(t, propertyCardHTML, "div.listing-card")

	first := scorer.Score(sel, pageURL)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scorer.Score(sel, pageURL))
	}
}

func TestScore_TextSignalsAreCapped(t *testing.T) {
	t.Parallel()

	// A wall of domain keywords must not run the text score away.
	spam := "<html><body><div id='spam'>" +
		strings.Repeat("bedroom bathroom villa condo apartment house land pool ", 40) +
		"</div></body></html>"

	scorer := relevance.NewDefaultScorer()
	result := scorer.Score(selectionFrom(t, spam, "#spam"), pageURL)

	maxText := relevance.DefaultDomainKeywordCap +
		relevance.DefaultLocationKeywordCap +
		relevance.DefaultActionKeywordCap +
		relevance.DefaultPriceTokenWeight +
		relevance.DefaultNumericCountCap
	assert.LessOrEqual(t, result.Signals[relevance.SignalText], maxText)
}

func TestScore_NoSingleSignalForcesAcceptance(t *testing.T) {
	t.Parallel()

	// Partial structure (image+title+link) without any supporting
	// signals stays below the default threshold.
	bare := `<html><body><div id="bare">
	  <img src="x.jpg"><h3 class="title">Untitled</h3><a href="/x">x</a>
	</div></body></html>`

	scorer := relevance.NewDefaultScorer()
	result := scorer.Score(selectionFrom(t, bare, "#bare"), pageURL)

	assert.False(t, result.IsRelevant, "structure-only element scored %d", result.Score)
}

func TestScore_ThresholdIsTunable(t *testing.T) {
	t.Parallel()

	strict := relevance.NewScorer(relevance.DefaultWeights(), 1000)
	result := strict.Score(selectionFrom(t, propertyCardHTML, "div.listing-card"), pageURL)

	assert.False(t, result.IsRelevant)
	assert.Equal(t, 1000, strict.Threshold())
}
