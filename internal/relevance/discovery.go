package relevance

import (
	"github.com/PuerkitoBio/goquery"
)

// CandidatePatterns is the fixed, ordered list of common listing-container
// shapes tried by discovery. Order is the tie-break of last resort: earlier
// patterns win ties on both relevant-count and average score.
var CandidatePatterns = []string{
	"div[class*='listing']",
	"div[class*='property']",
	"article[class*='card']",
	"div[class*='card']",
	"li[class*='listing']",
	"li[class*='result']",
	"div[class*='result']",
	"div[class*='item']",
	"ul li article",
}

// maxElementsPerPattern bounds how many elements are scored per candidate.
const maxElementsPerPattern = 30

// Discovery recovers a working card selector by scoring candidate
// patterns' elements with the relevance scorer. Invoked only after both
// the adapter's selector and the generic fallback matched nothing.
type Discovery struct {
	scorer   *Scorer
	patterns []string
}

// NewDiscovery creates a Discovery over the given scorer and the default
// candidate pattern list.
func NewDiscovery(scorer *Scorer) *Discovery {
	return &Discovery{scorer: scorer, patterns: CandidatePatterns}
}

// NewDiscoveryWithPatterns creates a Discovery with a custom pattern list.
func NewDiscoveryWithPatterns(scorer *Scorer, patterns []string) *Discovery {
	return &Discovery{scorer: scorer, patterns: patterns}
}

// candidateStats aggregates per-pattern scoring results.
type candidateStats struct {
	pattern       string
	relevantCount int
	averageScore  float64
}

// Discover scores each candidate pattern's elements and returns the
// winning selector. A pattern wins on highest relevant-element count,
// then highest average score. Discovery fails (ok=false) when no
// pattern has at least one element scoring minScore or better; the page
// then yields zero records, which is non-fatal.
//
// Discovered selectors are not written back into the site adapter; that
// is a separate maintenance action.
func (d *Discovery) Discover(doc *goquery.Document, pageURL string, minScore int) (selector string, ok bool) {
	var best *candidateStats

	for _, pattern := range d.patterns {
		stats := d.evaluate(doc, pattern, pageURL, minScore)
		if stats == nil || stats.relevantCount == 0 {
			continue
		}

		if best == nil ||
			stats.relevantCount > best.relevantCount ||
			(stats.relevantCount == best.relevantCount && stats.averageScore > best.averageScore) {
			best = stats
		}
	}

	if best == nil {
		return "", false
	}
	return best.pattern, true
}

// evaluate scores up to maxElementsPerPattern elements matching pattern.
func (d *Discovery) evaluate(doc *goquery.Document, pattern, pageURL string, minScore int) *candidateStats {
	elements := doc.Find(pattern)
	if elements.Length() == 0 {
		return nil
	}

	stats := candidateStats{pattern: pattern}
	total := 0
	scored := 0

	elements.EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= maxElementsPerPattern {
			return false
		}

		result := d.scorer.Score(sel, pageURL)
		total += result.Score
		scored++
		if result.Score >= minScore {
			stats.relevantCount++
		}
		return true
	})

	if scored > 0 {
		stats.averageScore = float64(total) / float64(scored)
	}
	return &stats
}
