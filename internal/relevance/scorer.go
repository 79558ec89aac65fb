package relevance

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result is the pure output of scoring one element. Never persisted.
type Result struct {
	// Score is the summed signal score.
	Score int
	// IsRelevant is true when Score clears the scorer's threshold.
	IsRelevant bool
	// Signals maps signal group names to their contribution.
	Signals map[string]int
}

// Signal group names used as keys in Result.Signals.
const (
	SignalText      = "text"
	SignalStructure = "structure"
	SignalURL       = "url"
	SignalAttribute = "attribute"
	SignalPosition  = "position"
	SignalExclusion = "exclusion"
)

// domainKeywords are property-domain terms found in listing card text.
var domainKeywords = []string{
	"bedroom", "bathroom", "bed", "bath", "villa", "condo", "apartment",
	"house", "townhouse", "studio", "land", "pool", "sqm", "sq.ft", "sq ft",
}

// locationKeywords are terms suggesting a location line in a card.
var locationKeywords = []string{
	"district", "province", "city", "beach", "downtown", "near", "soi",
	"village", "estate",
}

// actionKeywords are transaction terms common on listing cards.
var actionKeywords = []string{
	"for sale", "for rent", "for lease", "sale", "rent",
}

// exclusionPhrases mark navigation and category chrome, not listings.
var exclusionPhrases = []string{
	"view all", "browse", "see more", "show more", "load more",
	"all listings", "more results",
}

// positiveClasses hint that an element is a listing card.
var positiveClasses = []string{"listing", "card", "item", "property", "result"}

// negativeClasses hint at navigation or page chrome.
var negativeClasses = []string{
	"nav", "menu", "footer", "header", "breadcrumb", "sidebar",
	"pagination", "banner", "advert", "ad-",
}

var (
	// priceTokenPattern matches currency-prefixed or currency-suffixed amounts.
	priceTokenPattern = regexp.MustCompile(`(?i)([$€£฿₹]\s?\d[\d,.]*)|(\d[\d,.]*\s?(thb|usd|eur|gbp|baht|million|[km]\b))`)
	// numericCountPattern matches bed/bath style counts.
	numericCountPattern = regexp.MustCompile(`(?i)\b\d+\s*(bed|bath|br|ba|room)s?\b`)
	// numericIDPattern matches a long numeric id segment in a URL path.
	numericIDPattern = regexp.MustCompile(`/\d{4,}(/|$|\.|-)`)
)

// listingURLKeywords mark detail-page URL paths.
var listingURLKeywords = []string{
	"property", "listing", "rooms", "homes", "condo", "villa", "house", "detail", "ad",
}

// categoryURLSegments mark index/category URL paths.
var categoryURLSegments = []string{
	"search", "category", "tag", "page", "agents", "projects", "browse",
}

// minListingPathDepth is the path depth considered "deep" for detail URLs.
const minListingPathDepth = 3

// Child-count range rewarded by the nesting bonus. Real cards carry a
// handful of children; bare anchors and mega-containers do not.
const (
	minCardChildren = 2
	maxCardChildren = 12
)

// Scorer scores DOM elements for listing relevance. Pure and
// deterministic: equal input yields equal output, no side effects.
type Scorer struct {
	weights   Weights
	threshold int
}

// NewScorer creates a scorer with the given weights and threshold.
func NewScorer(weights Weights, threshold int) *Scorer {
	return &Scorer{weights: weights, threshold: threshold}
}

// NewDefaultScorer creates a scorer with default weights and threshold.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights(), DefaultThreshold)
}

// Threshold returns the relevance threshold in use.
func (s *Scorer) Threshold() int {
	return s.threshold
}

// Score evaluates one element against all six signal groups. pageURL is
// the URL of the page the element came from; it anchors relative hrefs.
func (s *Scorer) Score(sel *goquery.Selection, pageURL string) Result {
	text := strings.ToLower(strings.TrimSpace(sel.Text()))

	signals := map[string]int{
		SignalText:      s.textSignals(text),
		SignalStructure: s.structureSignals(sel, text),
		SignalURL:       s.urlSignals(sel, pageURL),
		SignalAttribute: s.attributeSignals(sel),
		SignalPosition:  s.positionSignals(sel),
		SignalExclusion: s.exclusionSignals(text),
	}

	score := 0
	for _, v := range signals {
		score += v
	}

	return Result{
		Score:      score,
		IsRelevant: score >= s.threshold,
		Signals:    signals,
	}
}

// textSignals scores keyword, price-token and numeric-count matches.
// Each contribution is capped so long text cannot run the score away.
func (s *Scorer) textSignals(text string) int {
	score := capped(countMatches(text, domainKeywords)*s.weights.DomainKeyword, s.weights.DomainKeywordCap)
	score += capped(countMatches(text, locationKeywords)*s.weights.LocationKeyword, s.weights.LocationKeywordCap)
	score += capped(countMatches(text, actionKeywords)*s.weights.ActionKeyword, s.weights.ActionKeywordCap)

	if priceTokenPattern.MatchString(text) {
		score += s.weights.PriceToken
	}

	counts := numericCountPattern.FindAllString(text, -1)
	score += capped(len(counts)*s.weights.NumericCount, s.weights.NumericCountCap)

	return score
}

// structureSignals scores the card's internal shape: image, title, price
// and link together score highest, partial structure less, and a sane
// child count earns a bonus.
func (s *Scorer) structureSignals(sel *goquery.Selection, text string) int {
	hasImage := sel.Find("img").Length() > 0
	hasLink := sel.Find("a[href]").Length() > 0 || sel.Is("a[href]")
	hasTitle := sel.Find("h1, h2, h3, h4, [class*='title'], [class*='name']").Length() > 0
	hasPrice := priceTokenPattern.MatchString(text)

	present := 0
	for _, ok := range []bool{hasImage, hasLink, hasTitle, hasPrice} {
		if ok {
			present++
		}
	}

	score := 0
	switch {
	case present == 4:
		score = s.weights.FullStructure
	case present >= 2:
		score = s.weights.PartialStructure
	}

	children := sel.Children().Length()
	if children >= minCardChildren && children <= maxCardChildren {
		score += s.weights.NestingBonus
	}

	return score
}

// urlSignals scores the shape of the card's detail link: listing-detail
// patterns are a strong positive, category/index patterns a strong
// negative.
func (s *Scorer) urlSignals(sel *goquery.Selection, pageURL string) int {
	href := firstHref(sel)
	if href == "" {
		return 0
	}

	resolved := resolveHref(pageURL, href)
	parsed, err := url.Parse(resolved)
	if err != nil {
		return 0
	}

	path := strings.ToLower(strings.TrimRight(parsed.Path, "/"))
	segments := nonEmptySegments(path)

	for _, seg := range segments {
		for _, cat := range categoryURLSegments {
			if seg == cat {
				return s.weights.CategoryURL
			}
		}
	}

	if numericIDPattern.MatchString(path + "/") {
		return s.weights.ListingURL
	}
	if len(segments) >= minListingPathDepth {
		return s.weights.ListingURL
	}
	for _, seg := range segments {
		for _, kw := range listingURLKeywords {
			if strings.Contains(seg, kw) && len(segments) > 1 {
				return s.weights.ListingURL
			}
		}
	}

	return 0
}

// attributeSignals scores the element's own class and id attributes.
func (s *Scorer) attributeSignals(sel *goquery.Selection) int {
	attrs := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("id", ""))
	if attrs == " " {
		return 0
	}

	score := 0
	for _, pos := range positiveClasses {
		if strings.Contains(attrs, pos) {
			score += s.weights.PositiveClass
			break
		}
	}
	for _, neg := range negativeClasses {
		if strings.Contains(attrs, neg) {
			score += s.weights.NegativeClass
			break
		}
	}

	return score
}

// positionSignals walks the element's ancestors: page chrome regions are
// penalized, main content regions rewarded. First hit in either
// direction wins.
func (s *Scorer) positionSignals(sel *goquery.Selection) int {
	score := 0
	chromeSeen := false
	contentSeen := false

	sel.Parents().Each(func(_ int, parent *goquery.Selection) {
		tag := goquery.NodeName(parent)
		attrs := strings.ToLower(parent.AttrOr("class", "") + " " + parent.AttrOr("id", ""))

		if !chromeSeen && (tag == "nav" || tag == "footer" || tag == "header" || tag == "aside" ||
			strings.Contains(attrs, "footer") || strings.Contains(attrs, "navbar")) {
			score += s.weights.ChromeRegion
			chromeSeen = true
		}

		if !contentSeen && (tag == "main" || tag == "article" ||
			strings.Contains(attrs, "content") || strings.Contains(attrs, "results")) {
			score += s.weights.ContentRegion
			contentSeen = true
		}
	})

	return score
}

// exclusionSignals applies a large penalty for explicit browse/navigation
// phrases.
func (s *Scorer) exclusionSignals(text string) int {
	for _, phrase := range exclusionPhrases {
		if strings.Contains(text, phrase) {
			return s.weights.ExclusionPhrase
		}
	}
	return 0
}

// countMatches counts how many of the keywords occur in text.
func countMatches(text string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	return count
}

// capped limits v to cap (cap <= 0 means uncapped).
func capped(v, cap int) int {
	if cap > 0 && v > cap {
		return cap
	}
	return v
}

// firstHref returns the element's own or first descendant href.
func firstHref(sel *goquery.Selection) string {
	if href, ok := sel.Attr("href"); ok {
		return href
	}
	return sel.Find("a[href]").First().AttrOr("href", "")
}

// resolveHref resolves href against the page URL.
func resolveHref(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// nonEmptySegments splits a path into its non-empty segments.
func nonEmptySegments(path string) []string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
