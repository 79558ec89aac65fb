package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/casaops/harvester/internal/fetch"
	"github.com/casaops/harvester/internal/listing"
	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/metrics"
	"github.com/casaops/harvester/internal/relevance"
	"github.com/casaops/harvester/internal/sites"
)

// GenericFallbackSelector is tried when the adapter's card selector
// matches nothing, before pattern discovery runs.
const GenericFallbackSelector = "div[class*='listing'], div[class*='property'], article[class*='card']"

// DefaultPageCap bounds pages per site when neither the run nor the
// adapter sets one.
const DefaultPageCap = 5

// GenericExtractor is the selector-driven extractor used by most sites.
type GenericExtractor struct {
	engine    *fetch.Engine
	scorer    *relevance.Scorer
	discovery *relevance.Discovery
	metrics   *metrics.Metrics
	log       logger.Interface
	pageCap   int
}

// NewGeneric creates a generic extractor. metrics may be nil.
func NewGeneric(
	engine *fetch.Engine,
	scorer *relevance.Scorer,
	discovery *relevance.Discovery,
	m *metrics.Metrics,
	pageCap int,
	log logger.Interface,
) *GenericExtractor {
	if pageCap <= 0 {
		pageCap = DefaultPageCap
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &GenericExtractor{
		engine:    engine,
		scorer:    scorer,
		discovery: discovery,
		metrics:   m,
		log:       log.WithComponent("extract"),
		pageCap:   pageCap,
	}
}

// Extract implements Extractor. The walk stops at the page cap, on a
// finished pagination token, or at the first page that yields no cards
// after the full fallback chain. A page-level fetch failure ends the walk
// but keeps earlier pages' records; only a first-page failure with
// nothing extracted surfaces as a site error.
func (e *GenericExtractor) Extract(ctx context.Context, adapter *sites.Adapter) ([]*listing.RawRecord, *Stats, error) {
	log := e.log.WithSite(adapter.Key)
	stats := &Stats{}

	pageCap := e.pageCap
	if adapter.Overrides.PageCap > 0 {
		pageCap = adapter.Overrides.PageCap
	}

	selector := adapter.Selectors.Card
	var records []*listing.RawRecord

	token := fetch.FirstPage(adapter)
	for page := 1; page <= pageCap && !token.Done; page++ {
		result, err := e.engine.FetchPage(ctx, adapter, token)
		if err != nil {
			stats.FailedPages++
			if e.metrics != nil {
				e.metrics.RecordFailedPage()
			}
			if page == 1 && len(records) == 0 {
				return nil, stats, fmt.Errorf("extract %s: %w", adapter.Key, err)
			}
			log.WithError(err).Warn("page fetch failed, stopping walk", "page", page)
			break
		}

		stats.PagesFetched++
		if result.Rendered {
			stats.RenderedPages++
		}
		if e.metrics != nil {
			e.metrics.RecordPage(result.Rendered)
		}

		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
		if parseErr != nil {
			log.WithError(parseErr).Warn("page parse failed", "page", page)
			break
		}

		cards, activeSelector := e.locateCards(doc, selector, token.URL, stats, log)
		if cards == nil || cards.Length() == 0 {
			log.Warn("no cards found after fallback chain, stopping walk", "page", page)
			break
		}
		// A discovered or fallback selector stays active for later pages.
		selector = activeSelector

		pageRecords := e.extractCards(cards, adapter, token.URL, stats)

		// A selector whose every match is filtered as noise is as dead as
		// one matching nothing; give discovery one shot at the page.
		if len(pageRecords) == 0 && e.discovery != nil && !stats.DiscoveryAttempted {
			stats.DiscoveryAttempted = true
			discovered, ok := e.discovery.Discover(doc, token.URL, e.scorer.Threshold())
			if e.metrics != nil {
				e.metrics.RecordDiscovery(ok)
			}
			if ok && discovered != activeSelector {
				log.Info("selector discovered after noise-only matches", "selector", discovered)
				stats.DiscoveredSelector = discovered
				selector = discovered
				pageRecords = e.extractCards(doc.Find(discovered), adapter, token.URL, stats)
			} else if !ok {
				log.Warn("selector discovery found no viable pattern", "page", page)
			}
		}

		if len(pageRecords) == 0 {
			log.Debug("page yielded no relevant cards, stopping walk", "page", page)
			break
		}

		records = append(records, pageRecords...)
		if e.metrics != nil {
			e.metrics.RecordRawRecords(len(pageRecords))
		}

		token = result.Next
	}

	return records, stats, nil
}

// locateCards runs the fallback chain: configured selector, generic
// fallback, then pattern discovery.
func (e *GenericExtractor) locateCards(
	doc *goquery.Document,
	selector, pageURL string,
	stats *Stats,
	log logger.Interface,
) (*goquery.Selection, string) {
	if selector != "" {
		if cards := doc.Find(selector); cards.Length() > 0 {
			return cards, selector
		}
	}

	if cards := doc.Find(GenericFallbackSelector); cards.Length() > 0 {
		log.Debug("configured selector empty, generic fallback matched")
		return cards, GenericFallbackSelector
	}

	if e.discovery == nil {
		return nil, selector
	}

	stats.DiscoveryAttempted = true
	discovered, ok := e.discovery.Discover(doc, pageURL, e.scorer.Threshold())
	if e.metrics != nil {
		e.metrics.RecordDiscovery(ok)
	}
	if !ok {
		log.Warn("selector discovery found no viable pattern")
		return nil, selector
	}

	log.Info("selector discovered", "selector", discovered)
	stats.DiscoveredSelector = discovered
	return doc.Find(discovered), discovered
}

// extractCards scores each card and reads the fields of the relevant ones.
func (e *GenericExtractor) extractCards(
	cards *goquery.Selection,
	adapter *sites.Adapter,
	pageURL string,
	stats *Stats,
) []*listing.RawRecord {
	fetchedAt := time.Now()
	var records []*listing.RawRecord

	cards.Each(func(_ int, card *goquery.Selection) {
		stats.CardsSeen++

		result := e.scorer.Score(card, pageURL)
		if !result.IsRelevant {
			stats.CardsFiltered++
			return
		}

		records = append(records, e.extractCard(card, adapter, pageURL, fetchedAt))
	})

	return records
}

// extractCard reads one card's fields per the adapter's selectors.
func (e *GenericExtractor) extractCard(
	card *goquery.Selection,
	adapter *sites.Adapter,
	pageURL string,
	fetchedAt time.Time,
) *listing.RawRecord {
	sel := adapter.Selectors
	fields := map[string]string{
		"title":         fieldText(card, sel.Title),
		"price":         fieldText(card, sel.Price),
		"location":      fieldText(card, sel.Location),
		"bedrooms":      fieldText(card, sel.Bedrooms),
		"bathrooms":     fieldText(card, sel.Bathrooms),
		"property_type": fieldText(card, sel.PropertyType),
		"description":   fieldText(card, sel.Description),
		"media":         mediaURLs(card, sel.Image, adapter.BaseURL),
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}

	sourceURL := pageURL
	if href := cardLink(card, sel.Link); href != "" {
		sourceURL = resolveURL(adapter.BaseURL, href)
	}

	return &listing.RawRecord{
		Fields:    fields,
		SourceURL: sourceURL,
		SiteKey:   adapter.Key,
		FetchedAt: fetchedAt,
	}
}

// fieldText returns the trimmed text of the first element matching
// selector inside the card.
func fieldText(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(card.Find(selector).First().Text())
}

// cardLink finds the card's detail-page href: the configured link
// selector first, then any anchor inside the card.
func cardLink(card *goquery.Selection, selector string) string {
	if selector != "" {
		if href, ok := card.Find(selector).First().Attr("href"); ok {
			return href
		}
	}
	if card.Is("a") {
		if href, ok := card.Attr("href"); ok {
			return href
		}
	}
	href, _ := card.Find("a[href]").First().Attr("href")
	return href
}

// mediaURLs collects the card's image URLs, newline-joined. Lazy-loaded
// images keep the real URL in data-src.
func mediaURLs(card *goquery.Selection, selector, baseURL string) string {
	if selector == "" {
		selector = "img"
	}

	var urls []string
	card.Find(selector).Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		if src != "" {
			urls = append(urls, resolveURL(baseURL, src))
		}
	})
	return strings.Join(urls, "\n")
}

// resolveURL makes href absolute against base.
func resolveURL(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
