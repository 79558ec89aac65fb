package extract_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaops/harvester/internal/extract"
	"github.com/casaops/harvester/internal/fetch"
	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/relevance"
	"github.com/casaops/harvester/internal/sites"
)

// listingPage renders n genuine-looking property cards plus an optional
// next link.
func listingPage(n int, nextHref string) string {
	page := `<html><body><main class="search-results">`
	for i := 0; i < n; i++ {
		page += fmt.Sprintf(`
<div class="listing-card">
  <img src="/img/villa-%d.jpg" alt="villa">
  <h3 class="title">Modern %d Bedroom Villa with Pool</h3>
  <span class="price">$%d,000</span>
  <span class="location">Rawai, Phuket</span>
  <p>%d bed 2 bath villa for sale near the beach</p>
  <a href="/property/sea-villa-%d/">Details</a>
</div>`, i, 2+i%3, 400+i, 2+i%3, 48200+i)
	}
	page += `</main>`
	if nextHref != "" {
		page += fmt.Sprintf(`<a class="next" href="%s">Next</a>`, nextHref)
	}
	page += `</body></html>`
	return page
}

// navigationPage has cards matching the configured selector that are all
// navigation noise, and no structure for the fallback chain to find.
const navigationPage = `
<html><body><footer class="site-footer">
<div class="menu-block"><a href="/search?page=2">View all listings</a></div>
<div class="menu-block"><a href="/browse">Browse categories</a></div>
</footer></body></html>`

func testAdapter(serverURL string) *sites.Adapter {
	return &sites.Adapter{
		Key:        "test-site",
		BaseURL:    serverURL,
		Pagination: sites.PaginationNextLink,
		Parser:     sites.ParserGeneric,
		Selectors: sites.Selectors{
			Card:     "div.listing-card",
			Title:    "h3.title",
			Price:    "span.price",
			Location: "span.location",
			Link:     "a[href*='/property/']",
			NextPage: "a.next",
		},
	}
}

func newExtractor(pageCap int) *extract.GenericExtractor {
	cfg := fetch.Config{MaxAttempts: 2, RetryBaseDelay: time.Millisecond, RequestTimeout: 5 * time.Second}
	engine := fetch.NewEngine(cfg, nil, nil, logger.NewNoOp())
	scorer := relevance.NewDefaultScorer()
	return extract.NewGeneric(engine, scorer, relevance.NewDiscovery(scorer), nil, pageCap, logger.NewNoOp())
}

func TestExtract_HealthyPage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage(5, ""))
	}))
	defer server.Close()

	records, stats, err := newExtractor(3).Extract(context.Background(), testAdapter(server.URL))
	require.NoError(t, err)

	assert.Len(t, records, 5)
	assert.Equal(t, 1, stats.PagesFetched)
	assert.Equal(t, 5, stats.CardsSeen)
	assert.Zero(t, stats.CardsFiltered)
	assert.False(t, stats.DiscoveryAttempted)

	first := records[0]
	assert.Equal(t, "test-site", first.SiteKey)
	assert.Contains(t, first.Fields["title"], "Bedroom Villa")
	assert.Contains(t, first.Fields["price"], "$")
	assert.Equal(t, "Rawai, Phuket", first.Fields["location"])
	assert.Contains(t, first.SourceURL, "/property/sea-villa-")
	assert.Contains(t, first.Fields["media"], server.URL+"/img/villa-0.jpg")
}

func TestExtract_WalksPagination(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage(3, "/page/2"))
	})
	mux.HandleFunc("/page/2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage(2, ""))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	records, stats, err := newExtractor(5).Extract(context.Background(), testAdapter(server.URL))
	require.NoError(t, err)

	assert.Len(t, records, 5)
	assert.Equal(t, 2, stats.PagesFetched)
}

func TestExtract_PageCapStopsWalk(t *testing.T) {
	t.Parallel()

	var pages atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pages.Add(1)
		fmt.Fprint(w, listingPage(2, "/more"))
	}))
	defer server.Close()

	records, stats, err := newExtractor(2).Extract(context.Background(), testAdapter(server.URL))
	require.NoError(t, err)

	assert.Len(t, records, 4)
	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, int32(2), pages.Load())
}

func TestExtract_AdapterPageCapOverride(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage(1, "/more"))
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	adapter.Overrides.PageCap = 1

	records, stats, err := newExtractor(5).Extract(context.Background(), adapter)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, stats.PagesFetched)
}

func TestExtract_DiscoveryRecoversSelector(t *testing.T) {
	t.Parallel()

	// The configured selector matches nothing; the cards use a class the
	// generic fallback also misses, so discovery must find them.
	page := `<html><body><main>`
	for i := 0; i < 3; i++ {
		page += fmt.Sprintf(`
<li class="result-tile">
  <img src="/img/%d.jpg">
  <h3>Cozy 2 Bedroom Apartment</h3>
  <span>$250,000</span>
  <a href="/property/cozy-apt-%d/">View</a>
</li>`, i, 9100+i)
	}
	page += `</main></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	adapter.Selectors.Card = "div.no-such-card"

	records, stats, err := newExtractor(3).Extract(context.Background(), adapter)
	require.NoError(t, err)

	assert.True(t, stats.DiscoveryAttempted)
	assert.Equal(t, "li[class*='result']", stats.DiscoveredSelector)
	assert.Len(t, records, 3)
}

func TestExtract_NavigationOnlyMatchesYieldNothing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, navigationPage)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	adapter.Selectors.Card = "div.menu-block"

	records, stats, err := newExtractor(3).Extract(context.Background(), adapter)
	require.NoError(t, err)

	assert.Empty(t, records)
	assert.Equal(t, 2, stats.CardsSeen)
	assert.Equal(t, 2, stats.CardsFiltered)
	assert.True(t, stats.DiscoveryAttempted,
		"a selector matching only noise gets one discovery attempt")
	assert.Empty(t, stats.DiscoveredSelector)
}

func TestExtract_NetworkFailureSurfacesAsSiteError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	records, stats, err := newExtractor(3).Extract(context.Background(), testAdapter(server.URL))
	require.Error(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.FailedPages)
}

func TestExtract_LaterPageFailureKeepsEarlierRecords(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage(3, "/page/2"))
	})
	mux.HandleFunc("/page/2", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	records, stats, err := newExtractor(5).Extract(context.Background(), testAdapter(server.URL))
	require.NoError(t, err)

	assert.Len(t, records, 3)
	assert.Equal(t, 1, stats.FailedPages)
}

func TestRegistry_ResolveAtLoadTime(t *testing.T) {
	t.Parallel()

	registry := extract.NewRegistry()
	registry.Register(sites.ParserGeneric, newExtractor(1))

	resolved, err := registry.Resolve(sites.ParserGeneric)
	require.NoError(t, err)
	assert.NotNil(t, resolved)

	_, err = registry.Resolve(sites.ParserCustom)
	assert.Error(t, err)
}
