package harvest_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaops/harvester/internal/config"
	"github.com/casaops/harvester/internal/dedup"
	"github.com/casaops/harvester/internal/geocode"
	"github.com/casaops/harvester/internal/harvest"
	"github.com/casaops/harvester/internal/listing"
	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/metrics"
	"github.com/casaops/harvester/internal/planner"
)

// healthyPage has five complete listing cards.
func healthyPage() string {
	page := `<html><body><main class="search-results">`
	for i := 0; i < 5; i++ {
		page += fmt.Sprintf(`
<div class="listing-card">
  <img src="/img/villa-%d.jpg">
  <h3 class="title">Modern %d Bedroom Villa %d</h3>
  <span class="price">$%d,000</span>
  <span class="location">Rawai, Mueang, Phuket</span>
  <span class="beds">%d Bedrooms</span>
  <p>villa for sale near the beach</p>
  <a href="/property/sea-villa-%d/">Details</a>
</div>`, i, 2+i%3, i, 400+10*i, 2+i%3, 48200+i)
	}
	return page + `</main></body></html>`
}

// noisyPage matches the configured selector with navigation noise only,
// and offers nothing for the fallback chain to discover.
const noisyPage = `
<html><body><footer class="site-footer">
<div class="menu-block"><a href="/search?page=2">View all listings</a></div>
<div class="menu-block"><a href="/browse">Browse categories</a></div>
</footer></body></html>`

func sitesYAML(healthyURL, noisyURL, brokenURL string) string {
	return fmt.Sprintf(`
sites:
  - key: healthy-homes
    base_url: %[1]s
    pagination: next-link
    expected_records_per_page: 5
    selectors:
      card: div.listing-card
      title: h3.title
      price: span.price
      location: span.location
      bedrooms: span.beds
      link: a[href*='/property/']
      next_page: a.next
  - key: noisy-portal
    base_url: %[2]s
    pagination: next-link
    selectors:
      card: div.menu-block
  - key: broken-estate
    base_url: %[3]s
    pagination: next-link
    selectors:
      card: div.listing-card
`, healthyURL, noisyURL, brokenURL)
}

func testConfig(t *testing.T, sitesPath string) *config.RunConfig {
	t.Helper()
	return &config.RunConfig{
		SitesFile:          sitesPath,
		PageCap:            2,
		TimeBudget:         10 * time.Minute,
		SafetyMultiplier:   1.3,
		SessionParallelism: 2,
		RequestTimeout:     5 * time.Second,
		MaxRetries:         2,
		RetryBaseDelay:     time.Millisecond,
		Costs:              planner.DefaultCostModel(),
	}
}

func TestRun_ThreeSiteScenario(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, healthyPage())
	}))
	defer healthy.Close()

	noisy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, noisyPage)
	}))
	defer noisy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	sitesPath := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(sitesPath,
		[]byte(sitesYAML(healthy.URL, noisy.URL, broken.URL)), 0o600))

	store := dedup.NewMemoryStore()
	m := metrics.New()
	runner, err := harvest.NewRunner(testConfig(t, sitesPath),
		harvest.Options{Store: store, Metrics: m}, logger.NewNoOp())
	require.NoError(t, err)

	run, err := runner.Run(context.Background())
	require.NoError(t, err, "a run always completes with a report")
	require.Len(t, run.Sites, 3)
	assert.NotEmpty(t, run.RunID)

	healthyReport := run.Sites["healthy-homes"]
	require.NotNil(t, healthyReport)
	assert.Equal(t, 5, healthyReport.Accepted)
	assert.Equal(t, 5, healthyReport.Inserted)
	assert.False(t, healthyReport.Failed())
	assert.Positive(t, healthyReport.AvgQuality)

	noisyReport := run.Sites["noisy-portal"]
	require.NotNil(t, noisyReport)
	assert.Zero(t, noisyReport.Accepted)
	assert.True(t, noisyReport.DiscoveryAttempted)
	assert.False(t, noisyReport.Failed(), "a page of noise is a warning, not a failure")

	brokenReport := run.Sites["broken-estate"]
	require.NotNil(t, brokenReport)
	assert.Zero(t, brokenReport.RawCount)
	assert.True(t, brokenReport.Failed())
	assert.NotEmpty(t, brokenReport.FailureReason)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	snap := m.Snapshot()
	assert.Equal(t, int64(5), snap.AcceptedListings)
	assert.Positive(t, snap.PagesFetched)
}

func TestRun_DiscoveryFlaggedWhenSelectorDead(t *testing.T) {
	t.Parallel()

	// The configured selector matches nothing and the cards dodge the
	// generic fallback, so discovery has to recover them.
	page := `<html><body><main>`
	for i := 0; i < 3; i++ {
		page += fmt.Sprintf(`
<li class="result-tile">
  <img src="/img/%d.jpg">
  <h3>Cozy 2 Bedroom Apartment %d</h3>
  <span>$250,000</span>
  <span>Sathorn, Bangkok</span>
  <a href="/property/cozy-apt-%d/">View</a>
</li>`, i, i, 9100+i)
	}
	page += `</main></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	sitesPath := filepath.Join(t.TempDir(), "sites.yaml")
	sitesData := fmt.Sprintf(`
sites:
  - key: drifted-site
    base_url: %s
    pagination: next-link
    selectors:
      card: div.stale-selector
`, server.URL)
	require.NoError(t, os.WriteFile(sitesPath, []byte(sitesData), 0o600))

	runner, err := harvest.NewRunner(testConfig(t, sitesPath),
		harvest.Options{Store: dedup.NewMemoryStore()}, logger.NewNoOp())
	require.NoError(t, err)

	run, err := runner.Run(context.Background())
	require.NoError(t, err)

	drifted := run.Sites["drifted-site"]
	require.NotNil(t, drifted)
	assert.True(t, drifted.DiscoveryAttempted)
	assert.NotEmpty(t, drifted.DiscoveredSelector)
	// Discovered cards carry no field selectors, so normalization rejects
	// them; they are counted, not silently dropped.
	assert.Zero(t, drifted.Accepted)
	assert.Equal(t, 3, drifted.RawCount)
	assert.Equal(t, 3, drifted.RejectedTotal())
}

func TestRun_RepeatedRunsStayIdempotent(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, healthyPage())
	}))
	defer healthy.Close()

	sitesPath := filepath.Join(t.TempDir(), "sites.yaml")
	sitesData := fmt.Sprintf(`
sites:
  - key: healthy-homes
    base_url: %s
    pagination: next-link
    selectors:
      card: div.listing-card
      title: h3.title
      price: span.price
      location: span.location
      link: a[href*='/property/']
`, healthy.URL)
	require.NoError(t, os.WriteFile(sitesPath, []byte(sitesData), 0o600))

	store := dedup.NewMemoryStore()
	runner, err := harvest.NewRunner(testConfig(t, sitesPath),
		harvest.Options{Store: store}, logger.NewNoOp())
	require.NoError(t, err)

	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first.Sites["healthy-homes"].Inserted)

	second, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Sites["healthy-homes"].Inserted)
	assert.Equal(t, 5, second.Sites["healthy-homes"].Updated)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRun_GeocodeEnrichesAcceptedListings(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, healthyPage())
	}))
	defer healthy.Close()

	sitesPath := filepath.Join(t.TempDir(), "sites.yaml")
	sitesData := fmt.Sprintf(`
sites:
  - key: healthy-homes
    base_url: %s
    pagination: next-link
    selectors:
      card: div.listing-card
      title: h3.title
      price: span.price
      location: span.location
      link: a[href*='/property/']
`, healthy.URL)
	require.NoError(t, os.WriteFile(sitesPath, []byte(sitesData), 0o600))

	provider := geocode.Func(func(context.Context, string) (*listing.Coordinates, error) {
		return &listing.Coordinates{Lat: 7.78, Lon: 98.32}, nil
	})
	enricher := geocode.NewEnricher(provider, geocode.NewMemoryCache(),
		geocode.Options{CallsPerSecond: 10_000, MaxCalls: -1}, logger.NewNoOp())

	cfg := testConfig(t, sitesPath)
	cfg.Geocode = true

	store := dedup.NewMemoryStore()
	runner, err := harvest.NewRunner(cfg,
		harvest.Options{Store: store, Enricher: enricher}, logger.NewNoOp())
	require.NoError(t, err)

	run, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, run.Sites["healthy-homes"].Accepted)

	// Every accepted listing shares one location, so the cache collapses
	// provider traffic to a single call.
	assert.Equal(t, 1, enricher.Calls())
}

func TestNewRunner_RequiresStore(t *testing.T) {
	t.Parallel()

	_, err := harvest.NewRunner(&config.RunConfig{SitesFile: "sites.yaml"},
		harvest.Options{}, logger.NewNoOp())
	assert.Error(t, err)
}
