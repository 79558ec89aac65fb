package sites_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaops/harvester/internal/sites"
)

func writeSitesFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidAdapter(t *testing.T) {
	t.Parallel()

	path := writeSitesFile(t, `
sites:
  - key: acme-homes
    base_url: https://homes.example.com
    pagination: next-link
    selectors:
      card: div.listing-card
      title: h2
      price: .price
      next_page: a.next
`)

	adapters, excluded, err := sites.NewLoader(path).Load()
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Empty(t, excluded)

	adapter := adapters[0]
	assert.Equal(t, "acme-homes", adapter.Key)
	assert.Equal(t, sites.PaginationNextLink, adapter.Pagination)
	assert.Equal(t, sites.ParserGeneric, adapter.Parser)
	assert.True(t, adapter.Enabled)
	assert.Equal(t, "https://homes.example.com", adapter.FirstPageURL())
}

func TestLoad_InvalidAdapterExcludedWithReason(t *testing.T) {
	t.Parallel()

	path := writeSitesFile(t, `
sites:
  - key: good-site
    base_url: https://good.example.com
    pagination: numeric
    page_param: page
    selectors:
      card: div.card
  - key: bad-pagination
    base_url: https://bad.example.com
    pagination: infinite-scroll
    selectors:
      card: div.card
  - base_url: https://anonymous.example.com
    pagination: next-link
    selectors:
      card: div.card
`)

	adapters, excluded, err := sites.NewLoader(path).Load()
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Equal(t, "good-site", adapters[0].Key)

	require.Len(t, excluded, 2)
	assert.Equal(t, "bad-pagination", excluded[0].Key)
	assert.Contains(t, excluded[0].Reason, "pagination")
	assert.Equal(t, "site[2]", excluded[1].Key)
}

func TestLoad_DisabledAdapterSkippedSilently(t *testing.T) {
	t.Parallel()

	path := writeSitesFile(t, `
sites:
  - key: dormant
    base_url: https://dormant.example.com
    pagination: next-link
    enabled: false
    selectors:
      card: div.card
`)

	adapters, excluded, err := sites.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Empty(t, adapters)
	assert.Empty(t, excluded)
}

func TestLoad_EmptyFileFails(t *testing.T) {
	t.Parallel()

	path := writeSitesFile(t, "sites: []\n")

	_, _, err := sites.NewLoader(path).Load()
	assert.ErrorIs(t, err, sites.ErrNoSites)
}

func TestValidate_PageParamRequiredForNumeric(t *testing.T) {
	t.Parallel()

	adapter := sites.Adapter{
		Key:        "numeric-site",
		BaseURL:    "https://example.com",
		Pagination: sites.PaginationNumeric,
		Parser:     sites.ParserGeneric,
		Selectors:  sites.Selectors{Card: "div.card"},
	}

	err := adapter.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_param")

	adapter.PageParam = "page"
	assert.NoError(t, adapter.Validate())
}

func TestValidate_OverridesInheritance(t *testing.T) {
	t.Parallel()

	geocodeOff := false
	adapter := sites.Adapter{
		Key:        "tuned",
		BaseURL:    "https://example.com",
		Pagination: sites.PaginationNextLink,
		Parser:     sites.ParserGeneric,
		Selectors:  sites.Selectors{Card: "div.card"},
		Overrides: sites.Overrides{
			PageCap:          3,
			QualityThreshold: 80,
			Geocode:          &geocodeOff,
		},
	}

	require.NoError(t, adapter.Validate())
	assert.Equal(t, 3, adapter.Overrides.PageCap)
	require.NotNil(t, adapter.Overrides.Geocode)
	assert.False(t, *adapter.Overrides.Geocode)
}
