// Package sites defines the declarative per-site adapter model and its
// loader. An Adapter describes how to scrape one source site; it is pure
// data, validated at load time and never mutated during a run.
package sites

import (
	"errors"
	"fmt"
	"net/url"
)

// PaginationStrategy identifies how a site exposes its result pages.
type PaginationStrategy string

const (
	// PaginationNextLink follows a "next" anchor located by a CSS selector.
	PaginationNextLink PaginationStrategy = "next-link"
	// PaginationNumeric increments a page parameter until the page cap or
	// an empty page.
	PaginationNumeric PaginationStrategy = "numeric"
	// PaginationURLParam templates the page number directly into the URL.
	PaginationURLParam PaginationStrategy = "url-param"
)

// ParserKind selects the extractor implementation for a site. Closed set;
// resolved to a concrete extractor at adapter-load time.
type ParserKind string

const (
	// ParserGeneric is the selector-driven extractor that fits most sites.
	ParserGeneric ParserKind = "generic"
	// ParserCustom marks sites that ship their own extractor.
	ParserCustom ParserKind = "custom"
)

// Selectors defines the CSS selectors for extracting listing cards and
// their fields from a site's result pages.
type Selectors struct {
	// Card is the selector for one listing card element.
	Card string `yaml:"card" mapstructure:"card"`
	// Title is the selector for the listing title within a card.
	Title string `yaml:"title" mapstructure:"title"`
	// Price is the selector for the price within a card.
	Price string `yaml:"price" mapstructure:"price"`
	// Location is the selector for the location text within a card.
	Location string `yaml:"location" mapstructure:"location"`
	// Bedrooms is the selector for the bedroom count.
	Bedrooms string `yaml:"bedrooms" mapstructure:"bedrooms"`
	// Bathrooms is the selector for the bathroom count.
	Bathrooms string `yaml:"bathrooms" mapstructure:"bathrooms"`
	// PropertyType is the selector for the property type label.
	PropertyType string `yaml:"property_type" mapstructure:"property_type"`
	// Image is the selector for card images.
	Image string `yaml:"image" mapstructure:"image"`
	// Link is the selector for the card's detail-page anchor.
	Link string `yaml:"link" mapstructure:"link"`
	// Description is the selector for the card description.
	Description string `yaml:"description" mapstructure:"description"`
	// NextPage is the selector for the "next" anchor (next-link pagination).
	NextPage string `yaml:"next_page" mapstructure:"next_page"`
}

// Overrides holds per-site knobs that shadow the run-level configuration.
// Zero values mean "use the run default".
type Overrides struct {
	// PageCap limits how many result pages are walked for this site.
	PageCap int `yaml:"page_cap" mapstructure:"page_cap"`
	// QualityThreshold is the minimum quality score for this site.
	QualityThreshold int `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	// Geocode toggles enrichment for this site; nil inherits the run setting.
	Geocode *bool `yaml:"geocode" mapstructure:"geocode"`
}

// Adapter is the declarative description of one source site.
type Adapter struct {
	// Key is the unique identifier for the site.
	Key string `yaml:"key" mapstructure:"key"`
	// BaseURL is the site's base URL, used to resolve relative links.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// StartURL is the first result page; defaults to BaseURL.
	StartURL string `yaml:"start_url" mapstructure:"start_url"`
	// Pagination selects the pagination strategy.
	Pagination PaginationStrategy `yaml:"pagination" mapstructure:"pagination"`
	// PageParam is the query parameter carrying the page number for the
	// numeric and url-param strategies.
	PageParam string `yaml:"page_param" mapstructure:"page_param"`
	// Parser selects the extractor implementation.
	Parser ParserKind `yaml:"parser" mapstructure:"parser"`
	// ScriptRendered marks sites whose result pages are script-generated
	// and always need the rendered-browser fetch.
	ScriptRendered bool `yaml:"script_rendered" mapstructure:"script_rendered"`
	// UserAgent overrides the run-level user agent for this site.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
	// Headers are extra request headers for this site.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	// ExpectedRecordsPerPage feeds the batch planner's cost model.
	ExpectedRecordsPerPage int `yaml:"expected_records_per_page" mapstructure:"expected_records_per_page"`
	// Selectors define how cards and fields are located.
	Selectors Selectors `yaml:"selectors" mapstructure:"selectors"`
	// Overrides are per-site knobs.
	Overrides Overrides `yaml:"overrides" mapstructure:"overrides"`
	// Enabled excludes the site from runs when false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// knownStrategies is the closed set of pagination strategies.
var knownStrategies = map[PaginationStrategy]bool{
	PaginationNextLink: true,
	PaginationNumeric:  true,
	PaginationURLParam: true,
}

// knownParsers is the closed set of parser kinds.
var knownParsers = map[ParserKind]bool{
	ParserGeneric: true,
	ParserCustom:  true,
}

// Validate checks the adapter before a run starts.
func (a *Adapter) Validate() error {
	if a.Key == "" {
		return errors.New("key is required")
	}
	if a.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("base_url must be a valid HTTP(S) URL")
	}
	if a.Selectors.Card == "" {
		return errors.New("card selector is required")
	}
	if !knownStrategies[a.Pagination] {
		return fmt.Errorf("unknown pagination strategy %q", a.Pagination)
	}
	if !knownParsers[a.Parser] {
		return fmt.Errorf("unknown parser kind %q", a.Parser)
	}
	if a.Pagination != PaginationNextLink && a.PageParam == "" {
		return errors.New("page_param is required for numeric and url-param pagination")
	}
	return nil
}

// FirstPageURL returns the URL of the first result page.
func (a *Adapter) FirstPageURL() string {
	if a.StartURL != "" {
		return a.StartURL
	}
	return a.BaseURL
}
