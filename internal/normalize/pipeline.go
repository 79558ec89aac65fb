// Package normalize turns raw scraped records into canonical listings:
// fuzzy field matching, price and count parsing, location hierarchy
// extraction, property-type canonicalization, and completeness-based
// quality scoring. Pure and synchronous; runs inline on the calling
// worker.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/casaops/harvester/internal/listing"
)

var (
	// ErrMissingRequired is returned when a required field is absent.
	// The record is rejected regardless of how rich its bonus fields are.
	ErrMissingRequired = errors.New("missing required field")
	// ErrBelowThreshold is returned when the quality score is under the
	// configured minimum.
	ErrBelowThreshold = errors.New("quality score below threshold")
)

// fieldAliases maps canonical field names to the raw field names seen
// across sites. Lookup is case-insensitive after key folding.
var fieldAliases = map[string][]string{
	"title":         {"title", "name", "heading", "listing_title"},
	"price":         {"price", "cost", "amount", "price_text", "asking_price"},
	"location":      {"location", "address", "area", "place", "locality", "neighborhood"},
	"bedrooms":      {"bedrooms", "beds", "bed", "br", "rooms"},
	"bathrooms":     {"bathrooms", "baths", "bath", "ba"},
	"property_type": {"property_type", "type", "category", "unit_type"},
	"description":   {"description", "summary", "details", "excerpt"},
	"contact":       {"contact", "agent", "phone", "agent_name"},
	"media":         {"media", "image", "images", "photo", "photos", "thumbnail"},
	"latitude":      {"latitude", "lat"},
	"longitude":     {"longitude", "lon", "lng"},
}

// propertyTypeCanonical maps raw type labels to canonical values.
var propertyTypeCanonical = map[string]string{
	"condo":         "condo",
	"condominium":   "condo",
	"apartment":     "apartment",
	"flat":          "apartment",
	"house":         "house",
	"home":          "house",
	"single-family": "house",
	"detached":      "house",
	"villa":         "villa",
	"townhouse":     "townhouse",
	"townhome":      "townhouse",
	"land":          "land",
	"plot":          "land",
	"studio":        "studio",
}

// mediaSeparator joins multiple media URLs inside one raw field.
const mediaSeparator = "\n"

// maxLocationLevels caps the parsed location hierarchy depth.
const maxLocationLevels = 3

// Pipeline normalizes raw records against a minimum quality threshold.
type Pipeline struct {
	minQuality int
}

// NewPipeline creates a pipeline with the given minimum quality score.
// Zero or negative means DefaultMinQuality.
func NewPipeline(minQuality int) *Pipeline {
	if minQuality <= 0 {
		minQuality = DefaultMinQuality
	}
	return &Pipeline{minQuality: minQuality}
}

// MinQuality returns the threshold in use.
func (p *Pipeline) MinQuality() int {
	return p.minQuality
}

// Normalize converts one raw record into a normalized listing. Rejections
// surface as errors wrapping ErrMissingRequired, ErrUnparseablePrice or
// ErrBelowThreshold so the caller can count them per reason; they never
// crash the batch.
func (p *Pipeline) Normalize(raw *listing.RawRecord) (*listing.NormalizedListing, error) {
	fields := foldFields(raw.Fields)

	title := strings.TrimSpace(lookup(fields, "title"))
	if title == "" {
		return nil, fmt.Errorf("%w: title", ErrMissingRequired)
	}

	priceRaw := lookup(fields, "price")
	if strings.TrimSpace(priceRaw) == "" {
		return nil, fmt.Errorf("%w: price", ErrMissingRequired)
	}
	price, currency, priceErr := ParsePrice(priceRaw)
	if priceErr != nil {
		return nil, fmt.Errorf("price %q: %w", priceRaw, priceErr)
	}

	locationRaw := strings.TrimSpace(lookup(fields, "location"))
	if locationRaw == "" {
		return nil, fmt.Errorf("%w: location", ErrMissingRequired)
	}

	if strings.TrimSpace(raw.SourceURL) == "" {
		return nil, fmt.Errorf("%w: source url", ErrMissingRequired)
	}

	area, district, region := parseLocation(locationRaw)

	l := &listing.NormalizedListing{
		Title:        title,
		Price:        price,
		Currency:     currency,
		Area:         area,
		District:     district,
		Region:       region,
		PropertyType: canonicalType(lookup(fields, "property_type")),
		Bedrooms:     ExtractCount(lookup(fields, "bedrooms")),
		Bathrooms:    ExtractCount(lookup(fields, "bathrooms")),
		MediaURLs:    splitMedia(lookup(fields, "media")),
		Description:  strings.TrimSpace(lookup(fields, "description")),
		Contact:      strings.TrimSpace(lookup(fields, "contact")),
		Coordinates:  parseCoordinates(fields),
		SourceURL:    raw.SourceURL,
		SiteKey:      raw.SiteKey,
		FetchedAt:    raw.FetchedAt,
	}

	l.QualityScore = scoreQuality(l)
	l.Fingerprint = listing.ComputeFingerprint(l.Title, l.Price, l.Location(), l.SourceURL)

	if l.QualityScore < p.minQuality {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowThreshold, l.QualityScore, p.minQuality)
	}

	return l, nil
}

// foldFields lowercases keys and folds spaces and dashes to underscores
// so alias lookup tolerates varying raw field names.
func foldFields(raw map[string]string) map[string]string {
	folded := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		folded[key] = v
	}
	return folded
}

// lookup returns the first alias of canonical present in fields.
func lookup(fields map[string]string, canonical string) string {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := fields[alias]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseLocation splits a comma-separated location string into up to three
// hierarchy levels, most specific first.
func parseLocation(raw string) (area, district, region string) {
	parts := strings.Split(raw, ",")
	levels := make([]string, 0, maxLocationLevels)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		levels = append(levels, p)
		if len(levels) == maxLocationLevels {
			break
		}
	}

	switch len(levels) {
	case 0:
		return "", "", ""
	case 1:
		return levels[0], "", ""
	case 2:
		return levels[0], "", levels[1]
	default:
		return levels[0], levels[1], levels[2]
	}
}

// canonicalType maps a raw property type label to its canonical value.
// Unknown labels pass through lowercased so they remain visible.
func canonicalType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return ""
	}
	if canonical, ok := propertyTypeCanonical[t]; ok {
		return canonical
	}
	for variant, canonical := range propertyTypeCanonical {
		if strings.Contains(t, variant) {
			return canonical
		}
	}
	return t
}

// splitMedia splits a joined media field into URLs.
func splitMedia(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, mediaSeparator)
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// parseCoordinates reads raw latitude/longitude fields when both parse.
func parseCoordinates(fields map[string]string) *listing.Coordinates {
	latRaw := lookup(fields, "latitude")
	lonRaw := lookup(fields, "longitude")
	if latRaw == "" || lonRaw == "" {
		return nil
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if latErr != nil || lonErr != nil {
		return nil
	}

	return &listing.Coordinates{Lat: lat, Lon: lon}
}
