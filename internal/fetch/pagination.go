package fetch

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/casaops/harvester/internal/sites"
)

// pagePlaceholder is replaced by the page number in url-param templates.
const pagePlaceholder = "{page}"

// PageToken is the explicit pagination state passed between FetchPage
// calls. Number is 1-based; Done marks the end of the walk.
type PageToken struct {
	URL    string
	Number int
	Done   bool
}

// FirstPage returns the token for an adapter's first result page.
func FirstPage(adapter *sites.Adapter) PageToken {
	start := adapter.FirstPageURL()
	if adapter.Pagination == sites.PaginationURLParam {
		start = strings.ReplaceAll(start, pagePlaceholder, "1")
	}
	return PageToken{URL: start, Number: 1}
}

// nextToken computes the follow-up token for the page just fetched.
// For next-link pagination the document decides; for the numeric and
// url-param strategies the next candidate URL is always produced and the
// extractor stops the walk on an empty page or the page cap.
func nextToken(adapter *sites.Adapter, token PageToken, doc *goquery.Document) (PageToken, error) {
	switch adapter.Pagination {
	case sites.PaginationNextLink:
		return nextFromLink(adapter, token, doc), nil
	case sites.PaginationNumeric:
		return nextFromParam(adapter, token)
	case sites.PaginationURLParam:
		return nextFromTemplate(adapter, token), nil
	default:
		return PageToken{Done: true}, fmt.Errorf("unknown pagination strategy %q", adapter.Pagination)
	}
}

// nextFromLink locates the "next" anchor; no anchor means the walk is done.
func nextFromLink(adapter *sites.Adapter, token PageToken, doc *goquery.Document) PageToken {
	if adapter.Selectors.NextPage == "" || doc == nil {
		return PageToken{Number: token.Number, Done: true}
	}

	href, ok := doc.Find(adapter.Selectors.NextPage).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return PageToken{Number: token.Number, Done: true}
	}

	return PageToken{URL: resolveAgainst(token.URL, href), Number: token.Number + 1}
}

// nextFromParam increments the page query parameter.
func nextFromParam(adapter *sites.Adapter, token PageToken) (PageToken, error) {
	u, err := url.Parse(token.URL)
	if err != nil {
		return PageToken{Done: true}, fmt.Errorf("parse page url: %w", err)
	}

	next := token.Number + 1
	q := u.Query()
	q.Set(adapter.PageParam, strconv.Itoa(next))
	u.RawQuery = q.Encode()

	return PageToken{URL: u.String(), Number: next}, nil
}

// nextFromTemplate substitutes the next page number into the URL template.
func nextFromTemplate(adapter *sites.Adapter, token PageToken) PageToken {
	next := token.Number + 1
	template := adapter.FirstPageURL()
	if strings.Contains(template, pagePlaceholder) {
		return PageToken{
			URL:    strings.ReplaceAll(template, pagePlaceholder, strconv.Itoa(next)),
			Number: next,
		}
	}

	// No placeholder: fall back to a query parameter on the template.
	u, err := url.Parse(template)
	if err != nil {
		return PageToken{Number: token.Number, Done: true}
	}
	q := u.Query()
	q.Set(adapter.PageParam, strconv.Itoa(next))
	u.RawQuery = q.Encode()
	return PageToken{URL: u.String(), Number: next}
}

// resolveAgainst resolves href relative to base.
func resolveAgainst(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
