// Package fetch performs page retrieval for site adapters: lightweight
// HTTP first, escalating to a rendered-browser fetch when a page is
// script-generated, with explicit pagination state passed between calls.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/sites"
)

// HTTP status boundaries for retry classification.
const (
	statusTooManyReqs  = 429
	statusServerErrLow = 500
)

// maxResponseBodyBytes limits the size of fetched page responses.
const maxResponseBodyBytes = 10 * 1024 * 1024 // 10 MB

const defaultRequestTimeout = 30 * time.Second

// ErrPaginationDone is returned when FetchPage is called with a finished
// token.
var ErrPaginationDone = errors.New("pagination already finished")

// Config holds fetch engine configuration.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// WithDefaults returns a copy with defaults applied for zero fields.
func (c Config) WithDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return c
}

// Result is the outcome of one page fetch.
type Result struct {
	// HTML is the page markup.
	HTML string
	// Next is the token for the following page.
	Next PageToken
	// Rendered reports whether the browser fallback produced the HTML.
	Rendered bool
}

// Engine fetches result pages for site adapters. Safe for concurrent use.
type Engine struct {
	client    *http.Client
	renderer  Renderer
	snapshots *Snapshotter
	log       logger.Interface
	cfg       Config
}

// NewEngine creates a fetch engine. renderer may be nil to disable the
// browser fallback; snapshots may be nil to disable diagnostics.
func NewEngine(cfg Config, renderer Renderer, snapshots *Snapshotter, log logger.Interface) *Engine {
	cfg = cfg.WithDefaults()
	return &Engine{
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		renderer:  renderer,
		snapshots: snapshots,
		log:       log.WithComponent("fetch"),
		cfg:       cfg,
	}
}

// FetchPage retrieves the page identified by token for the adapter and
// computes the next pagination token. The lightweight HTTP path runs
// first; when the adapter is flagged script-rendered, or the fetched
// markup yields zero elements for the adapter's card selector, the
// rendered-browser fallback takes over. Network failures are retried
// with bounded backoff and then surface as an error the caller treats as
// failed-but-non-fatal for the page.
func (e *Engine) FetchPage(ctx context.Context, adapter *sites.Adapter, token PageToken) (Result, error) {
	if token.Done {
		return Result{Next: token}, ErrPaginationDone
	}

	html, rendered, err := e.fetchHTML(ctx, adapter, token)
	if err != nil {
		e.snapshots.Capture(adapter.Key, token.Number, html)
		return Result{Next: PageToken{Number: token.Number, Done: true}}, err
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if parseErr != nil {
		e.snapshots.Capture(adapter.Key, token.Number, html)
		return Result{Next: PageToken{Number: token.Number, Done: true}},
			fmt.Errorf("parse page %d of %s: %w", token.Number, adapter.Key, parseErr)
	}

	next, nextErr := nextToken(adapter, token, doc)
	if nextErr != nil {
		next = PageToken{Number: token.Number, Done: true}
	}

	return Result{HTML: html, Next: next, Rendered: rendered}, nil
}

// fetchHTML picks the transport: plain HTTP first unless the adapter is
// flagged script-rendered, escalating to the renderer when the card
// selector finds nothing in the raw markup.
func (e *Engine) fetchHTML(ctx context.Context, adapter *sites.Adapter, token PageToken) (html string, rendered bool, err error) {
	if adapter.ScriptRendered {
		html, err = e.render(ctx, adapter, token)
		return html, true, err
	}

	html, err = e.fetchHTTP(ctx, adapter, token.URL)
	if err != nil {
		return "", false, err
	}

	if e.renderer != nil && !e.selectorMatches(html, adapter.Selectors.Card) {
		e.log.Debug("card selector empty in raw fetch, escalating to renderer",
			"site", adapter.Key, "page", token.Number)

		renderedHTML, renderErr := e.render(ctx, adapter, token)
		if renderErr != nil {
			// Keep the raw markup; discovery may still find something.
			e.log.Warn("render fallback failed", "site", adapter.Key, "error", renderErr)
			return html, false, nil
		}
		return renderedHTML, true, nil
	}

	return html, false, nil
}

// fetchHTTP performs the lightweight GET with bounded retry. Server
// errors and 429s retry; other non-2xx statuses fail immediately.
func (e *Engine) fetchHTTP(ctx context.Context, adapter *sites.Adapter, pageURL string) (string, error) {
	var body string

	op := func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
		if reqErr != nil {
			return Permanent(fmt.Errorf("create request: %w", reqErr))
		}

		userAgent := e.cfg.UserAgent
		if adapter.UserAgent != "" {
			userAgent = adapter.UserAgent
		}
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		for k, v := range adapter.Headers {
			req.Header.Set(k, v)
		}

		resp, doErr := e.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("http fetch: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode == statusTooManyReqs || resp.StatusCode >= statusServerErrLow {
			return fmt.Errorf("http status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return Permanent(fmt.Errorf("http status %d", resp.StatusCode))
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}

		body = string(data)
		return nil
	}

	if err := Retry(ctx, e.cfg.MaxAttempts, e.cfg.RetryBaseDelay, op); err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return body, nil
}

// render runs the browser fallback with the same retry discipline.
func (e *Engine) render(ctx context.Context, adapter *sites.Adapter, token PageToken) (string, error) {
	if e.renderer == nil {
		return "", fmt.Errorf("site %s needs rendering but no renderer is configured", adapter.Key)
	}

	var html string
	op := func() error {
		rendered, err := e.renderer.Render(ctx, token.URL)
		if err != nil {
			return err
		}
		html = rendered
		return nil
	}

	if err := Retry(ctx, e.cfg.MaxAttempts, e.cfg.RetryBaseDelay, op); err != nil {
		return "", fmt.Errorf("render %s page %d: %w", adapter.Key, token.Number, err)
	}
	return html, nil
}

// selectorMatches reports whether selector finds at least one element.
func (e *Engine) selectorMatches(html, selector string) bool {
	if selector == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}
