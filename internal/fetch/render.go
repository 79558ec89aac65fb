package fetch

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
)

// Renderer produces fully rendered HTML for script-generated pages.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Rendering timing constants. Listing grids lazy-load on scroll, so the
// renderer settles, scrolls half way, then to the bottom before reading
// the DOM.
const (
	renderSettleDelay = 4 * time.Second
	renderScrollDelay = 2 * time.Second
	renderTimeout     = 90 * time.Second
)

// chromeBinaries are probed in order when no explicit path is configured.
var chromeBinaries = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
}

// ChromeRenderer renders pages in headless Chrome via chromedp.
type ChromeRenderer struct {
	execPath  string
	userAgent string
}

// NewChromeRenderer creates a renderer. execPath may be empty; the
// renderer then probes common browser binaries.
func NewChromeRenderer(execPath, userAgent string) *ChromeRenderer {
	if execPath == "" {
		execPath = findChromeBinary()
	}
	return &ChromeRenderer{execPath: execPath, userAgent: userAgent}
}

// Render navigates to pageURL in a fresh tab, performs scroll-triggered
// lazy-load expansion, and returns the resulting outer HTML.
func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.userAgent))
	}
	if r.execPath != "" {
		opts = append(opts, chromedp.ExecPath(r.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, renderTimeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(renderSettleDelay),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(renderScrollDelay),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(renderScrollDelay),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}

	return html, nil
}

// findChromeBinary returns the first available browser binary, or empty
// to let chromedp use its own default.
func findChromeBinary() string {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
