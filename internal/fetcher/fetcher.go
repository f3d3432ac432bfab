// Package fetcher is the browserless acquisition path: one HTTP GET whose
// body feeds an offline consent inspection, plus a signal telling whether
// a live browser run is needed to see the banner at all.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Result is the outcome of an HTTP fetch.
type Result struct {
	URL        string   `json:"url"`
	StatusCode int      `json:"status_code"`
	HTML       []byte   `json:"-"`
	CMPs       []string `json:"cmps,omitempty"`
	// NeedsBrowser is true when the banner is likely script-rendered, so
	// inspecting the raw HTML would miss it.
	NeedsBrowser bool `json:"needs_browser"`
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client  *http.Client
	ua      string
	maxBody int64
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with defaults: 30s timeout, 10MB body cap.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		ua:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		maxBody: 10 << 20,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and classifies the body.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetcher: %s: status %d", pageURL, resp.StatusCode)
	}

	res := &Result{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       body,
	}
	res.CMPs, res.NeedsBrowser = Classify(body)

	f.logger.Debug("fetcher: fetched",
		"url", pageURL, "status", resp.StatusCode, "size", len(body),
		"cmps", res.CMPs, "needs_browser", res.NeedsBrowser)
	return res, nil
}

// Classify lists the consent platforms loaded by page and reports whether
// a browser is needed to render its banner. Unparseable input needs one.
func Classify(page []byte) (cmps []string, needsBrowser bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, true
	}
	cmps = DetectCMPs(doc)
	return cmps, len(cmps) > 0 || IsShell(doc)
}
