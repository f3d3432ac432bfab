// Package service exposes the consent engine to other processes. Two
// operations are offered over HTTP and MCP alike: dismiss runs a full
// consent session on a URL in a live browser; inspect ranks the accept
// candidates of static HTML without acting on them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/consentclick/channel"
	"github.com/hazyhaar/consentclick/consent"
	"github.com/hazyhaar/consentclick/dom/htmldom"
	"github.com/hazyhaar/consentclick/internal/fetcher"
	"github.com/hazyhaar/consentclick/internal/shield"
	"github.com/hazyhaar/consentclick/kit"
)

var (
	// ErrInvalid marks a malformed request.
	ErrInvalid = errors.New("invalid request")
	// ErrUnavailable marks an operation whose backend is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// Dismisser runs one consent session on a page. *browser.Manager is the
// production implementation.
type Dismisser interface {
	Dismiss(ctx context.Context, pageURL string, cfg consent.Config) (consent.Result, error)
}

// Fetcher downloads a page for inspection.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*fetcher.Result, error)
}

// Consent is the consent service.
type Consent struct {
	engine      consent.Config
	pageTimeout time.Duration
	browser     Dismisser
	fetch       Fetcher
	ctrl        *channel.Controller
	blockLocal  bool
	logger      *slog.Logger

	dismiss kit.Endpoint
	inspect kit.Endpoint
}

// Option configures a Consent service.
type Option func(*Consent)

// WithBrowser enables dismiss.
func WithBrowser(d Dismisser) Option { return func(c *Consent) { c.browser = d } }

// WithFetcher enables inspect by URL.
func WithFetcher(f Fetcher) Option { return func(c *Consent) { c.fetch = f } }

// WithController exposes the controller toggle next to the service.
func WithController(ctrl *channel.Controller) Option { return func(c *Consent) { c.ctrl = ctrl } }

// WithPageTimeout bounds one dismiss call. Default: 45s.
func WithPageTimeout(d time.Duration) Option { return func(c *Consent) { c.pageTimeout = d } }

// WithBlockPrivate rejects URLs that target loopback or private networks.
func WithBlockPrivate(block bool) Option { return func(c *Consent) { c.blockLocal = block } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Consent) { c.logger = l } }

// New creates the service. engine is the template of every session: its
// Channel, Patterns and timings are shared, its RunID is ignored.
func New(engine consent.Config, opts ...Option) *Consent {
	c := &Consent{
		engine:      engine,
		pageTimeout: 45 * time.Second,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.engine.Patterns == nil {
		c.engine.Patterns = consent.DefaultPatterns
	}

	mw := func(name string) kit.Middleware {
		return kit.Chain(kit.RequestID(), kit.Logging(c.logger, name))
	}
	c.dismiss = mw("consent_dismiss")(func(ctx context.Context, req any) (any, error) {
		return c.Dismiss(ctx, req.(*DismissRequest))
	})
	c.inspect = mw("consent_inspect")(func(ctx context.Context, req any) (any, error) {
		return c.Inspect(ctx, req.(*InspectRequest))
	})
	return c
}

// DismissRequest asks for one consent session on URL.
type DismissRequest struct {
	URL string `json:"url"`
	// TimeoutMS shortens the page lifetime below the service default.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// DismissResponse is the session result for URL.
type DismissResponse struct {
	URL string `json:"url"`
	consent.Result
}

// Dismiss opens req.URL in the browser and runs a consent session on it.
func (c *Consent) Dismiss(ctx context.Context, req *DismissRequest) (*DismissResponse, error) {
	if c.browser == nil {
		return nil, fmt.Errorf("dismiss: no browser: %w", ErrUnavailable)
	}
	if err := c.checkURL(ctx, req.URL); err != nil {
		return nil, err
	}

	timeout := c.pageTimeout
	if d := time.Duration(req.TimeoutMS) * time.Millisecond; d > 0 && d < timeout {
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := c.engine
	cfg.RunID = ""
	cfg.Logger = c.logger.With("request_id", kit.GetRequestID(ctx))
	res, err := c.browser.Dismiss(ctx, req.URL, cfg)
	if err != nil {
		return nil, fmt.Errorf("dismiss %s: %w", req.URL, err)
	}
	return &DismissResponse{URL: req.URL, Result: res}, nil
}

// InspectRequest carries either a URL to fetch or inline HTML.
type InspectRequest struct {
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"`
}

// InspectResponse lists the ranked accept candidates of a page.
type InspectResponse struct {
	URL          string              `json:"url,omitempty"`
	CMPs         []string            `json:"cmps,omitempty"`
	NeedsBrowser bool                `json:"needs_browser"`
	Candidates   []consent.Candidate `json:"candidates"`
}

// Inspect ranks the accept candidates of the page without clicking.
func (c *Consent) Inspect(ctx context.Context, req *InspectRequest) (*InspectResponse, error) {
	var (
		page []byte
		resp InspectResponse
	)
	switch {
	case req.URL != "" && req.HTML != "":
		return nil, fmt.Errorf("inspect: url and html are exclusive: %w", ErrInvalid)
	case req.HTML != "":
		page = []byte(req.HTML)
		resp.CMPs, resp.NeedsBrowser = fetcher.Classify(page)
	case req.URL != "":
		if c.fetch == nil {
			return nil, fmt.Errorf("inspect: no fetcher: %w", ErrUnavailable)
		}
		if err := c.checkURL(ctx, req.URL); err != nil {
			return nil, err
		}
		fr, err := c.fetch.Fetch(ctx, req.URL)
		if err != nil {
			return nil, fmt.Errorf("inspect: %w", err)
		}
		page = fr.HTML
		resp.URL, resp.CMPs, resp.NeedsBrowser = fr.URL, fr.CMPs, fr.NeedsBrowser
	default:
		return nil, fmt.Errorf("inspect: url or html required: %w", ErrInvalid)
	}

	doc, err := htmldom.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, fmt.Errorf("inspect: parse: %w", err)
	}
	resp.Candidates = c.engine.Patterns.Inspect(doc, c.logger)
	if resp.Candidates == nil {
		resp.Candidates = []consent.Candidate{}
	}
	return &resp, nil
}

func (c *Consent) checkURL(ctx context.Context, raw string) error {
	if c.blockLocal {
		if err := shield.CheckURL(ctx, raw); err != nil {
			return fmt.Errorf("url %q: %w: %w", raw, ErrInvalid, err)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q: want absolute http(s): %w", raw, ErrInvalid)
	}
	return nil
}
