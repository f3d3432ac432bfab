package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/consentclick/dom/roddom"
)

// Tab is a page with the consent bridge installed. The Doc is created on
// the blank tab, so it sees every event of the next navigation.
type Tab struct {
	Page *rod.Page
	Doc  *roddom.Document
	URL  string

	mgr    *Manager
	closed bool
}

// OpenTab creates a blank tab with stealth and resource blocking applied.
// The tab holds off recycling until Close.
func (m *Manager) OpenTab(ctx context.Context) (*Tab, error) {
	m.inUse.RLock()
	b := m.Browser()
	if b == nil {
		m.inUse.RUnlock()
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.DisableStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		m.inUse.RUnlock()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, m.cfg.ResourceBlocking)
	}

	doc, err := roddom.New(ctx, page, m.cfg.Logger)
	if err != nil {
		_ = page.Close()
		m.inUse.RUnlock()
		return nil, fmt.Errorf("browser: bind tab: %w", err)
	}
	return &Tab{Page: page, Doc: doc, mgr: m}, nil
}

// Navigate loads pageURL. It returns once the navigation committed, before
// the load event, so a session started afterwards still sees it.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.mgr.cfg.NavigateTimeout)
	defer cancel()
	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	t.URL = pageURL
	return nil
}

// Close closes the tab and releases it for recycling.
func (t *Tab) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.Doc.Close()
	err := t.Page.Close()
	t.mgr.inUse.RUnlock()
	return err
}
