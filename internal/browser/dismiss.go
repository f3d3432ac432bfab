package browser

import (
	"context"

	"github.com/hazyhaar/consentclick/consent"
)

// Dismiss opens pageURL in a fresh tab and runs one consent session on it.
// ctx is the page lifetime: the session ends on acceptance, on a disabled
// reply, or when ctx is done.
func (m *Manager) Dismiss(ctx context.Context, pageURL string, cfg consent.Config) (consent.Result, error) {
	tab, err := m.OpenTab(ctx)
	if err != nil {
		return consent.Result{}, err
	}
	defer tab.Close()

	if err := tab.Navigate(ctx, pageURL); err != nil {
		return consent.Result{}, err
	}
	if cfg.Logger == nil {
		cfg.Logger = m.cfg.Logger
	}
	cfg.Logger = cfg.Logger.With("url", pageURL)
	return consent.Run(ctx, tab.Doc, cfg), nil
}
