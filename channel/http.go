package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/consentclick/consent"
)

// HTTP talks to a controller over HTTP: GET {base}/status for the status
// query and POST {base}/events for notifications, retried with exponential
// backoff.
type HTTP struct {
	base       string
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// HTTPOption configures an HTTP channel.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHTTPRetries sets the maximum number of notification retries. Default: 3.
func WithHTTPRetries(n int) HTTPOption {
	return func(h *HTTP) { h.maxRetries = n }
}

// WithHTTPLogger sets a custom logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP creates an HTTP channel rooted at base.
func NewHTTP(base string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:       strings.TrimRight(base, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// QueryEnabled makes a single attempt: the engine fails open, so there is
// nothing to gain from retrying inside its query timeout.
func (h *HTTP) QueryEnabled(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/status", nil)
	if err != nil {
		return false, fmt.Errorf("channel: new request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrNoResponse, resp.StatusCode)
	}
	var st consent.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&st); err != nil {
		return false, fmt.Errorf("channel: decode status: %w", err)
	}
	return st.Enabled, nil
}

func (h *HTTP) Notify(ctx context.Context, msg consent.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("channel: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/events", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("channel: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			h.logger.Warn("channel: notify failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("channel: status %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
		h.logger.Warn("channel: notify bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("channel: all retries exhausted: %w", lastErr)
}
