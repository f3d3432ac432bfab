package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/consentclick/consent"
)

// Controller is the controlling-process side of the boundary: it owns the
// enabled toggle and counts acceptances. It answers all transports of this
// package.
type Controller struct {
	enabled  atomic.Bool
	accepted atomic.Int64
	logger   *slog.Logger
}

// NewController creates a Controller in the given state.
func NewController(enabled bool, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{logger: logger}
	c.enabled.Store(enabled)
	return c
}

// SetEnabled switches the feature on or off for future page loads.
func (c *Controller) SetEnabled(v bool) { c.enabled.Store(v) }

// Enabled reports the current toggle.
func (c *Controller) Enabled() bool { return c.enabled.Load() }

// Accepted returns the number of acceptances reported so far.
func (c *Controller) Accepted() int64 { return c.accepted.Load() }

func (c *Controller) record() {
	n := c.accepted.Add(1)
	c.logger.Info("channel: cookie accepted", "total", n)
}

// Callback returns an in-process channel bound to c.
func (c *Controller) Callback() *Callback {
	return NewCallback(
		func(context.Context) (bool, error) { return c.Enabled(), nil },
		func(context.Context) error { c.record(); return nil },
	)
}

// Routes mounts the HTTP side of the boundary:
//
//	GET  /status   -> {"enabled": bool}
//	PUT  /status   <- {"enabled": bool}
//	POST /events   <- {"type": "COOKIE_ACCEPTED"}
//	GET  /stats    -> {"accepted": n}
func (c *Controller) Routes(r chi.Router) {
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, consent.Status{Enabled: c.Enabled()})
	})
	r.Put("/status", func(w http.ResponseWriter, req *http.Request) {
		var st consent.Status
		if err := json.NewDecoder(req.Body).Decode(&st); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		c.SetEnabled(st.Enabled)
		writeJSON(w, http.StatusOK, st)
	})
	r.Post("/events", func(w http.ResponseWriter, req *http.Request) {
		var msg consent.Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		if msg.Type != consent.MessageCookieAccepted {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown message type"})
			return
		}
		c.record()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{"accepted": c.Accepted()})
	})
}

// Handler returns a standalone router for Routes.
func (c *Controller) Handler() http.Handler {
	r := chi.NewRouter()
	c.Routes(r)
	return r
}

// ServeNATS answers status requests and counts acceptances on the
// subjects of a NATS channel with the same prefix. Unsubscribe both
// subscriptions to stop.
func (c *Controller) ServeNATS(nc *nats.Conn, prefix string) ([]*nats.Subscription, error) {
	ch := NewNATS(nc, prefix)
	status, err := nc.Subscribe(ch.StatusSubject(), func(m *nats.Msg) {
		data, _ := json.Marshal(consent.Status{Enabled: c.Enabled()})
		if err := m.Respond(data); err != nil {
			c.logger.Warn("channel: nats respond", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	accepted, err := nc.Subscribe(ch.AcceptedSubject(), func(m *nats.Msg) {
		var msg consent.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil || msg.Type != consent.MessageCookieAccepted {
			return
		}
		c.record()
	})
	if err != nil {
		_ = status.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{status, accepted}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
