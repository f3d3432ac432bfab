package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/consentclick/consent"
)

// NATS talks to a controller over NATS: a request on <prefix>.status and
// a publish on <prefix>.accepted.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

// NewNATS creates a NATS channel. prefix defaults to "consent".
func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = "consent"
	}
	return &NATS{nc: nc, prefix: prefix}
}

// StatusSubject is the request subject for status queries.
func (n *NATS) StatusSubject() string { return n.prefix + ".status" }

// AcceptedSubject is the publish subject for acceptance notifications.
func (n *NATS) AcceptedSubject() string { return n.prefix + ".accepted" }

func (n *NATS) QueryEnabled(ctx context.Context) (bool, error) {
	req, _ := json.Marshal(consent.Message{Type: consent.MessageGetStatus})
	msg, err := n.nc.RequestWithContext(ctx, n.StatusSubject(), req)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		return false, fmt.Errorf("channel: nats request: %w", err)
	}
	var st consent.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		return false, fmt.Errorf("channel: decode status: %w", err)
	}
	return st.Enabled, nil
}

func (n *NATS) Notify(ctx context.Context, msg consent.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("channel: marshal: %w", err)
	}
	if err := n.nc.Publish(n.AcceptedSubject(), data); err != nil {
		return fmt.Errorf("channel: nats publish: %w", err)
	}
	return nil
}
