// Package channel implements consent.Channel transports to the controlling
// process: in-process callbacks, HTTP, NATS and a null channel.
//
// Every transport maps "nobody answered" to ErrNoResponse. The engine treats
// any query error as enabled, so a missing controller never blocks a run.
package channel

import (
	"context"
	"errors"

	"github.com/hazyhaar/consentclick/consent"
)

// ErrNoResponse reports that no controller answered a status query.
var ErrNoResponse = errors.New("channel: no response")

// None is a channel with no controller behind it.
type None struct{}

// QueryEnabled always fails with ErrNoResponse.
func (None) QueryEnabled(context.Context) (bool, error) { return false, ErrNoResponse }

// Notify drops the message.
func (None) Notify(context.Context, consent.Message) error { return nil }

// StatusFunc answers a status query.
type StatusFunc func(ctx context.Context) (bool, error)

// AcceptedFunc receives an acceptance notification.
type AcceptedFunc func(ctx context.Context) error

// Callback delivers both messages as Go function calls, for an engine
// embedded in the controlling process.
type Callback struct {
	onStatus   StatusFunc
	onAccepted AcceptedFunc
}

// NewCallback creates a Callback channel. A nil onStatus behaves as None;
// a nil onAccepted drops notifications.
func NewCallback(onStatus StatusFunc, onAccepted AcceptedFunc) *Callback {
	return &Callback{onStatus: onStatus, onAccepted: onAccepted}
}

func (c *Callback) QueryEnabled(ctx context.Context) (bool, error) {
	if c.onStatus == nil {
		return false, ErrNoResponse
	}
	return c.onStatus(ctx)
}

func (c *Callback) Notify(ctx context.Context, msg consent.Message) error {
	if c.onAccepted == nil || msg.Type != consent.MessageCookieAccepted {
		return nil
	}
	return c.onAccepted(ctx)
}
