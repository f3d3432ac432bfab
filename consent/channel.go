package consent

import "context"

// MessageType names a message crossing the messaging boundary.
type MessageType string

const (
	// MessageGetStatus asks the controlling process whether the feature is on.
	MessageGetStatus MessageType = "GET_STATUS"
	// MessageCookieAccepted reports one completed acceptance.
	MessageCookieAccepted MessageType = "COOKIE_ACCEPTED"
)

// Message is the wire form of an outbound message.
type Message struct {
	Type MessageType `json:"type"`
}

// Status is the wire form of a GET_STATUS reply.
type Status struct {
	Enabled bool `json:"enabled"`
}

// Channel is the boundary to the controlling process. The engine calls it
// twice at most per page: one status query at startup and one notification
// on acceptance. Any query error, including no reply, means enabled.
type Channel interface {
	QueryEnabled(ctx context.Context) (bool, error)
	Notify(ctx context.Context, msg Message) error
}
