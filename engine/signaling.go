package engine

import (
	"context"
	"time"
)

// InboundMessage is a chat message received from the network.
type InboundMessage struct {
	CallID      string
	From        string
	To          string
	Subject     string
	ContentType string
	Body        []byte
}

// OutboundMessage is a chat message to send.
type OutboundMessage struct {
	ID          string
	From        string
	To          string
	ContentType string
	Body        []byte
}

// InboundCall is a call attempt received from the network.
// The user agent never answers calls, they are logged as missed.
type InboundCall struct {
	CallID string
	From   string
	To     string
}

// InboundHandlers consume inbound requests. A non-nil error
// makes the signaling reject the request with a server error.
type InboundHandlers struct {
	Message func(ctx context.Context, msg *InboundMessage) error
	Call    func(ctx context.Context, call *InboundCall) error
}

// Signaling is the network side of the user agent.
type Signaling interface {
	// Start opens the transports and serves inbound requests until ctx is done
	// or Close is called. It returns once the transports are bound.
	Start(ctx context.Context, h InboundHandlers) error
	// Register refreshes the registration binding. Zero expires removes it.
	Register(ctx context.Context, expires time.Duration) error
	// Send sends the message and waits for the final response.
	Send(ctx context.Context, msg *OutboundMessage) error
	// Close releases the transports. It is safe to call multiple times.
	Close() error
}
