// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"

	"github.com/drok-bot/drok/internal/bus"
)

// Channel defines the interface for chat platforms (Slack, WhatsApp, etc).
type Channel interface {
	// Name returns the platform name (e.g. "slack").
	Name() string
	// Start connects to the platform and begins publishing inbound messages.
	Start(ctx context.Context) error
	// Stop disconnects from the platform.
	Stop() error
	// Send delivers one outbound action to a chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}
