// Package bus provides the async message bus between platform channels and
// the orchestration loop.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/drok-bot/drok/internal/content"
)

// ActionKind says what an outbound action does on the platform.
type ActionKind int

const (
	ActionText ActionKind = iota
	ActionMedia
	ActionTyping
)

func (k ActionKind) String() string {
	switch k {
	case ActionMedia:
		return "media"
	case ActionTyping:
		return "typing"
	default:
		return "text"
	}
}

// Action is a reply the core asks a channel to perform.
type Action struct {
	Kind  ActionKind
	Text  string
	Media *content.InlineMedia
}

// TextAction builds a text reply.
func TextAction(text string) *Action {
	return &Action{Kind: ActionText, Text: text}
}

// MediaAction builds a binary attachment reply.
func MediaAction(m content.InlineMedia) *Action {
	return &Action{Kind: ActionMedia, Media: &m}
}

// InboundMessage represents a message from a channel to the core.
type InboundMessage struct {
	Raw       content.RawMessage
	Timestamp time.Time
}

// OutboundMessage represents an action from the core to a channel.
type OutboundMessage struct {
	Channel    string
	ChannelKey string
	ChatID     string
	// ReplyTo is the platform message id the action answers, if any.
	ReplyTo string
	TraceID string
	Action  Action
}

// MessageBus decouples channels from the core.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the core. It blocks while
// the queue is full, until ctx ends.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends an action from the core to channels.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg *OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
