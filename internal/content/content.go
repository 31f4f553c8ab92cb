// Package content defines the conversation data model (turns and their parts)
// and the formatter that turns raw platform messages into turns.
package content

import (
	"errors"
	"fmt"
)

// ErrEmptyTurn is returned when a turn would be built with no parts.
var ErrEmptyTurn = errors.New("turn has no parts")

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one unit of turn content. The set of implementations is closed:
// Text, InlineMedia, ToolCall and ToolResult.
type Part interface {
	isPart()
}

// Text is plain text content.
type Text struct {
	Body string
}

// InlineMedia is binary media carried inside a turn. Data must not be
// modified once the part has been handed to a turn.
type InlineMedia struct {
	MIMEType string
	Data     []byte
}

// ToolCall echoes a tool invocation requested by the model.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ToolResult wraps the value a tool produced for the model.
type ToolResult struct {
	Name   string
	Result any
}

func (Text) isPart()        {}
func (InlineMedia) isPart() {}
func (ToolCall) isPart()    {}
func (ToolResult) isPart()  {}

// Turn is an immutable, non-empty sequence of parts tagged with a role.
type Turn struct {
	role  Role
	parts []Part
}

// NewTurn builds a turn. It fails with ErrEmptyTurn when no parts are given.
func NewTurn(role Role, parts ...Part) (Turn, error) {
	if role != RoleUser && role != RoleModel {
		return Turn{}, fmt.Errorf("unknown role %q", role)
	}
	if len(parts) == 0 {
		return Turn{}, ErrEmptyTurn
	}
	for i, p := range parts {
		if p == nil {
			return Turn{}, fmt.Errorf("part %d is nil", i)
		}
	}
	cp := make([]Part, len(parts))
	copy(cp, parts)
	return Turn{role: role, parts: cp}, nil
}

// MustTurn is NewTurn for static construction; it panics on error.
func MustTurn(role Role, parts ...Part) Turn {
	t, err := NewTurn(role, parts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Role returns the turn's role.
func (t Turn) Role() Role { return t.role }

// Parts returns a copy of the turn's parts.
func (t Turn) Parts() []Part {
	cp := make([]Part, len(t.parts))
	copy(cp, t.parts)
	return cp
}

// Len returns the number of parts.
func (t Turn) Len() int { return len(t.parts) }

// IsZero reports whether t was never built through NewTurn.
func (t Turn) IsZero() bool { return len(t.parts) == 0 }

// Text returns the concatenated bodies of all Text parts.
func (t Turn) Text() string {
	var out string
	for _, p := range t.parts {
		if tx, ok := p.(Text); ok {
			out += tx.Body
		}
	}
	return out
}

// Author identifies who wrote a raw message.
type Author struct {
	ID          string
	DisplayName string
	// IsSelf is set when the author is this bot.
	IsSelf bool
	// IsBot is set for any automated author, including this bot.
	IsBot bool
}

// Attachment describes a file attached to a raw message. Bytes are fetched
// on demand by a Fetcher registered for Source.
type Attachment struct {
	ID       string
	Source   string
	URL      string
	MIMEType string
	Name     string
}

// Reference points at another message the raw message replies to.
type Reference struct {
	Platform  string
	ChatID    string
	MessageID string
}

// Key returns a stable identifier for caching.
func (r Reference) Key() string {
	return r.Platform + "/" + r.ChatID + "/" + r.MessageID
}

// RawMessage is an inbound platform message before formatting.
type RawMessage struct {
	Platform    string
	ChannelKey  string
	ChatID      string
	MessageID   string
	Author      Author
	Text        string
	Attachments []Attachment
	Reference   *Reference
	// SelfMention is the literal token the platform uses to mention the bot
	// (for example "<@U024BE7LH>" on Slack).
	SelfMention string
	// Mentioned is set when the message addresses the bot.
	Mentioned bool
	// Direct is set for one-to-one conversations.
	Direct bool
}
