// Package provider defines the chat-completion contract the orchestration
// loop consumes and the adapters that implement it.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/drok-bot/drok/internal/content"
)

// Provider is the interface for chat-completion clients.
type Provider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Modality is an output modality the model may produce.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
)

// Param describes one tool parameter.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ToolDeclaration describes a tool the model may call. Parameters form an
// object schema keyed by parameter name.
type ToolDeclaration struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  map[string]Param `json:"parameters"`
	Required    []string         `json:"required,omitempty"`
}

// Clone returns a deep copy of d.
func (d ToolDeclaration) Clone() ToolDeclaration {
	out := d
	if d.Parameters != nil {
		out.Parameters = make(map[string]Param, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	out.Required = append([]string(nil), d.Required...)
	return out
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Model             string
	History           []content.Turn
	SystemInstruction string
	Tools             []ToolDeclaration
	Modalities        []Modality
	// WebSearch enables the provider's built-in search grounding.
	WebSearch   bool
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	Media        []content.InlineMedia
	FinishReason string
	Usage        Usage
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into the receiver.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// ErrorKind classifies provider failures.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts, quota and server errors.
	KindTransient ErrorKind = iota
	// KindContentPolicy means the provider refused the prompt or the output
	// on safety grounds.
	KindContentPolicy
)

func (k ErrorKind) String() string {
	switch k {
	case KindContentPolicy:
		return "content_policy"
	default:
		return "transient"
	}
}

// Error is the structured error every adapter returns.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("provider %s (%s): %v", e.Kind, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("provider %s: %s", e.Kind, e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a KindTransient error.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// ContentPolicy builds a KindContentPolicy error.
func ContentPolicy(reason string) *Error {
	return &Error{Kind: KindContentPolicy, Reason: reason}
}

// KindOf returns the kind of err. Errors that are not *Error are transient.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
