// Package middleware provides a chain of interceptors between the
// orchestration loop and the chat provider. Middleware can inspect or
// transform requests before the call and responses after it.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drok-bot/drok/internal/provider"
)

// ChatMiddleware intercepts provider requests and/or responses.
type ChatMiddleware interface {
	// Name returns a short identifier for logging/metrics.
	Name() string
	// ProcessRequest is called before the provider call. It may modify the
	// request or return an error to abort.
	ProcessRequest(ctx context.Context, req *provider.ChatRequest, meta *RequestMeta) error
	// ProcessResponse is called after a successful provider call.
	ProcessResponse(ctx context.Context, req *provider.ChatRequest, resp *provider.ChatResponse, meta *RequestMeta) error
}

// RequestMeta carries mutable context through the chain.
type RequestMeta struct {
	ChannelKey  string
	TraceID     string
	Purpose     string // "orchestrate", or the tool making a nested call
	Iteration   int
	Tags        map[string]string
	Blocked     bool
	BlockReason string
	Usage       provider.Usage
	Elapsed     time.Duration
}

// NewRequestMeta creates a RequestMeta with initialized Tags map.
func NewRequestMeta(channelKey, purpose string) *RequestMeta {
	return &RequestMeta{
		ChannelKey: channelKey,
		Purpose:    purpose,
		Tags:       make(map[string]string),
	}
}

type metaKey struct{}

// WithMeta attaches meta to ctx so nested calls made through Chat inherit
// the channel and trace.
func WithMeta(ctx context.Context, meta *RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFrom returns the meta attached to ctx, if any.
func MetaFrom(ctx context.Context) (*RequestMeta, bool) {
	m, ok := ctx.Value(metaKey{}).(*RequestMeta)
	return m, ok
}

// Chain holds an ordered list of middleware and a provider.
// It runs pre-hooks in order, calls the provider, then runs post-hooks in order.
type Chain struct {
	Middlewares []ChatMiddleware
	Provider    provider.Provider
	// Timeout bounds every provider call. Zero means no extra bound.
	Timeout time.Duration
	// OnComplete is called after every provider call, successful or not.
	OnComplete func(meta *RequestMeta, err error)
}

// NewChain creates a chain with the given provider and no middleware.
func NewChain(prov provider.Provider, timeout time.Duration) *Chain {
	return &Chain{
		Provider: prov,
		Timeout:  timeout,
	}
}

// Use appends middleware to the chain.
func (c *Chain) Use(mw ...ChatMiddleware) {
	c.Middlewares = append(c.Middlewares, mw...)
}

// DefaultModel implements provider.Provider.
func (c *Chain) DefaultModel() string { return c.Provider.DefaultModel() }

// Chat implements provider.Provider. The meta is taken from ctx when present;
// nested calls get a copy so their purpose does not leak into the caller's.
func (c *Chain) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	meta := NewRequestMeta("", "")
	if parent, ok := MetaFrom(ctx); ok {
		meta.ChannelKey = parent.ChannelKey
		meta.TraceID = parent.TraceID
		meta.Purpose = parent.Purpose
		meta.Iteration = parent.Iteration
	}
	return c.Process(ctx, req, meta)
}

// Process runs the middleware chain: pre-hooks, provider call, post-hooks.
func (c *Chain) Process(ctx context.Context, req *provider.ChatRequest, meta *RequestMeta) (resp *provider.ChatResponse, err error) {
	if meta == nil {
		meta = NewRequestMeta("", "")
	}
	if meta.Tags == nil {
		meta.Tags = make(map[string]string)
	}
	start := time.Now()
	defer func() {
		meta.Elapsed = time.Since(start)
		if c.OnComplete != nil {
			c.OnComplete(meta, err)
		}
	}()

	// Run pre-hooks.
	for _, mw := range c.Middlewares {
		if err := mw.ProcessRequest(ctx, req, meta); err != nil {
			return nil, fmt.Errorf("middleware %s pre-hook: %w", mw.Name(), err)
		}
		if meta.Blocked {
			return nil, provider.ContentPolicy(fmt.Sprintf("blocked by %s: %s", mw.Name(), meta.BlockReason))
		}
	}

	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	resp, err = c.Provider.Chat(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && provider.KindOf(err) != provider.KindContentPolicy {
			return nil, &provider.Error{Kind: provider.KindTransient, Reason: "timeout", Err: err}
		}
		return nil, err
	}
	if resp == nil {
		return nil, provider.Transient(errors.New("provider returned no response"))
	}
	meta.Usage = resp.Usage

	// Run post-hooks.
	for _, mw := range c.Middlewares {
		if err := mw.ProcessResponse(ctx, req, resp, meta); err != nil {
			return nil, fmt.Errorf("middleware %s post-hook: %w", mw.Name(), err)
		}
	}
	return resp, nil
}
