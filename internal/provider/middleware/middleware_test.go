package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drok-bot/drok/internal/provider"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	response *provider.ChatResponse
	err      error
	delay    time.Duration
	called   bool
}

func (m *mockProvider) Chat(ctx context.Context, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	m.called = true
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.response, m.err
}

func (m *mockProvider) DefaultModel() string { return "mock-model" }

// tagMiddleware sets a tag in ProcessRequest and reads response in ProcessResponse.
type tagMiddleware struct {
	block    bool
	postSeen bool
}

func (t *tagMiddleware) Name() string { return "tagger" }
func (t *tagMiddleware) ProcessRequest(_ context.Context, _ *provider.ChatRequest, meta *RequestMeta) error {
	meta.Tags["seen"] = "yes"
	if t.block {
		meta.Blocked = true
		meta.BlockReason = "test"
	}
	return nil
}
func (t *tagMiddleware) ProcessResponse(_ context.Context, _ *provider.ChatRequest, _ *provider.ChatResponse, meta *RequestMeta) error {
	t.postSeen = meta.Tags["seen"] == "yes"
	return nil
}

func TestChainPassthrough(t *testing.T) {
	mock := &mockProvider{response: &provider.ChatResponse{Text: "hello", Usage: provider.Usage{TotalTokens: 3}}}
	chain := NewChain(mock, 0)
	tag := &tagMiddleware{}
	chain.Use(tag)

	var completed *RequestMeta
	chain.OnComplete = func(meta *RequestMeta, err error) { completed = meta }

	meta := NewRequestMeta("slack:C1", "orchestrate")
	resp, err := chain.Process(context.Background(), &provider.ChatRequest{}, meta)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("expected 'hello', got %q", resp.Text)
	}
	if !tag.postSeen {
		t.Error("post-hook did not see pre-hook tag")
	}
	if completed != meta || meta.Usage.TotalTokens != 3 {
		t.Errorf("expected OnComplete with usage, got %+v", completed)
	}
}

func TestChainBlocked(t *testing.T) {
	mock := &mockProvider{response: &provider.ChatResponse{Text: "hello"}}
	chain := NewChain(mock, 0)
	chain.Use(&tagMiddleware{block: true})

	_, err := chain.Process(context.Background(), &provider.ChatRequest{}, nil)
	if provider.KindOf(err) != provider.KindContentPolicy {
		t.Fatalf("expected content policy error, got %v", err)
	}
	if mock.called {
		t.Error("provider must not be called when blocked")
	}
}

func TestChainTimeoutIsTransient(t *testing.T) {
	mock := &mockProvider{response: &provider.ChatResponse{Text: "late"}, delay: time.Second}
	chain := NewChain(mock, 20*time.Millisecond)

	_, err := chain.Chat(context.Background(), &provider.ChatRequest{})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindTransient || pe.Reason != "timeout" {
		t.Fatalf("expected transient timeout, got %v", err)
	}
}

func TestChainChatInheritsMeta(t *testing.T) {
	mock := &mockProvider{response: &provider.ChatResponse{Text: "ok"}}
	chain := NewChain(mock, 0)
	var got *RequestMeta
	chain.OnComplete = func(meta *RequestMeta, _ error) { got = meta }

	parent := NewRequestMeta("wa:123", "generate_image")
	parent.TraceID = "trace-1"
	if _, err := chain.Chat(WithMeta(context.Background(), parent), &provider.ChatRequest{}); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got == parent {
		t.Fatal("nested call must not reuse the parent meta")
	}
	if got.ChannelKey != "wa:123" || got.TraceID != "trace-1" || got.Purpose != "generate_image" {
		t.Fatalf("meta not inherited: %+v", got)
	}
	if chain.DefaultModel() != "mock-model" {
		t.Fatalf("unexpected default model %q", chain.DefaultModel())
	}
}

func TestChainNilResponse(t *testing.T) {
	chain := NewChain(&mockProvider{}, 0)
	if _, err := chain.Process(context.Background(), &provider.ChatRequest{}, nil); err == nil {
		t.Fatal("expected error for nil response")
	}
}

func TestMentionGuard(t *testing.T) {
	g := NewMentionGuard(nil)
	resp := &provider.ChatResponse{Text: "hey @everyone and <!channel>, also @here"}
	meta := NewRequestMeta("", "")
	if err := g.ProcessResponse(context.Background(), &provider.ChatRequest{}, resp, meta); err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if resp.Text != "hey everyone and channel, also here" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if meta.Tags["mentions_defused"] != "true" {
		t.Error("expected tag to be set")
	}
	if g.Sanitize("plain") != "plain" {
		t.Error("plain text must be unchanged")
	}
}

func TestUsageLoggerTotals(t *testing.T) {
	u := NewUsageLogger()
	meta := NewRequestMeta("c", "orchestrate")
	for i := 0; i < 3; i++ {
		_ = u.ProcessResponse(context.Background(), &provider.ChatRequest{},
			&provider.ChatResponse{Usage: provider.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3}}, meta)
	}
	totals, calls := u.Totals()
	if calls != 3 || totals.TotalTokens != 9 {
		t.Fatalf("unexpected totals %+v calls=%d", totals, calls)
	}
}
