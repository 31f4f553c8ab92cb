package middleware

import (
	"context"
	"log/slog"
	"sync"

	"github.com/drok-bot/drok/internal/provider"
)

// UsageLogger logs token accounting for every provider call and keeps
// process-wide totals.
type UsageLogger struct {
	mu     sync.Mutex
	totals provider.Usage
	calls  int
}

// NewUsageLogger creates a usage logger.
func NewUsageLogger() *UsageLogger {
	return &UsageLogger{}
}

func (u *UsageLogger) Name() string { return "usage" }

func (u *UsageLogger) ProcessRequest(_ context.Context, _ *provider.ChatRequest, _ *RequestMeta) error {
	return nil
}

func (u *UsageLogger) ProcessResponse(_ context.Context, req *provider.ChatRequest, resp *provider.ChatResponse, meta *RequestMeta) error {
	u.mu.Lock()
	u.totals.Add(resp.Usage)
	u.calls++
	u.mu.Unlock()

	slog.Debug("Provider usage",
		"channel", meta.ChannelKey,
		"trace_id", meta.TraceID,
		"purpose", meta.Purpose,
		"model", req.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens)
	return nil
}

// Totals returns the accumulated usage and number of calls.
func (u *UsageLogger) Totals() (provider.Usage, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totals, u.calls
}
