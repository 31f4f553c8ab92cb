// Package agent implements the orchestration loop that turns inbound
// messages into model answers, tool dispatches and replies.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/content"
	"github.com/drok-bot/drok/internal/history"
	"github.com/drok-bot/drok/internal/metrics"
	"github.com/drok-bot/drok/internal/provider"
	"github.com/drok-bot/drok/internal/timeline"
	"github.com/drok-bot/drok/internal/tools"
)

// DefaultMaxIterations bounds provider round trips per run.
const DefaultMaxIterations = 8

// RunJournal stores one record per orchestration run.
type RunJournal interface {
	RecordRun(ctx context.Context, run *timeline.Run) error
}

// TracePublisher ships run spans to an external sink.
type TracePublisher interface {
	Active() bool
	Publish(ctx context.Context, key string, payload any) error
}

// LoopOptions contains configuration for the orchestration loop.
type LoopOptions struct {
	Bus       *bus.MessageBus
	Provider  provider.Provider
	History   *history.Store
	Tools     *tools.Registry
	Formatter *content.Formatter
	Journal   RunJournal
	Traces    TracePublisher
	Metrics   *metrics.Metrics

	Model             string
	SystemInstruction string
	MaxIterations     int
	MaxTokens         int
	Temperature       float64
	// RequireMention limits runs to messages that address the bot or arrive
	// in a direct conversation. Other messages are only recorded.
	RequireMention bool
}

// Loop is the core processing engine.
type Loop struct {
	bus               *bus.MessageBus
	provider          provider.Provider
	history           *history.Store
	tools             *tools.Registry
	formatter         *content.Formatter
	journal           RunJournal
	traces            TracePublisher
	metrics           *metrics.Metrics
	model             string
	systemInstruction string
	maxIterations     int
	maxTokens         int
	temperature       float64
	requireMention    bool
	wg                sync.WaitGroup
	publishes         sync.WaitGroup
}

// NewLoop creates a new orchestration loop.
func NewLoop(opts LoopOptions) *Loop {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	hist := opts.History
	if hist == nil {
		hist = history.New(history.Options{})
	}
	registry := opts.Tools
	if registry == nil {
		registry = tools.NewRegistry()
	}
	formatter := opts.Formatter
	if formatter == nil {
		formatter = content.NewFormatter(content.FormatterOptions{})
	}
	return &Loop{
		bus:               opts.Bus,
		provider:          opts.Provider,
		history:           hist,
		tools:             registry,
		formatter:         formatter,
		journal:           opts.Journal,
		traces:            opts.Traces,
		metrics:           opts.Metrics,
		model:             opts.Model,
		systemInstruction: opts.SystemInstruction,
		maxIterations:     maxIter,
		maxTokens:         opts.MaxTokens,
		temperature:       opts.Temperature,
		requireMention:    opts.RequireMention,
	}
}

// History returns the store the loop writes to.
func (l *Loop) History() *history.Store { return l.history }

// Run consumes inbound messages until ctx ends. Each message is handled in
// its own goroutine; runs for the same channel serialize on the history lock.
func (l *Loop) Run(ctx context.Context) error {
	if l.bus == nil {
		return fmt.Errorf("agent loop has no message bus")
	}
	slog.Info("Agent loop started", "model", l.model, "max_iterations", l.maxIterations, "tools", l.tools.Names())
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.Wait()
				return nil
			}
			slog.Error("Failed to consume message", "error", err)
			continue
		}
		l.wg.Add(1)
		go func(raw content.RawMessage) {
			defer l.wg.Done()
			l.handleInbound(ctx, raw)
		}(msg.Raw)
	}
}

func (l *Loop) handleInbound(ctx context.Context, raw content.RawMessage) {
	action, traceID, err := l.process(ctx, raw)
	if err != nil {
		slog.Error("Failed to process message", "channel", raw.ChannelKey, "trace_id", traceID, "kind", ErrorKind(err), "error", err)
	}
	if action == nil {
		return
	}
	l.publish(ctx, raw, traceID, *action)
}

func (l *Loop) publish(ctx context.Context, raw content.RawMessage, traceID string, action bus.Action) {
	if l.bus == nil {
		return
	}
	err := l.bus.PublishOutbound(ctx, &bus.OutboundMessage{
		Channel:    raw.Platform,
		ChannelKey: channelKey(raw),
		ChatID:     raw.ChatID,
		ReplyTo:    raw.MessageID,
		TraceID:    traceID,
		Action:     action,
	})
	if err != nil {
		slog.Warn("Failed to publish outbound", "channel", raw.ChannelKey, "kind", action.Kind, "error", err)
	}
}

// OnMessage handles one inbound platform message: it records the message in
// history and, when the bot is addressed, runs the orchestration loop. The
// returned action is nil when nothing should be sent. A non-nil error always
// carries one of the run error kinds; the action is still the reply to send.
func (l *Loop) OnMessage(ctx context.Context, raw content.RawMessage) (*bus.Action, error) {
	action, _, err := l.process(ctx, raw)
	return action, err
}

func (l *Loop) process(ctx context.Context, raw content.RawMessage) (*bus.Action, string, error) {
	if raw.Author.IsBot || raw.Author.IsSelf {
		return nil, "", nil
	}
	key := channelKey(raw)

	unlock, err := l.history.Lock(ctx, key)
	if err != nil {
		return nil, "", &RunError{Kind: ErrTransient, Err: err}
	}
	defer unlock()

	formatted, err := l.formatter.Format(ctx, raw)
	if err != nil {
		return nil, "", &RunError{Kind: ErrTransient, Err: fmt.Errorf("format message: %w", err)}
	}
	if formatted.Prior != nil {
		if err := l.history.Append(key, *formatted.Prior); err != nil {
			return nil, "", &RunError{Kind: ErrTransient, Err: err}
		}
	}
	if err := l.history.Append(key, formatted.Current); err != nil {
		return nil, "", &RunError{Kind: ErrTransient, Err: err}
	}

	if l.requireMention && !raw.Mentioned && !raw.Direct {
		slog.Debug("Recorded message without mention", "channel", key, "sender", raw.Author.ID)
		return nil, "", nil
	}

	traceID := uuid.NewString()
	ctx = WithTraceID(ctx, traceID)
	l.publish(ctx, raw, traceID, bus.Action{Kind: bus.ActionTyping})

	started := time.Now()
	slog.Info("Orchestration run started", "channel", key, "trace_id", traceID, "sender", raw.Author.ID)
	res, err := l.Orchestrate(ctx, key)
	l.finishRun(ctx, raw, traceID, started, res, err)
	return actionFor(res, err), traceID, err
}

func (l *Loop) finishRun(ctx context.Context, raw content.RawMessage, traceID string, started time.Time, res *Result, runErr error) {
	if res == nil {
		res = &Result{}
	}
	finished := time.Now()
	outcome := string(res.Kind)
	status := "ok"
	if runErr != nil {
		outcome = "none"
		status = "error"
	}
	kind := ErrorKind(runErr)

	slog.Info("Orchestration run finished",
		"channel", channelKey(raw),
		"trace_id", traceID,
		"outcome", outcome,
		"error_kind", kind,
		"iterations", res.Iterations,
		"tokens", res.Usage.TotalTokens,
		"duration_ms", finished.Sub(started).Milliseconds())

	l.metrics.RunFinished(outcome, kind, finished.Sub(started))

	run := &timeline.Run{
		TraceID:          traceID,
		ChannelKey:       channelKey(raw),
		Platform:         raw.Platform,
		SenderID:         raw.Author.ID,
		SenderName:       raw.Author.DisplayName,
		MessageID:        raw.MessageID,
		Status:           status,
		Outcome:          outcome,
		ErrorKind:        kind,
		Iterations:       res.Iterations,
		ToolCalls:        strings.Join(res.ToolCalls, ","),
		TurnsAdded:       res.TurnsAdded,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		Reply:            truncateStr(res.Text, 2048),
		StartedAt:        started,
		FinishedAt:       finished,
	}
	if runErr != nil {
		run.Error = truncateStr(runErr.Error(), 1024)
	}
	if l.journal != nil {
		if err := l.journal.RecordRun(ctx, run); err != nil {
			slog.Warn("Failed to record run", "trace_id", traceID, "error", err)
		}
	}
	if l.traces != nil && l.traces.Active() {
		l.publishes.Add(1)
		go func() {
			defer l.publishes.Done()
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := l.traces.Publish(pubCtx, run.ChannelKey, run); err != nil {
				slog.Debug("Trace publish failed", "trace_id", run.TraceID, "error", err)
			}
		}()
	}
}

// Wait blocks until in-flight runs and their trace publishes finish.
func (l *Loop) Wait() {
	l.wg.Wait()
	l.publishes.Wait()
}

// SessionKey builds a channel key from platform and chat ID.
func SessionKey(platform, chatID string) string {
	return strings.Join([]string{platform, chatID}, ":")
}

func channelKey(raw content.RawMessage) string {
	if raw.ChannelKey != "" {
		return raw.ChannelKey
	}
	return SessionKey(raw.Platform, raw.ChatID)
}

type traceKey struct{}

// WithTraceID attaches a run trace id to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFrom returns the trace id attached to ctx, or "".
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// truncateStr cuts s to at most maxLen bytes on a rune boundary.
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
