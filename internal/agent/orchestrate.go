package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/drok-bot/drok/internal/content"
	"github.com/drok-bot/drok/internal/provider"
	"github.com/drok-bot/drok/internal/provider/middleware"
	"github.com/drok-bot/drok/internal/tools"
)

// OutcomeKind says how a successful run ended.
type OutcomeKind string

const (
	OutcomeText  OutcomeKind = "text"
	OutcomeMedia OutcomeKind = "media"
)

// Result is the terminal output of a successful run, plus accounting that is
// filled in for failed runs too.
type Result struct {
	Kind       OutcomeKind
	Text       string
	Media      *content.InlineMedia
	Iterations int
	ToolCalls  []string
	TurnsAdded int
	Usage      provider.Usage
}

// Orchestrate drives the model for key until it produces text or media. The
// caller must already have appended the user turn and hold key's run lock.
//
// Only the first tool call of a response is serviced; any others, and any
// text sent alongside a call, are dropped.
func (l *Loop) Orchestrate(ctx context.Context, key string) (*Result, error) {
	res := &Result{}
	decls := l.tools.Declarations()
	traceID := TraceIDFrom(ctx)

	for i := 0; i < l.maxIterations; i++ {
		res.Iterations = i + 1

		meta := middleware.NewRequestMeta(key, "orchestrate")
		meta.TraceID = traceID
		meta.Iteration = i
		resp, err := l.provider.Chat(middleware.WithMeta(ctx, meta), &provider.ChatRequest{
			Model:             l.model,
			History:           l.history.Get(key),
			SystemInstruction: l.systemInstruction,
			Tools:             decls,
			Modalities:        []provider.Modality{provider.ModalityText},
			MaxTokens:         l.maxTokens,
			Temperature:       l.temperature,
		})
		if err != nil {
			return res, l.fail(key, res, err)
		}
		res.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) > 0 {
			call := resp.ToolCalls[0]
			if len(resp.ToolCalls) > 1 {
				slog.Debug("Discarding extra tool calls", "channel", key, "kept", call.Name, "dropped", len(resp.ToolCalls)-1)
			}
			done, err := l.dispatch(ctx, key, i, call, res)
			if err != nil || done {
				return res, err
			}
			continue
		}

		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return res, &RunError{Kind: ErrTransient, Iterations: res.Iterations, Err: errors.New("empty response")}
		}
		if err := l.commit(key, res, content.MustTurn(content.RoleModel, content.Text{Body: text})); err != nil {
			return res, err
		}
		res.Kind = OutcomeText
		res.Text = text
		return res, nil
	}

	slog.Warn("Orchestration loop limit reached", "channel", key, "iterations", l.maxIterations)
	return res, &RunError{Kind: ErrLoopLimitExceeded, Iterations: res.Iterations}
}

// dispatch services one tool call. It reports done when the run is over.
func (l *Loop) dispatch(ctx context.Context, key string, iteration int, call provider.ToolCall, res *Result) (bool, error) {
	if _, ok := l.tools.Lookup(call.Name); !ok {
		slog.Warn("Model requested unknown tool", "channel", key, "tool", call.Name)
		l.metrics.ToolDispatched(call.Name, "unknown")
		return true, &RunError{Kind: ErrUnknownTool, Iterations: res.Iterations, Err: fmt.Errorf("%w: %s", tools.ErrUnknownTool, call.Name)}
	}
	res.ToolCalls = append(res.ToolCalls, call.Name)

	meta := middleware.NewRequestMeta(key, call.Name)
	meta.TraceID = TraceIDFrom(ctx)
	meta.Iteration = iteration
	out, err := l.tools.Dispatch(middleware.WithMeta(ctx, meta), call.Name, call.Arguments, key)
	if err != nil {
		l.metrics.ToolDispatched(call.Name, "error")
		slog.Warn("Tool dispatch failed", "channel", key, "tool", call.Name, "error", err)
		return true, l.fail(key, res, err)
	}
	l.metrics.ToolDispatched(call.Name, "ok")

	switch o := out.(type) {
	case tools.Media:
		media := content.InlineMedia{MIMEType: o.MIMEType, Data: o.Data}
		if err := l.commit(key, res, content.MustTurn(content.RoleModel, media)); err != nil {
			return true, err
		}
		res.Kind = OutcomeMedia
		res.Media = &media
		return true, nil
	case tools.Answer:
		callTurn := content.MustTurn(content.RoleModel, content.ToolCall{Name: call.Name, Arguments: call.Arguments})
		resultTurn := content.MustTurn(content.RoleUser, content.ToolResult{Name: call.Name, Result: o.Text})
		if err := l.commit(key, res, callTurn, resultTurn); err != nil {
			return true, err
		}
		return false, nil
	default:
		return true, &RunError{Kind: ErrTransient, Iterations: res.Iterations, Err: fmt.Errorf("tool %s returned %T", call.Name, out)}
	}
}

func (l *Loop) commit(key string, res *Result, turns ...content.Turn) error {
	for _, t := range turns {
		if err := l.history.Append(key, t); err != nil {
			return &RunError{Kind: ErrTransient, Iterations: res.Iterations, Err: err}
		}
		res.TurnsAdded++
	}
	return nil
}

// fail classifies a provider or tool error. A content-policy rejection
// clears the channel's history; anything else leaves it as it is.
func (l *Loop) fail(key string, res *Result, err error) error {
	if provider.KindOf(err) == provider.KindContentPolicy {
		l.history.Clear(key)
		slog.Warn("Provider rejected content, history cleared", "channel", key, "error", err)
		return &RunError{Kind: ErrContentPolicy, Iterations: res.Iterations, Err: err}
	}
	return &RunError{Kind: ErrTransient, Iterations: res.Iterations, Err: err}
}
