package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/drok-bot/drok/internal/content"
	"github.com/drok-bot/drok/internal/history"
	"github.com/drok-bot/drok/internal/provider"
	"github.com/drok-bot/drok/internal/timeline"
	"github.com/drok-bot/drok/internal/tools"
)

// scriptedProvider replays canned responses in order and records requests.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptStep
	requests  []*provider.ChatRequest
	repeat    *scriptStep
}

type scriptStep struct {
	resp *provider.ChatResponse
	err  error
}

func (p *scriptedProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		if p.repeat != nil {
			return p.repeat.resp, p.repeat.err
		}
		return nil, errors.New("script exhausted")
	}
	step := p.responses[0]
	p.responses = p.responses[1:]
	return step.resp, step.err
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textStep(s string) scriptStep {
	return scriptStep{resp: &provider.ChatResponse{Text: s, Usage: provider.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}}
}

func callStep(name string, args map[string]any) scriptStep {
	return scriptStep{resp: &provider.ChatResponse{ToolCalls: []provider.ToolCall{{Name: name, Arguments: args}}}}
}

type stubTool struct {
	name  string
	out   tools.Outcome
	err   error
	calls int
	args  map[string]any
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Declaration() tools.Declaration {
	return tools.Declaration{Name: s.name, Description: "stub", Parameters: map[string]tools.Param{"q": {Type: "string"}}}
}

func (s *stubTool) Execute(_ context.Context, args map[string]any, _ string) (tools.Outcome, error) {
	s.calls++
	s.args = args
	return s.out, s.err
}

type memJournal struct {
	mu   sync.Mutex
	runs []*timeline.Run
}

func (j *memJournal) RecordRun(_ context.Context, run *timeline.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, run)
	return nil
}

func newTestLoop(t *testing.T, prov provider.Provider, ts ...tools.Tool) (*Loop, *memJournal) {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range ts {
		reg.Register(tool)
	}
	j := &memJournal{}
	l := NewLoop(LoopOptions{
		Provider:       prov,
		History:        history.New(history.Options{Capacity: 20}),
		Tools:          reg,
		Formatter:      content.NewFormatter(content.FormatterOptions{BotName: "Drok"}),
		Journal:        j,
		Model:          "test-model",
		RequireMention: true,
	})
	return l, j
}

func mention(text string) content.RawMessage {
	return content.RawMessage{
		Platform:    "slack",
		ChatID:      "C1",
		MessageID:   "m1",
		Author:      content.Author{ID: "U1", DisplayName: "alice"},
		Text:        "<@UBOT> " + text,
		SelfMention: "<@UBOT>",
		Mentioned:   true,
	}
}

const testKey = "slack:C1"
