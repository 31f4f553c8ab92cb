package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/content"
	"github.com/drok-bot/drok/internal/provider"
	"github.com/drok-bot/drok/internal/tools"
)

func TestOrchestrateTextReply(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{textStep("hello there")}}
	l, _ := newTestLoop(t, prov)

	action, err := l.OnMessage(context.Background(), mention("hi"))
	if err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if action == nil || action.Kind != bus.ActionText || action.Text != "hello there" {
		t.Fatalf("unexpected action %+v", action)
	}
	turns := l.History().Get(testKey)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Text() != "[alice - U1]: Drok hi" {
		t.Fatalf("unexpected user turn %q", turns[0].Text())
	}
	if turns[1].Role() != content.RoleModel || turns[1].Text() != "hello there" {
		t.Fatalf("unexpected model turn %+v", turns[1])
	}
	req := prov.requests[0]
	if req.Model != "test-model" || len(req.History) != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestOrchestrateToolAnswerThenText(t *testing.T) {
	search := &stubTool{name: "get_information", out: tools.Answer{Text: "Sunny, 21C"}}
	prov := &scriptedProvider{responses: []scriptStep{
		callStep("get_information", map[string]any{"search_for": "weather in Paris"}),
		textStep("It's sunny and 21C in Paris."),
	}}
	l, _ := newTestLoop(t, prov, search)

	action, err := l.OnMessage(context.Background(), mention("weather in Paris?"))
	if err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if action == nil || action.Text != "It's sunny and 21C in Paris." {
		t.Fatalf("unexpected action %+v", action)
	}
	turns := l.History().Get(testKey)
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	call, ok := turns[1].Parts()[0].(content.ToolCall)
	if !ok || turns[1].Role() != content.RoleModel || call.Name != "get_information" {
		t.Fatalf("expected model tool call turn, got %+v", turns[1])
	}
	result, ok := turns[2].Parts()[0].(content.ToolResult)
	if !ok || turns[2].Role() != content.RoleUser || result.Result != "Sunny, 21C" {
		t.Fatalf("expected user tool result turn, got %+v", turns[2])
	}
	if search.args["search_for"] != "weather in Paris" {
		t.Fatalf("tool got args %+v", search.args)
	}
	if len(prov.requests[1].History) != 3 {
		t.Fatalf("second call should see 3 turns, got %d", len(prov.requests[1].History))
	}
}

func TestOrchestrateMediaIsTerminal(t *testing.T) {
	img := &stubTool{name: "generate_image", out: tools.Media{MIMEType: "image/png", Data: []byte{1, 2, 3}}}
	prov := &scriptedProvider{responses: []scriptStep{
		callStep("generate_image", map[string]any{"image_description": "a cat"}),
	}}
	l, _ := newTestLoop(t, prov, img)

	action, err := l.OnMessage(context.Background(), mention("draw a cat"))
	if err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if action == nil || action.Kind != bus.ActionMedia || action.Media.MIMEType != "image/png" {
		t.Fatalf("unexpected action %+v", action)
	}
	if prov.calls() != 1 {
		t.Fatalf("media should end the run, provider called %d times", prov.calls())
	}
	turns := l.History().Get(testKey)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if _, ok := turns[1].Parts()[0].(content.InlineMedia); !ok || turns[1].Role() != content.RoleModel {
		t.Fatalf("expected model media turn, got %+v", turns[1])
	}
}

func TestOrchestrateToolCallBeatsText(t *testing.T) {
	search := &stubTool{name: "get_information", out: tools.Answer{Text: "fact"}}
	prov := &scriptedProvider{responses: []scriptStep{
		{resp: &provider.ChatResponse{
			Text:      "let me check",
			ToolCalls: []provider.ToolCall{{Name: "get_information"}, {Name: "generate_image"}},
		}},
		textStep("done"),
	}}
	l, _ := newTestLoop(t, prov, search)

	if _, err := l.OnMessage(context.Background(), mention("q")); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	for _, turn := range l.History().Get(testKey) {
		if turn.Text() == "let me check" {
			t.Fatal("text sent alongside a tool call must be dropped")
		}
	}
	if search.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", search.calls)
	}
}

func TestOrchestrateUnknownToolLeavesHistory(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{callStep("launch_rockets", nil)}}
	l, j := newTestLoop(t, prov)

	action, err := l.OnMessage(context.Background(), mention("go"))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected wrapped registry error, got %v", err)
	}
	if action != nil {
		t.Fatalf("unknown tool must not reply, got %+v", action)
	}
	if n := l.History().Len(testKey); n != 1 {
		t.Fatalf("history should hold only the user turn, got %d", n)
	}
	if len(j.runs) != 1 || j.runs[0].ErrorKind != "unknown_tool" {
		t.Fatalf("expected unknown_tool run record, got %+v", j.runs)
	}
}

func TestOrchestrateLoopLimit(t *testing.T) {
	search := &stubTool{name: "get_information", out: tools.Answer{Text: "more"}}
	step := callStep("get_information", nil)
	prov := &scriptedProvider{repeat: &step}
	l, _ := newTestLoop(t, prov, search)

	action, err := l.OnMessage(context.Background(), mention("loop forever"))
	if !errors.Is(err, ErrLoopLimitExceeded) {
		t.Fatalf("expected loop limit, got %v", err)
	}
	if prov.calls() != DefaultMaxIterations {
		t.Fatalf("expected %d provider calls, got %d", DefaultMaxIterations, prov.calls())
	}
	if action == nil || action.Text != replyLoopLimit {
		t.Fatalf("unexpected action %+v", action)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Iterations != DefaultMaxIterations {
		t.Fatalf("expected RunError with %d iterations, got %v", DefaultMaxIterations, err)
	}
}

func TestOrchestrateContentPolicyClearsHistory(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{
		textStep("first answer"),
		{err: provider.ContentPolicy("SAFETY")},
	}}
	l, _ := newTestLoop(t, prov)
	ctx := context.Background()

	if _, err := l.OnMessage(ctx, mention("one")); err != nil {
		t.Fatalf("first message: %v", err)
	}
	action, err := l.OnMessage(ctx, mention("two"))
	if !errors.Is(err, ErrContentPolicy) {
		t.Fatalf("expected content policy, got %v", err)
	}
	if action == nil || action.Text != replyContentPolicy {
		t.Fatalf("unexpected action %+v", action)
	}
	if n := l.History().Len(testKey); n != 0 {
		t.Fatalf("history should be cleared, got %d turns", n)
	}
}

func TestOrchestrateToolContentPolicyClearsHistory(t *testing.T) {
	img := &stubTool{name: "generate_image", err: provider.ContentPolicy("IMAGE_SAFETY")}
	prov := &scriptedProvider{responses: []scriptStep{callStep("generate_image", nil)}}
	l, _ := newTestLoop(t, prov, img)

	_, err := l.OnMessage(context.Background(), mention("draw something bad"))
	if !errors.Is(err, ErrContentPolicy) {
		t.Fatalf("expected content policy, got %v", err)
	}
	if n := l.History().Len(testKey); n != 0 {
		t.Fatalf("history should be cleared, got %d turns", n)
	}
}

func TestOrchestrateTransientKeepsHistory(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{{err: provider.Transient(errors.New("503"))}}}
	l, _ := newTestLoop(t, prov)

	action, err := l.OnMessage(context.Background(), mention("hello"))
	if !errors.Is(err, ErrTransient) || ErrorKind(err) != "transient" {
		t.Fatalf("expected transient, got %v", err)
	}
	if action == nil || action.Text != replyTransient {
		t.Fatalf("unexpected action %+v", action)
	}
	if n := l.History().Len(testKey); n != 1 {
		t.Fatalf("expected user turn kept, got %d", n)
	}
}

func TestOrchestrateEmptyResponseIsTransient(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{textStep("   ")}}
	l, _ := newTestLoop(t, prov)

	_, err := l.OnMessage(context.Background(), mention("hello"))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if n := l.History().Len(testKey); n != 1 {
		t.Fatalf("expected only the user turn, got %d", n)
	}
}

func TestErrorKindNames(t *testing.T) {
	cases := map[string]error{
		"":               nil,
		"loop_limit":     &RunError{Kind: ErrLoopLimitExceeded},
		"content_policy": &RunError{Kind: ErrContentPolicy},
		"unknown_tool":   &RunError{Kind: ErrUnknownTool},
		"transient":      errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
