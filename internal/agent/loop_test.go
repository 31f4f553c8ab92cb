package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/content"
)

func TestOnMessageRecordsWithoutMention(t *testing.T) {
	prov := &scriptedProvider{}
	l, j := newTestLoop(t, prov)

	raw := mention("just chatting")
	raw.Mentioned = false
	action, err := l.OnMessage(context.Background(), raw)
	if err != nil || action != nil {
		t.Fatalf("expected silent record, got action=%+v err=%v", action, err)
	}
	if prov.calls() != 0 {
		t.Fatalf("provider must not be called, got %d calls", prov.calls())
	}
	if l.History().Len(testKey) != 1 {
		t.Fatal("message should be recorded")
	}
	if len(j.runs) != 0 {
		t.Fatalf("no run should be journaled, got %d", len(j.runs))
	}
}

func TestOnMessageDirectRunsWithoutMention(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{textStep("hey")}}
	l, _ := newTestLoop(t, prov)

	raw := mention("hi")
	raw.Mentioned = false
	raw.Direct = true
	action, err := l.OnMessage(context.Background(), raw)
	if err != nil || action == nil || action.Text != "hey" {
		t.Fatalf("unexpected result action=%+v err=%v", action, err)
	}
}

func TestOnMessageIgnoresBots(t *testing.T) {
	prov := &scriptedProvider{}
	l, _ := newTestLoop(t, prov)

	raw := mention("beep")
	raw.Author.IsBot = true
	if action, err := l.OnMessage(context.Background(), raw); action != nil || err != nil {
		t.Fatalf("bots must be ignored, got %+v %v", action, err)
	}
	if l.History().Len(testKey) != 0 {
		t.Fatal("bot message must not be recorded")
	}
}

type staticMessages struct{ msg *content.RawMessage }

func (s staticMessages) FetchMessage(context.Context, content.Reference) (*content.RawMessage, error) {
	return s.msg, nil
}

func TestOnMessageAppendsReferencedTurnFirst(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{textStep("yes")}}
	l, _ := newTestLoop(t, prov)
	l.formatter = content.NewFormatter(content.FormatterOptions{
		BotName: "Drok",
		Messages: staticMessages{msg: &content.RawMessage{
			Author: content.Author{ID: "UBOT", DisplayName: "Drok", IsSelf: true, IsBot: true},
			Text:   "earlier answer",
		}},
	})

	raw := mention("are you sure?")
	raw.Reference = &content.Reference{Platform: "slack", ChatID: "C1", MessageID: "m0"}
	if _, err := l.OnMessage(context.Background(), raw); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	turns := l.History().Get(testKey)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Role() != content.RoleModel || turns[0].Text() != "[Drok - UBOT]: earlier answer" {
		t.Fatalf("unexpected prior turn %q (%s)", turns[0].Text(), turns[0].Role())
	}
}

func TestOnMessageJournalsRun(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{textStep("answer")}}
	l, j := newTestLoop(t, prov)

	if _, err := l.OnMessage(context.Background(), mention("q")); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if len(j.runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(j.runs))
	}
	run := j.runs[0]
	if run.Status != "ok" || run.Outcome != "text" || run.ChannelKey != testKey || run.TraceID == "" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.TotalTokens != 5 || run.TurnsAdded != 1 || run.Reply != "answer" {
		t.Fatalf("unexpected accounting %+v", run)
	}
}

func TestRunPublishesTypingThenReply(t *testing.T) {
	b := bus.NewMessageBus()
	prov := &scriptedProvider{responses: []scriptStep{textStep("pong")}}
	l, _ := newTestLoop(t, prov)
	l.bus = b

	got := make(chan *bus.OutboundMessage, 4)
	b.Subscribe("slack", func(m *bus.OutboundMessage) { got <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.DispatchOutbound(ctx) }()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	if err := b.PublishInbound(ctx, &bus.InboundMessage{Raw: mention("ping")}); err != nil {
		t.Fatalf("publish inbound: %v", err)
	}

	var kinds []bus.ActionKind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case m := <-got:
			kinds = append(kinds, m.Action.Kind)
			if m.Action.Kind == bus.ActionText && (m.Action.Text != "pong" || m.ReplyTo != "m1" || m.ChannelKey != testKey) {
				t.Fatalf("unexpected reply %+v", m)
			}
		case <-timeout:
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	if kinds[0] != bus.ActionTyping || kinds[1] != bus.ActionText {
		t.Fatalf("expected typing then text, got %v", kinds)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSessionKeyAndTrace(t *testing.T) {
	if SessionKey("whatsapp", "123@s.whatsapp.net") != "whatsapp:123@s.whatsapp.net" {
		t.Fatal("unexpected session key")
	}
	ctx := WithTraceID(context.Background(), "t-1")
	if TraceIDFrom(ctx) != "t-1" || TraceIDFrom(context.Background()) != "" {
		t.Fatal("trace id round trip failed")
	}
	if truncateStr("abcdef", 3) != "abc..." {
		t.Fatal("truncate failed")
	}
}

func TestTruncateStrKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := truncateStr(s, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got)
	}
	if got != "éé..." {
		t.Fatalf("truncateStr = %q, want %q", got, "éé...")
	}
	if truncateStr("日本語", 9) != "日本語" {
		t.Fatal("text within the limit must be unchanged")
	}
}

type slowTraces struct {
	mu   sync.Mutex
	keys []string
}

func (s *slowTraces) Active() bool { return true }

func (s *slowTraces) Publish(_ context.Context, key string, _ any) error {
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func TestWaitDrainsTracePublishes(t *testing.T) {
	prov := &scriptedProvider{responses: []scriptStep{textStep("answer")}}
	l, _ := newTestLoop(t, prov)
	tr := &slowTraces{}
	l.traces = tr

	if _, err := l.OnMessage(context.Background(), mention("q")); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	l.Wait()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.keys) != 1 || tr.keys[0] != testKey {
		t.Fatalf("published keys after Wait = %v, want [%s]", tr.keys, testKey)
	}
}
