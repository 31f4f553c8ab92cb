package channels

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/content"
)

func TestConsoleReadLoopPublishesDirectMessages(t *testing.T) {
	b := bus.NewMessageBus()
	c := NewConsoleChannel(b, strings.NewReader("hello\n\n  second  \n"), &bytes.Buffer{}, "tester", t.TempDir())

	if err := c.ReadLoop(context.Background()); err != nil {
		t.Fatalf("ReadLoop: %v", err)
	}
	if b.InboundSize() != 2 {
		t.Fatalf("expected 2 inbound messages, got %d", b.InboundSize())
	}
	msg, _ := b.ConsumeInbound(context.Background())
	raw := msg.Raw
	if raw.Text != "hello" || !raw.Direct || raw.Author.DisplayName != "tester" || raw.Platform != "console" {
		t.Fatalf("unexpected raw message %+v", raw)
	}
	second, _ := b.ConsumeInbound(context.Background())
	if second.Raw.Text != "second" || second.Raw.MessageID == raw.MessageID {
		t.Fatalf("unexpected second message %+v", second.Raw)
	}
}

func TestConsoleSendWritesTextAndMedia(t *testing.T) {
	out := &bytes.Buffer{}
	dir := t.TempDir()
	c := NewConsoleChannel(bus.NewMessageBus(), strings.NewReader(""), out, "", dir)
	ctx := context.Background()

	_ = c.Send(ctx, &bus.OutboundMessage{Action: bus.Action{Kind: bus.ActionTyping}})
	if err := c.Send(ctx, &bus.OutboundMessage{Action: *bus.TextAction("hi there")}); err != nil {
		t.Fatalf("Send text: %v", err)
	}
	if err := c.Send(ctx, &bus.OutboundMessage{Action: *bus.MediaAction(content.InlineMedia{MIMEType: "image/png", Data: []byte{9}})}); err != nil {
		t.Fatalf("Send media: %v", err)
	}
	if !strings.HasPrefix(out.String(), "hi there\n[image saved to ") {
		t.Fatalf("unexpected output %q", out.String())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".png") {
		t.Fatalf("expected one png in media dir, got %v", entries)
	}
	if len(c.Replies()) != 2 {
		t.Fatalf("expected 2 reply signals, got %d", len(c.Replies()))
	}
}
