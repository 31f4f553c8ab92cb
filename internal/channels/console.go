package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/content"
)

const consolePlatform = "console"

// ConsoleChannel reads lines from a reader and prints replies to a writer.
// Every line is a direct message, so each one triggers a run.
type ConsoleChannel struct {
	BaseChannel
	in       io.Reader
	out      io.Writer
	user     string
	mediaDir string
	mu       sync.Mutex
	seq      int
	replies  chan struct{}
}

// NewConsoleChannel creates a console channel. Generated images are written
// into mediaDir, or the working directory when empty.
func NewConsoleChannel(messageBus *bus.MessageBus, in io.Reader, out io.Writer, user, mediaDir string) *ConsoleChannel {
	if user == "" {
		user = "you"
	}
	return &ConsoleChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		in:          in,
		out:         out,
		user:        user,
		mediaDir:    mediaDir,
		replies:     make(chan struct{}, 16),
	}
}

func (c *ConsoleChannel) Name() string { return consolePlatform }

// Start subscribes to replies and reads input in the background.
func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Warn("Console send failed", "error", err)
		}
	})
	go func() {
		if err := c.ReadLoop(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Console input stopped", "error", err)
		}
	}()
	return nil
}

func (c *ConsoleChannel) Stop() error { return nil }

// ReadLoop publishes one inbound message per non-empty line until input ends.
func (c *ConsoleChannel) ReadLoop(ctx context.Context) error {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.mu.Lock()
		c.seq++
		id := strconv.Itoa(c.seq)
		c.mu.Unlock()
		err := c.Bus.PublishInbound(ctx, &bus.InboundMessage{Raw: c.Message(id, line), Timestamp: time.Now()})
		if err != nil {
			return err
		}
	}
	return sc.Err()
}

// Message builds the inbound form of a typed line.
func (c *ConsoleChannel) Message(id, text string) content.RawMessage {
	return content.RawMessage{
		Platform:  consolePlatform,
		ChatID:    "local",
		MessageID: id,
		Author:    content.Author{ID: "local", DisplayName: c.user},
		Text:      text,
		Direct:    true,
	}
}

// Replies signals once per text or media reply written.
func (c *ConsoleChannel) Replies() <-chan struct{} { return c.replies }

func (c *ConsoleChannel) Send(_ context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action.Kind {
	case bus.ActionTyping:
		return nil
	case bus.ActionMedia:
		if msg.Action.Media == nil {
			return fmt.Errorf("media action without media")
		}
		name := fmt.Sprintf("drok-%d%s", time.Now().UnixNano(), extensionFor(msg.Action.Media.MIMEType))
		path := filepath.Join(c.mediaDir, name)
		if err := os.WriteFile(path, msg.Action.Media.Data, 0o644); err != nil {
			return fmt.Errorf("write console media: %w", err)
		}
		fmt.Fprintf(c.out, "[image saved to %s]\n", path)
	default:
		fmt.Fprintln(c.out, msg.Action.Text)
	}
	select {
	case c.replies <- struct{}{}:
	default:
	}
	return nil
}
