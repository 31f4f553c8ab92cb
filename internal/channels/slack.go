package channels

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/config"
	"github.com/drok-bot/drok/internal/content"
)

const (
	slackPlatform = "slack"
	// slackTextLimit is the longest text Slack renders without truncation.
	slackTextLimit   = 4000
	slackSendTimeout = 30 * time.Second
)

// slackAPI is the subset of the Web API the channel uses.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// SlackChannel is a socket-mode Slack client. It also resolves thread
// parents and downloads private files for the formatter.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    slackAPI
	socket *socketmode.Client
	names  *lru.Cache[string, string]
	selfID string
	botID  string
	cancel context.CancelFunc
}

// NewSlackChannel creates a Slack channel. It does not connect until Start.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	names, _ := lru.New[string, string](512)
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		names:       names,
	}
}

func (c *SlackChannel) Name() string { return slackPlatform }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	opts := []slack.Option{slack.OptionAppLevelToken(c.config.AppToken)}
	if c.config.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(c.config.APIURL))
	}
	api := slack.New(c.config.BotToken, opts...)
	c.api = api

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	c.selfID = auth.UserID
	c.botID = auth.BotID
	slog.Info("Slack authenticated", "team", auth.Team, "user_id", auth.UserID)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.socket = socketmode.New(api)
	c.Bus.Subscribe(c.Name(), c.handleOutbound)

	go c.consume(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	return nil
}

func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *SlackChannel) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				slog.Info("Slack socket mode connected")
			case socketmode.EventTypeConnectionError:
				slog.Warn("Slack connection error", "data", evt.Data)
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				api, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || api.Type != slackevents.CallbackEvent {
					continue
				}
				if msg, ok := api.InnerEvent.Data.(*slackevents.MessageEvent); ok {
					c.handleMessage(ctx, msg)
				}
			}
		}
	}
}

func (c *SlackChannel) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	raw, ok := c.toRaw(ctx, ev)
	if !ok {
		return
	}
	if err := c.Bus.PublishInbound(ctx, &bus.InboundMessage{Raw: raw}); err != nil {
		slog.Warn("Failed to publish Slack message", "channel", ev.Channel, "error", err)
	}
}

// toRaw converts a message event. Edits, deletions and other subtypes are
// skipped.
func (c *SlackChannel) toRaw(ctx context.Context, ev *slackevents.MessageEvent) (content.RawMessage, bool) {
	switch ev.SubType {
	case "", "file_share", "thread_broadcast", "bot_message":
	default:
		return content.RawMessage{}, false
	}
	var files []slack.File
	if ev.Message != nil {
		files = ev.Message.Files
	}
	raw := content.RawMessage{
		Platform:  slackPlatform,
		ChatID:    ev.Channel,
		MessageID: ev.TimeStamp,
		Author: content.Author{
			ID:          ev.User,
			DisplayName: c.displayName(ctx, ev.User),
			IsSelf:      ev.User != "" && ev.User == c.selfID,
			IsBot:       ev.BotID != "" || ev.SubType == "bot_message",
		},
		Text:        ev.Text,
		Attachments: slackAttachments(files),
		Direct:      ev.ChannelType == "im",
	}
	if raw.Author.ID == "" {
		raw.Author.ID = ev.BotID
	}
	if c.selfID != "" {
		raw.SelfMention = "<@" + c.selfID + ">"
		raw.Mentioned = strings.Contains(ev.Text, raw.SelfMention)
	}
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		raw.Reference = &content.Reference{Platform: slackPlatform, ChatID: ev.Channel, MessageID: ev.ThreadTimeStamp}
	}
	return raw, true
}

func slackAttachments(files []slack.File) []content.Attachment {
	var out []content.Attachment
	for _, f := range files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		out = append(out, content.Attachment{
			ID:       f.ID,
			Source:   slackPlatform,
			URL:      url,
			MIMEType: f.Mimetype,
			Name:     f.Name,
		})
	}
	return out
}

// displayName resolves a user id, caching hits. Lookup failures fall back to
// the id itself.
func (c *SlackChannel) displayName(ctx context.Context, userID string) string {
	if userID == "" || c.api == nil {
		return userID
	}
	if name, ok := c.names.Get(userID); ok {
		return name
	}
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		slog.Debug("Slack user lookup failed", "user", userID, "error", err)
		return userID
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	c.names.Add(userID, name)
	return name
}

// FetchMessage returns the thread parent identified by ref.
func (c *SlackChannel) FetchMessage(ctx context.Context, ref content.Reference) (*content.RawMessage, error) {
	if c.api == nil {
		return nil, fmt.Errorf("slack channel not started")
	}
	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: ref.ChatID,
		Timestamp: ref.MessageID,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch slack message %s: %w", ref.MessageID, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("slack message %s not found", ref.MessageID)
	}
	m := msgs[0]
	authorID := m.User
	if authorID == "" {
		authorID = m.BotID
	}
	raw := &content.RawMessage{
		Platform:  slackPlatform,
		ChatID:    ref.ChatID,
		MessageID: m.Timestamp,
		Author: content.Author{
			ID:          authorID,
			DisplayName: c.displayName(ctx, m.User),
			IsSelf:      (m.User != "" && m.User == c.selfID) || (m.BotID != "" && m.BotID == c.botID),
			IsBot:       m.BotID != "",
		},
		Text:        m.Text,
		Attachments: slackAttachments(m.Files),
	}
	if raw.Author.DisplayName == "" {
		raw.Author.DisplayName = authorID
	}
	if c.selfID != "" {
		raw.SelfMention = "<@" + c.selfID + ">"
	}
	return raw, nil
}

// Fetch downloads a private file with the bot token.
func (c *SlackChannel) Fetch(ctx context.Context, att content.Attachment) ([]byte, error) {
	if c.api == nil {
		return nil, fmt.Errorf("slack channel not started")
	}
	if att.URL == "" {
		return nil, fmt.Errorf("slack file %s has no download url", att.ID)
	}
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, att.URL, &buf); err != nil {
		return nil, fmt.Errorf("download slack file %s: %w", att.ID, err)
	}
	return buf.Bytes(), nil
}

func (c *SlackChannel) handleOutbound(msg *bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), slackSendTimeout)
	defer cancel()
	if err := c.Send(ctx, msg); err != nil {
		slog.Error("Failed to send Slack message", "chat", msg.ChatID, "trace_id", msg.TraceID, "error", err)
	}
}

func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("slack channel not started")
	}
	switch msg.Action.Kind {
	case bus.ActionTyping:
		// Bot tokens cannot show a typing indicator over the Web API.
		return nil
	case bus.ActionMedia:
		if msg.Action.Media == nil {
			return fmt.Errorf("media action without media")
		}
		m := msg.Action.Media
		_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  msg.ChatID,
			Reader:   bytes.NewReader(m.Data),
			FileSize: len(m.Data),
			Filename: "drok" + extensionFor(m.MIMEType),
			Title:    "Generated image",
		})
		if err != nil {
			return fmt.Errorf("upload slack file: %w", err)
		}
		return nil
	default:
		for _, chunk := range SplitMessage(msg.Action.Text, slackTextLimit) {
			if _, _, err := c.api.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionText(chunk, false)); err != nil {
				return fmt.Errorf("post slack message: %w", err)
			}
		}
		return nil
	}
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
