package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/config"
	"github.com/drok-bot/drok/internal/content"
)

const (
	whatsappPlatform    = "whatsapp"
	whatsappTextLimit   = 4096
	whatsappSendTimeout = 30 * time.Second
	whatsappCacheSize   = 1024
)

// waClient is the subset of the whatsmeow client used after connecting.
type waClient interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// WhatsAppChannel implements a native WhatsApp client. Recently seen
// messages and their images are kept in memory so quoted replies and
// attachments can be resolved without a round trip.
type WhatsAppChannel struct {
	BaseChannel
	config    config.WhatsAppConfig
	client    *whatsmeow.Client
	wa        waClient
	container *sqlstore.Container
	recent    *lru.Cache[string, content.RawMessage]
	media     *lru.Cache[string, whatsmeow.DownloadableMessage]
	self      types.JID
	selfLID   types.JID
}

// NewWhatsAppChannel creates a new WhatsApp channel.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, messageBus *bus.MessageBus) *WhatsAppChannel {
	recent, _ := lru.New[string, content.RawMessage](whatsappCacheSize)
	media, _ := lru.New[string, whatsmeow.DownloadableMessage](whatsappCacheSize)
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		recent:      recent,
		media:       media,
	}
}

func (c *WhatsAppChannel) Name() string { return whatsappPlatform }

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	if err := os.MkdirAll(filepath.Dir(c.config.SessionPath), 0o755); err != nil {
		return fmt.Errorf("create whatsapp session dir: %w", err)
	}
	dsn := "file:" + c.config.SessionPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return fmt.Errorf("failed to init whatsapp db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.wa = c.client
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp qr channel: %w", err)
		}
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go c.pair(qrChan)
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		c.rememberSelf()
		slog.Info("WhatsApp connected", "jid", c.self.String())
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go c.handleOutbound(msg)
	})
	return nil
}

// pair writes each QR code to disk until the device is linked.
func (c *WhatsAppChannel) pair(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == "code" {
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, c.config.QRPath); err != nil {
				slog.Error("Failed to write WhatsApp QR code", "path", c.config.QRPath, "error", err)
				continue
			}
			slog.Info("WhatsApp login QR code saved; scan it with your phone", "path", c.config.QRPath)
			continue
		}
		slog.Info("WhatsApp login event", "event", evt.Event)
		if evt.Event == "success" {
			c.rememberSelf()
		}
	}
}

func (c *WhatsAppChannel) rememberSelf() {
	if c.client == nil || c.client.Store.ID == nil {
		return
	}
	c.self = c.client.Store.ID.ToNonAD()
	c.selfLID = c.client.Store.LID.ToNonAD()
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		return c.container.Close()
	}
	return nil
}

func (c *WhatsAppChannel) eventHandler(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		c.rememberSelf()
	case *events.Message:
		raw, ok := c.toRaw(v)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), whatsappSendTimeout)
		defer cancel()
		if err := c.Bus.PublishInbound(ctx, &bus.InboundMessage{Raw: raw, Timestamp: v.Info.Timestamp}); err != nil {
			slog.Warn("Failed to publish WhatsApp message", "chat", raw.ChatID, "error", err)
		}
	}
}

// toRaw converts a message event and caches it for later quotes. Messages
// with neither text nor an image are skipped.
func (c *WhatsAppChannel) toRaw(v *events.Message) (content.RawMessage, bool) {
	if v == nil || v.Message == nil {
		return content.RawMessage{}, false
	}
	text, ctxInfo := whatsappText(v.Message)
	img := v.Message.GetImageMessage()
	if strings.TrimSpace(text) == "" && img == nil {
		return content.RawMessage{}, false
	}

	name := v.Info.PushName
	if name == "" {
		name = v.Info.Sender.User
	}
	raw := content.RawMessage{
		Platform:  whatsappPlatform,
		ChatID:    v.Info.Chat.String(),
		MessageID: v.Info.ID,
		Author: content.Author{
			ID:          v.Info.Sender.User,
			DisplayName: name,
			IsSelf:      v.Info.IsFromMe,
			IsBot:       v.Info.IsFromMe,
		},
		Text:   text,
		Direct: !v.Info.IsGroup,
	}
	if img != nil {
		raw.Attachments = []content.Attachment{c.rememberMedia(v.Info.ID, img)}
	}
	raw.SelfMention, raw.Mentioned = c.mentionOf(text, ctxInfo)

	if ref := c.quoted(raw.ChatID, ctxInfo); ref != nil {
		raw.Reference = ref
	}
	c.recent.Add(content.Reference{Platform: whatsappPlatform, ChatID: raw.ChatID, MessageID: raw.MessageID}.Key(), raw)
	return raw, true
}

func whatsappText(m *waE2E.Message) (string, *waE2E.ContextInfo) {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation(), nil
	case m.GetExtendedTextMessage() != nil:
		ext := m.GetExtendedTextMessage()
		return ext.GetText(), ext.GetContextInfo()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		return img.GetCaption(), img.GetContextInfo()
	}
	return "", nil
}

// mentionOf reports the token used to mention this account and whether the
// message mentions it.
func (c *WhatsAppChannel) mentionOf(text string, info *waE2E.ContextInfo) (string, bool) {
	if c.self.User == "" {
		return "", false
	}
	token := "@" + c.self.User
	for _, j := range info.GetMentionedJID() {
		jid, err := types.ParseJID(j)
		if err != nil {
			continue
		}
		switch jid.User {
		case c.self.User:
			return token, true
		case c.selfLID.User:
			if c.selfLID.User != "" {
				return "@" + c.selfLID.User, true
			}
		}
	}
	return token, strings.Contains(text, token)
}

// quoted records the message a reply quotes and returns a reference to it.
func (c *WhatsAppChannel) quoted(chatID string, info *waE2E.ContextInfo) *content.Reference {
	if info.GetStanzaID() == "" {
		return nil
	}
	ref := content.Reference{Platform: whatsappPlatform, ChatID: chatID, MessageID: info.GetStanzaID()}
	q := info.GetQuotedMessage()
	if q == nil {
		return &ref
	}
	if _, seen := c.recent.Get(ref.Key()); seen {
		return &ref
	}
	author := info.GetParticipant()
	if jid, err := types.ParseJID(author); err == nil {
		author = jid.User
	}
	isSelf := author != "" && (author == c.self.User || author == c.selfLID.User)
	text, _ := whatsappText(q)
	quoted := content.RawMessage{
		Platform:  whatsappPlatform,
		ChatID:    chatID,
		MessageID: ref.MessageID,
		Author:    content.Author{ID: author, DisplayName: author, IsSelf: isSelf, IsBot: isSelf},
		Text:      text,
	}
	if img := q.GetImageMessage(); img != nil {
		quoted.Attachments = []content.Attachment{c.rememberMedia(ref.MessageID, img)}
	}
	if c.self.User != "" {
		quoted.SelfMention = "@" + c.self.User
	}
	c.recent.Add(ref.Key(), quoted)
	return &ref
}

func (c *WhatsAppChannel) rememberMedia(id string, img *waE2E.ImageMessage) content.Attachment {
	c.media.Add(id, img)
	return content.Attachment{
		ID:       id,
		Source:   whatsappPlatform,
		MIMEType: img.GetMimetype(),
		Name:     id,
	}
}

// FetchMessage returns a recently seen or quoted message.
func (c *WhatsAppChannel) FetchMessage(_ context.Context, ref content.Reference) (*content.RawMessage, error) {
	raw, ok := c.recent.Get(ref.Key())
	if !ok {
		return nil, fmt.Errorf("whatsapp message %s not cached", ref.MessageID)
	}
	return &raw, nil
}

// Fetch downloads and decrypts a cached image attachment.
func (c *WhatsAppChannel) Fetch(ctx context.Context, att content.Attachment) ([]byte, error) {
	msg, ok := c.media.Get(att.ID)
	if !ok {
		return nil, fmt.Errorf("whatsapp media %s not cached", att.ID)
	}
	if c.wa == nil {
		return nil, fmt.Errorf("whatsapp client not initialized")
	}
	data, err := c.wa.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("download whatsapp media %s: %w", att.ID, err)
	}
	return data, nil
}

func (c *WhatsAppChannel) handleOutbound(msg *bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), whatsappSendTimeout)
	defer cancel()
	if err := c.Send(ctx, msg); err != nil {
		slog.Error("Failed to send WhatsApp message", "chat", msg.ChatID, "trace_id", msg.TraceID, "error", err)
	}
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.wa == nil {
		return fmt.Errorf("client not initialized")
	}
	jid, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}

	switch msg.Action.Kind {
	case bus.ActionTyping:
		return c.wa.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	case bus.ActionMedia:
		if msg.Action.Media == nil {
			return fmt.Errorf("media action without media")
		}
		m := msg.Action.Media
		up, err := c.wa.Upload(ctx, m.Data, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("upload whatsapp image: %w", err)
		}
		_, err = c.wa.SendMessage(ctx, jid, &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				Mimetype:      proto.String(m.MIMEType),
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(up.FileLength),
			},
		})
		return err
	default:
		for _, chunk := range SplitMessage(msg.Action.Text, whatsappTextLimit) {
			if _, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(chunk)}); err != nil {
				return err
			}
		}
		_ = c.wa.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
		return nil
	}
}
