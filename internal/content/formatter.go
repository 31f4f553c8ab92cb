package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBotName           = "Drok"
	defaultAttachmentTimeout = 15 * time.Second
	defaultReferenceTimeout  = 10 * time.Second
	defaultMaxFetches        = 4
)

// Fetcher downloads the bytes behind an attachment.
type Fetcher interface {
	Fetch(ctx context.Context, att Attachment) ([]byte, error)
}

// MessageFetcher resolves a reference to the raw message it points at.
type MessageFetcher interface {
	FetchMessage(ctx context.Context, ref Reference) (*RawMessage, error)
}

// FormatterOptions configures a Formatter.
type FormatterOptions struct {
	BotName           string
	Attachments       Fetcher
	Messages          MessageFetcher
	AttachmentTimeout time.Duration
	ReferenceTimeout  time.Duration
	MaxFetches        int
}

// Formatter converts raw platform messages into model-ready turns.
type Formatter struct {
	botName           string
	attachments       Fetcher
	messages          MessageFetcher
	attachmentTimeout time.Duration
	referenceTimeout  time.Duration
	maxFetches        int
}

// Formatted is the result of formatting one raw message. Prior, when set, is
// the quoted message and must be appended to history before Current.
type Formatted struct {
	Prior   *Turn
	Current Turn
}

// NewFormatter creates a formatter. Nil collaborators disable attachment
// download and reference resolution respectively.
func NewFormatter(opts FormatterOptions) *Formatter {
	f := &Formatter{
		botName:           strings.TrimSpace(opts.BotName),
		attachments:       opts.Attachments,
		messages:          opts.Messages,
		attachmentTimeout: opts.AttachmentTimeout,
		referenceTimeout:  opts.ReferenceTimeout,
		maxFetches:        opts.MaxFetches,
	}
	if f.botName == "" {
		f.botName = defaultBotName
	}
	if f.attachmentTimeout <= 0 {
		f.attachmentTimeout = defaultAttachmentTimeout
	}
	if f.referenceTimeout <= 0 {
		f.referenceTimeout = defaultReferenceTimeout
	}
	if f.maxFetches <= 0 {
		f.maxFetches = defaultMaxFetches
	}
	return f
}

// BotName returns the name self-mentions are rewritten to.
func (f *Formatter) BotName() string { return f.botName }

// Format builds the user turn for raw and, if raw replies to another
// message, the turn for the referenced message. A reference that cannot be
// fetched is logged and skipped.
func (f *Formatter) Format(ctx context.Context, raw RawMessage) (Formatted, error) {
	current, err := f.turnFor(ctx, raw, raw.SelfMention, RoleUser)
	if err != nil {
		return Formatted{}, err
	}
	out := Formatted{Current: current}
	if raw.Reference == nil || f.messages == nil {
		return out, nil
	}

	refCtx, cancel := context.WithTimeout(ctx, f.referenceTimeout)
	defer cancel()
	ref, err := f.messages.FetchMessage(refCtx, *raw.Reference)
	if err != nil || ref == nil {
		slog.Warn("Could not fetch referenced message",
			"channel", raw.ChannelKey, "message_id", raw.Reference.MessageID, "error", err)
		return out, nil
	}
	role := RoleUser
	if ref.Author.IsSelf {
		role = RoleModel
	}
	selfMention := ref.SelfMention
	if selfMention == "" {
		selfMention = raw.SelfMention
	}
	prior, err := f.turnFor(ctx, *ref, selfMention, role)
	if err != nil {
		slog.Warn("Could not format referenced message", "channel", raw.ChannelKey, "error", err)
		return out, nil
	}
	out.Prior = &prior
	return out, nil
}

// Label renders the text part body for a message.
func (f *Formatter) Label(raw RawMessage, selfMention string) string {
	text := raw.Text
	if selfMention != "" {
		text = strings.ReplaceAll(text, selfMention, f.botName)
	}
	return fmt.Sprintf("[%s - %s]: %s", raw.Author.DisplayName, raw.Author.ID, text)
}

func (f *Formatter) turnFor(ctx context.Context, raw RawMessage, selfMention string, role Role) (Turn, error) {
	parts := []Part{Text{Body: f.Label(raw, selfMention)}}
	for _, m := range f.media(ctx, raw) {
		parts = append(parts, m)
	}
	return NewTurn(role, parts...)
}

// media downloads image attachments concurrently, keeping attachment order.
func (f *Formatter) media(ctx context.Context, raw RawMessage) []InlineMedia {
	if f.attachments == nil {
		return nil
	}
	var images []Attachment
	for _, att := range raw.Attachments {
		if IsImage(att.MIMEType) {
			images = append(images, att)
		}
	}
	if len(images) == 0 {
		return nil
	}

	slots := make([]*InlineMedia, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxFetches)
	for i, att := range images {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, f.attachmentTimeout)
			defer cancel()
			data, err := f.attachments.Fetch(fetchCtx, att)
			if err != nil {
				slog.Warn("Attachment download failed",
					"channel", raw.ChannelKey, "attachment", att.Name, "url", att.URL, "error", err)
				return nil
			}
			if len(data) == 0 {
				return nil
			}
			slog.Debug("Downloaded attachment", "attachment", att.Name, "bytes", len(data))
			slots[i] = &InlineMedia{MIMEType: baseMIMEType(att.MIMEType), Data: data}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]InlineMedia, 0, len(slots))
	for _, m := range slots {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// IsImage reports whether a MIME type is an image type.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

func baseMIMEType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
