package middleware

import (
	"context"
	"strings"

	"github.com/drok-bot/drok/internal/provider"
)

// DefaultMassMentions are tokens that notify a whole channel on the
// supported platforms.
var DefaultMassMentions = []string{
	"@everyone", "@here", "@channel",
	"<!channel>", "<!here>", "<!everyone>",
}

// MentionGuard defuses mass-mention tokens in model text so the bot can never
// ping a whole channel.
type MentionGuard struct {
	replacer *strings.Replacer
}

// NewMentionGuard builds a guard for tokens; nil uses DefaultMassMentions.
func NewMentionGuard(tokens []string) *MentionGuard {
	if tokens == nil {
		tokens = DefaultMassMentions
	}
	pairs := make([]string, 0, len(tokens)*2)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		pairs = append(pairs, tok, defuse(tok))
	}
	return &MentionGuard{replacer: strings.NewReplacer(pairs...)}
}

// defuse drops the markup characters so the token renders as plain text.
func defuse(tok string) string {
	tok = strings.TrimPrefix(tok, "<!")
	tok = strings.TrimSuffix(tok, ">")
	return strings.TrimPrefix(tok, "@")
}

func (g *MentionGuard) Name() string { return "mention-guard" }

func (g *MentionGuard) ProcessRequest(_ context.Context, _ *provider.ChatRequest, _ *RequestMeta) error {
	return nil
}

func (g *MentionGuard) ProcessResponse(_ context.Context, _ *provider.ChatRequest, resp *provider.ChatResponse, meta *RequestMeta) error {
	if resp.Text == "" {
		return nil
	}
	clean := g.Sanitize(resp.Text)
	if clean != resp.Text {
		resp.Text = clean
		meta.Tags["mentions_defused"] = "true"
	}
	return nil
}

// Sanitize returns text with mass mentions defused.
func (g *MentionGuard) Sanitize(text string) string {
	return g.replacer.Replace(text)
}
