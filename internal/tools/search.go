package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/drok-bot/drok/internal/content"
	"github.com/drok-bot/drok/internal/provider"
)

const searchInstruction = "Research the query using web search and answer in two sentences or less. " +
	"Only state what the sources support."

// SearchTool answers a question with a nested, web-search enabled provider call.
type SearchTool struct {
	prov  provider.Provider
	model string
}

// NewSearchTool creates the get_information tool.
func NewSearchTool(prov provider.Provider, model string) *SearchTool {
	return &SearchTool{prov: prov, model: model}
}

func (t *SearchTool) Name() string { return "get_information" }

func (t *SearchTool) Declaration() Declaration {
	return Declaration{
		Name: "get_information",
		Description: "Get any real-time and up-to-date information including the time, current events, " +
			"breaking news, and research on in depth topics.",
		Parameters: map[string]Param{
			"search_for": {
				Type:        "string",
				Description: "The general topic, question, or query to search for information about.",
			},
		},
		Required: []string{"search_for"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any, channelKey string) (Outcome, error) {
	query := strings.TrimSpace(GetString(args, "search_for", ""))
	if query == "" {
		return nil, errors.New("search_for is required")
	}
	turn, err := content.NewTurn(content.RoleUser, content.Text{Body: query})
	if err != nil {
		return nil, err
	}
	resp, err := t.prov.Chat(ctx, &provider.ChatRequest{
		Model:             t.model,
		History:           []content.Turn{turn},
		SystemInstruction: searchInstruction,
		Modalities:        []provider.Modality{provider.ModalityText},
		WebSearch:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, errors.New("search returned no text")
	}
	slog.Debug("Search answered", "channel", channelKey, "query", query, "chars", len(text))
	return Answer{Text: text}, nil
}
