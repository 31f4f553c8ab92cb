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

// ErrNoImage is returned when the image model answers without any media.
var ErrNoImage = errors.New("image model returned no image")

// ImageTool generates an image from a description with a nested provider call.
type ImageTool struct {
	prov  provider.Provider
	model string
}

// NewImageTool creates the generate_image tool.
func NewImageTool(prov provider.Provider, model string) *ImageTool {
	return &ImageTool{prov: prov, model: model}
}

func (t *ImageTool) Name() string { return "generate_image" }

func (t *ImageTool) Declaration() Declaration {
	return Declaration{
		Name:        "generate_image",
		Description: "Create an image",
		Parameters: map[string]Param{
			"image_description": {
				Type:        "string",
				Description: "A verbal description of what the image should look like.",
			},
		},
		Required: []string{"image_description"},
	}
}

func (t *ImageTool) Execute(ctx context.Context, args map[string]any, channelKey string) (Outcome, error) {
	desc := strings.TrimSpace(GetString(args, "image_description", ""))
	if desc == "" {
		return nil, errors.New("image_description is required")
	}
	turn, err := content.NewTurn(content.RoleUser, content.Text{Body: desc})
	if err != nil {
		return nil, err
	}
	resp, err := t.prov.Chat(ctx, &provider.ChatRequest{
		Model:      t.model,
		History:    []content.Turn{turn},
		Modalities: []provider.Modality{provider.ModalityText, provider.ModalityImage},
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	for _, m := range resp.Media {
		if len(m.Data) == 0 {
			continue
		}
		slog.Info("Generated image", "channel", channelKey, "mime", m.MIMEType, "bytes", len(m.Data))
		return Media{MIMEType: m.MIMEType, Data: m.Data}, nil
	}
	return nil, ErrNoImage
}
