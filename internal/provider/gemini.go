package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/drok-bot/drok/internal/content"
)

const geminiDefaultModel = "gemini-2.5-flash"

// Finish and block reasons that mean the provider refused on policy grounds.
var geminiPolicyReasons = map[string]bool{
	"SAFETY":                   true,
	"BLOCKLIST":                true,
	"PROHIBITED_CONTENT":       true,
	"SPII":                     true,
	"RECITATION":               true,
	"IMAGE_SAFETY":             true,
	"IMAGE_PROHIBITED_CONTENT": true,
}

// GeminiOptions configures a GeminiProvider.
type GeminiOptions struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiProvider implements Provider on the Gemini API.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiProvider creates a Gemini provider using a static API key.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiProvider{client: client, defaultModel: model}, nil
}

func (p *GeminiProvider) DefaultModel() string {
	return p.defaultModel
}

func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents := openAsUser(geminiContents(trimOrphans(req.History)))
	if len(contents) == 0 {
		return nil, Transient(errors.New("empty history"))
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, geminiConfig(req))
	if err != nil {
		return nil, classifyGeminiError(ctx, err)
	}
	return parseGeminiResponse(resp)
}

func geminiConfig(req *ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	for _, m := range req.Modalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, string(m))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiDeclaration(t))
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if req.WebSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return cfg
}

func geminiDeclaration(t ToolDeclaration) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(t.Parameters))
	names := make([]string, 0, len(t.Parameters))
	for name, param := range t.Parameters {
		props[name] = &genai.Schema{
			Type:        genai.Type(strings.ToUpper(param.Type)),
			Description: param.Description,
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters: &genai.Schema{
			Type:             genai.TypeObject,
			Properties:       props,
			PropertyOrdering: names,
			Required:         t.Required,
		},
	}
}

// trimOrphans drops leading turns that only make sense after an evicted
// predecessor: a tool result whose call was evicted, or a tool call whose
// result was evicted. A leading model text turn (a quoted bot reply) stays.
func trimOrphans(turns []content.Turn) []content.Turn {
	for len(turns) > 0 {
		first := turns[0]
		if hasToolResult(first) || (first.Role() == content.RoleModel && hasToolCall(first)) {
			turns = turns[1:]
			continue
		}
		break
	}
	return turns
}

// openAsUser sends model turns that open the window with the user role, so
// the contents always start with a user turn. The labelled text still names
// the bot as the author.
func openAsUser(contents []*genai.Content) []*genai.Content {
	for _, c := range contents {
		if c.Role != string(content.RoleModel) {
			break
		}
		c.Role = string(content.RoleUser)
	}
	return contents
}

func hasToolCall(t content.Turn) bool {
	for _, p := range t.Parts() {
		if _, ok := p.(content.ToolCall); ok {
			return true
		}
	}
	return false
}

func hasToolResult(t content.Turn) bool {
	for _, p := range t.Parts() {
		if _, ok := p.(content.ToolResult); ok {
			return true
		}
	}
	return false
}

func geminiContents(turns []content.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		c := &genai.Content{Role: string(t.Role())}
		for _, part := range t.Parts() {
			switch p := part.(type) {
			case content.Text:
				c.Parts = append(c.Parts, genai.NewPartFromText(p.Body))
			case content.InlineMedia:
				c.Parts = append(c.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data},
				})
			case content.ToolCall:
				c.Parts = append(c.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: p.Name, Args: p.Arguments},
				})
			case content.ToolResult:
				c.Parts = append(c.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: p.Name, Response: resultMap(p.Result)},
				})
			}
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func resultMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if resp == nil {
		return nil, Transient(errors.New("nil response"))
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, ContentPolicy("prompt blocked: " + string(fb.BlockReason))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, Transient(errors.New("no candidates in response"))
	}
	cand := resp.Candidates[0]
	reason := string(cand.FinishReason)
	if geminiPolicyReasons[reason] {
		return nil, ContentPolicy("finish reason " + reason)
	}

	out := &ChatResponse{FinishReason: reason}
	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			switch {
			case part.FunctionCall != nil:
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			case part.InlineData != nil && len(part.InlineData.Data) > 0:
				out.Media = append(out.Media, content.InlineMedia{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				})
			case part.Text != "":
				text.WriteString(part.Text)
			}
		}
		out.Text = text.String()
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func classifyGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Reason: "timeout", Err: err}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindTransient, Reason: fmt.Sprintf("http %d", apiErr.Code), Err: err}
	}
	return Transient(err)
}
