package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drok-bot/drok/internal/content"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewGeminiProvider(context.Background(), GeminiOptions{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func userHistory(text string) []content.Turn {
	return []content.Turn{content.MustTurn(content.RoleUser, content.Text{Body: text})}
}

func TestGeminiChatText(t *testing.T) {
	var body map[string]any
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Hello"},{"text":", world"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}
		}`))
	})

	resp, err := p.Chat(context.Background(), &ChatRequest{
		History:           userHistory("hi"),
		SystemInstruction: "be brief",
		Tools: []ToolDeclaration{{
			Name:        "get_information",
			Description: "search",
			Parameters:  map[string]Param{"search_for": {Type: "string", Description: "query"}},
		}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "Hello, world" {
		t.Errorf("expected text 'Hello, world', got %q", resp.Text)
	}
	if resp.FinishReason != "STOP" {
		t.Errorf("unexpected finish reason %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("expected total tokens 6, got %d", resp.Usage.TotalTokens)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Error("expected systemInstruction in request body")
	}
	if _, ok := body["tools"]; !ok {
		t.Error("expected tools in request body")
	}
}

func TestGeminiChatToolCallAndMedia(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[
				{"text":"thinking out loud","thought":true},
				{"functionCall":{"name":"generate_image","args":{"image_description":"a cat"}}},
				{"inlineData":{"mimeType":"image/png","data":"iVBORw0K"}}
			]},"finishReason":"STOP"}]
		}`))
	})
	resp, err := p.Chat(context.Background(), &ChatRequest{History: userHistory("draw a cat")})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "" {
		t.Errorf("thought parts must be dropped, got %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "generate_image" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["image_description"] != "a cat" {
		t.Errorf("unexpected arguments %+v", resp.ToolCalls[0].Arguments)
	}
	if len(resp.Media) != 1 || resp.Media[0].MIMEType != "image/png" || len(resp.Media[0].Data) == 0 {
		t.Fatalf("unexpected media %+v", resp.Media)
	}
}

func TestGeminiChatContentPolicy(t *testing.T) {
	cases := map[string]string{
		"finish": `{"candidates":[{"finishReason":"SAFETY"}]}`,
		"prompt": `{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			})
			_, err := p.Chat(context.Background(), &ChatRequest{History: userHistory("x")})
			if KindOf(err) != KindContentPolicy {
				t.Fatalf("expected content policy error, got %v", err)
			}
		})
	}
}

func TestGeminiChatTransient(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	})
	_, err := p.Chat(context.Background(), &ChatRequest{History: userHistory("x")})
	if err == nil || KindOf(err) != KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestGeminiChatTimeout(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, &ChatRequest{History: userHistory("x")})
	if err == nil || KindOf(err) != KindTransient {
		t.Fatalf("expected transient timeout, got %v", err)
	}
}

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(context.Background(), GeminiOptions{}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestTrimOrphans(t *testing.T) {
	call := content.MustTurn(content.RoleModel, content.ToolCall{Name: "get_information"})
	result := content.MustTurn(content.RoleUser, content.ToolResult{Name: "get_information", Result: "sunny"})
	answer := content.MustTurn(content.RoleModel, content.Text{Body: "It is sunny."})
	user := content.MustTurn(content.RoleUser, content.Text{Body: "thanks"})

	got := trimOrphans([]content.Turn{result, call, user, call, result})
	if len(got) != 3 || got[0].Text() != "thanks" {
		t.Fatalf("unexpected trimmed history: %d turns", len(got))
	}
	if len(trimOrphans([]content.Turn{call})) != 0 {
		t.Fatal("lone call turn should be trimmed")
	}

	got = trimOrphans([]content.Turn{answer, user})
	if len(got) != 2 || got[0].Role() != content.RoleModel {
		t.Fatalf("quoted model turn should be kept, got %d turns", len(got))
	}
}

func TestGeminiChatSendsQuotedBotTurn(t *testing.T) {
	var body struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`))
	})

	history := []content.Turn{
		content.MustTurn(content.RoleModel, content.Text{Body: "[Drok - B1]: the earlier bot answer"}),
		content.MustTurn(content.RoleUser, content.Text{Body: "[alice - U1]: what did you mean?"}),
	}
	if _, err := p.Chat(context.Background(), &ChatRequest{History: history}); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if len(body.Contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(body.Contents))
	}
	if body.Contents[0].Role != "user" || body.Contents[0].Parts[0].Text != "[Drok - B1]: the earlier bot answer" {
		t.Fatalf("quoted turn not sent first as user: %+v", body.Contents[0])
	}
	if body.Contents[1].Parts[0].Text != "[alice - U1]: what did you mean?" {
		t.Fatalf("unexpected current turn: %+v", body.Contents[1])
	}
}

func TestGeminiContentsConvertsAllParts(t *testing.T) {
	turns := []content.Turn{
		content.MustTurn(content.RoleUser,
			content.Text{Body: "look"},
			content.InlineMedia{MIMEType: "image/jpeg", Data: []byte{1, 2}}),
		content.MustTurn(content.RoleModel, content.ToolCall{Name: "get_information", Arguments: map[string]any{"search_for": "x"}}),
		content.MustTurn(content.RoleUser, content.ToolResult{Name: "get_information", Result: "y"}),
	}
	got := geminiContents(turns)
	if len(got) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "model" {
		t.Fatalf("unexpected roles %q %q", got[0].Role, got[1].Role)
	}
	if got[0].Parts[1].InlineData == nil || got[0].Parts[1].InlineData.MIMEType != "image/jpeg" {
		t.Fatal("expected inline data part")
	}
	if got[1].Parts[0].FunctionCall == nil || got[1].Parts[0].FunctionCall.Name != "get_information" {
		t.Fatal("expected function call part")
	}
	fr := got[2].Parts[0].FunctionResponse
	if fr == nil || fr.Response["result"] != "y" {
		t.Fatalf("expected wrapped function response, got %+v", fr)
	}
}
