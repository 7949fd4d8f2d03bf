package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/didata-ai/didata/pkg/provider/llm"
)

func courseSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"title": {Type: "string", Description: "Título"},
			"modules": {
				Type: "array",
				Items: &llm.Schema{
					Type:       "object",
					Properties: map[string]*llm.Schema{"lessons": {Type: "array", Items: &llm.Schema{Type: "string"}}},
					Required:   []string{"lessons"},
				},
			},
		},
		Required: []string{"title", "modules"},
	}
}

func TestConvertSchema(t *testing.T) {
	t.Parallel()

	got := convertSchema(courseSchema())
	if got.Type != genai.TypeObject {
		t.Fatalf("Type = %v; want OBJECT", got.Type)
	}
	if got.Properties["title"].Description != "Título" {
		t.Fatalf("title description = %q", got.Properties["title"].Description)
	}
	mods := got.Properties["modules"]
	if mods.Type != genai.TypeArray || mods.Items == nil || mods.Items.Type != genai.TypeObject {
		t.Fatalf("modules = %+v; want array of objects", mods)
	}
	if len(mods.Items.Required) != 1 || mods.Items.Required[0] != "lessons" {
		t.Fatalf("nested required = %v", mods.Items.Required)
	}
	if mods.Items.Properties["lessons"].Items.Type != genai.TypeString {
		t.Fatal("leaf type not mapped to STRING")
	}
	if convertSchema(nil) != nil {
		t.Fatal("convertSchema(nil) != nil")
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	cfg := buildConfig(llm.CompletionRequest{
		SystemPrompt:   "base",
		Messages:       []llm.Message{{Role: "system", Content: "extra"}},
		Temperature:    0.5,
		MaxTokens:      256,
		ResponseSchema: &llm.Schema{Type: "object"},
		ThinkingBudget: 16000,
	})
	if cfg.SystemInstruction == nil || len(cfg.SystemInstruction.Parts) == 0 {
		t.Fatal("system instruction missing")
	}
	if text := cfg.SystemInstruction.Parts[0].Text; text != "base\n\nextra" {
		t.Fatalf("system instruction = %q", text)
	}
	if cfg.ResponseMIMEType != "application/json" || cfg.ResponseSchema == nil {
		t.Fatalf("structured output not requested: %+v", cfg)
	}
	if cfg.ThinkingConfig == nil || *cfg.ThinkingConfig.ThinkingBudget != 16000 {
		t.Fatal("thinking budget not set")
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 || cfg.MaxOutputTokens != 256 {
		t.Fatalf("sampling = %v / %d", cfg.Temperature, cfg.MaxOutputTokens)
	}

	bare := buildConfig(llm.CompletionRequest{Prompt: "x"})
	if bare.SystemInstruction != nil || bare.ThinkingConfig != nil || bare.ResponseSchema != nil {
		t.Fatalf("bare config = %+v; want zero knobs", bare)
	}
}

func TestBuildContents(t *testing.T) {
	t.Parallel()

	contents, err := buildContents(llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "s"},
			{Role: "user", Content: "u"},
			{Role: "assistant", Content: "a"},
		},
		Prompt: "p",
	})
	if err != nil {
		t.Fatalf("buildContents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d; want 3", len(contents))
	}
	if contents[1].Role != genai.RoleModel {
		t.Fatalf("assistant role = %q; want model", contents[1].Role)
	}

	if _, err := buildContents(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
	if _, err := buildContents(llm.CompletionRequest{Messages: []llm.Message{{Role: "tool"}}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	p, _ := New("k", WithModel("gemini-2.0-flash"))
	if caps := p.Capabilities(); caps.SupportsThinking || caps.MaxOutputTokens != 8_192 {
		t.Fatalf("gemini-2.0 caps = %+v", caps)
	}
	p, _ = New("k", WithModel(ProModel))
	if caps := p.Capabilities(); !caps.SupportsThinking || !caps.SupportsStructuredOutput {
		t.Fatalf("%s caps = %+v", ProModel, caps)
	}
}

func TestComplete_RoundTrip(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "{\"title\":\"Go\"}"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 11, "candidatesTokenCount": 5, "totalTokenCount": 16},
  "modelVersion": "gemini-3-flash-preview"
}`))
	}))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Prompt:         "Texto",
		ResponseSchema: courseSchema(),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"title":"Go"}` {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 16 || resp.Model != FlashModel {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(gotPath, FlashModel+":generateContent") {
		t.Fatalf("path = %q; want generateContent on %s", gotPath, FlashModel)
	}
	gc, _ := gotBody["generationConfig"].(map[string]any)
	if gc["responseMimeType"] != "application/json" {
		t.Fatalf("generationConfig = %v; want JSON mime type", gc)
	}
}
