// Package gemini implements llm.Provider on top of the Google Gen AI SDK
// (google.golang.org/genai) against the Gemini Developer API.
//
// Structured output uses the API's native response schema and thinking
// models receive the request's ThinkingBudget.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/didata-ai/didata/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Default models for the two text jobs.
const (
	FlashModel = "gemini-3-flash-preview"
	ProModel   = "gemini-3-pro-preview"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel sets the default model used when a request names none.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements llm.Provider for the Gemini API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// New creates a Provider. The SDK client is built lazily on first use.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	p := &Provider{apiKey: apiKey, model: FlashModel}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) sdk(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if p.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
		}
		p.client, p.clientErr = genai.NewClient(ctx, cfg)
	})
	return p.client, p.clientErr
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	resp, err := client.Models.GenerateContent(ctx, model, contents, buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	out := &llm.CompletionResponse{
		Content: resp.Text(),
		Model:   resp.ModelVersion,
	}
	if out.Model == "" {
		out.Model = model
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:            1_048_576,
		MaxOutputTokens:          65_536,
		SupportsStructuredOutput: true,
	}
	lower := strings.ToLower(p.model)
	switch {
	case strings.HasPrefix(lower, "gemini-1.5"), strings.HasPrefix(lower, "gemini-2.0"):
		caps.MaxOutputTokens = 8_192
	default:
		caps.SupportsThinking = true
	}
	return caps
}

// buildContents maps prior messages and the prompt onto Gemini contents.
// System messages inside Messages are folded into the system instruction by
// buildConfig and skipped here.
func buildContents(req llm.CompletionRequest) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case "system":
		default:
			return nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}
	}
	if req.Prompt != "" {
		contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: empty request")
	}
	return contents, nil
}

// buildConfig translates the request knobs into a GenerateContentConfig.
func buildConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	system := req.SystemPrompt
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		}
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = convertSchema(req.ResponseSchema)
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(req.ThinkingBudget))}
	}
	return cfg
}

// convertSchema maps an llm.Schema onto the SDK's schema type.
func convertSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Items:       convertSchema(s.Items),
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(v)
		}
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
