// Package llm defines the Provider interface for text-generation backends.
//
// The tutor uses text models for one-shot jobs only: turning a source text
// into a course outline, writing a lesson and answering a search over a
// lesson. A Provider therefore exposes a single request/response call plus
// static capability metadata, without coupling callers to any SDK.
//
// Implementors must be safe for concurrent use and must return promptly when
// the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything a one-shot generation needs. At least
// one of Prompt or Messages must be set.
type CompletionRequest struct {
	// Model overrides the provider's default model for this request. Providers
	// that serve a single fixed model may ignore it.
	Model string

	// SystemPrompt is an optional high-priority instruction placed before the
	// conversation.
	SystemPrompt string

	// Prompt is a single user turn appended after Messages.
	Prompt string

	// Messages is optional prior conversation.
	Messages []Message

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// ResponseSchema, when set, asks for a JSON object matching this JSON
	// Schema. Providers without native structured output describe the schema in
	// the system prompt instead.
	ResponseSchema *Schema

	// ThinkingBudget is the number of reasoning tokens a thinking model may
	// spend. Zero leaves the provider default; providers without the notion
	// ignore it.
	ThinkingBudget int
}

// CompletionResponse is the full reply.
type CompletionResponse struct {
	// Content is the text of the reply. It may be empty.
	Content string

	// Model is the model that actually served the request, when reported.
	Model string

	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	//
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the provider's default model.
	Capabilities() ModelCapabilities
}
