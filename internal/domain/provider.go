package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "bedrock").
	Name() string
}

// TokenCounter estimates token usage of chat messages.
type TokenCounter interface {
	CountTokens(text string) int
	CountMessages(msgs []ChatMessage) int
}
