package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"legalmind/internal/domain"
	"legalmind/internal/infra/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any chat-completions endpoint: OpenAI itself, an
// Azure deployment behind a compatible gateway, or a local server.
type OpenAIProvider struct {
	name     string
	endpoint string
	header   http.Header
	defaults domain.ChatRequest
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenAIProvider creates a provider. An empty base URL means the public
// OpenAI API.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &OpenAIProvider{
		name:     cfg.Name,
		endpoint: base + "/chat/completions",
		header:   header,
		defaults: domain.ChatRequest{Model: cfg.Model, MaxTokens: cfg.MaxTokens},
		client:   NewHTTPClient(cfg),
		logger:   logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.defaults.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = p.defaults.MaxTokens
	}
	return observeChat(ctx, p.logger, p.name, req, p.complete)
}

func (p *OpenAIProvider) complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var out openaiResponse
	if err := postJSON(ctx, p.client, p.endpoint, p.header, toOpenAIRequest(req), &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", domain.ErrProviderError)
	}
	if out.Choices[0].FinishReason == "length" {
		p.logger.Warn("llm reply truncated at max_tokens", "provider", p.name, "model", out.Model, "max_tokens", req.MaxTokens)
	}
	return out.toDomain(), nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Created int64          `json:"created"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toOpenAIRequest leaves temperature unset at zero so the server default
// applies; agents that want determinism set a small positive value.
func toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	wire := openaiRequest{
		Model:     req.Model,
		Messages:  make([]openaiMessage, len(req.Messages)),
		MaxTokens: max(req.MaxTokens, 0),
	}
	for i, m := range req.Messages {
		wire.Messages[i] = openaiMessage(m)
	}
	if req.Temperature > 0 {
		t := req.Temperature
		wire.Temperature = &t
	}
	return wire
}

func (r openaiResponse) toDomain() *domain.ChatResponse {
	u := r.Usage
	resp := &domain.ChatResponse{
		ID:        r.ID,
		Model:     r.Model,
		Usage:     domain.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens},
		CreatedAt: time.Unix(r.Created, 0),
	}
	if len(r.Choices) > 0 {
		resp.Message = domain.ChatMessage(r.Choices[0].Message)
	}
	return resp
}
