package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"legalmind/internal/domain"
)

// echoPreview is the number of runes of the latest message quoted back.
const echoPreview = 160

// EchoProvider is a deterministic offline provider. It answers with the
// first line of the system prompt and a preview of the newest message, which
// is enough to drive runs end to end without network access.
type EchoProvider struct {
	name string
	now  func() time.Time
}

// NewEchoProvider creates an EchoProvider.
func NewEchoProvider(name string) *EchoProvider {
	if name == "" {
		name = "echo"
	}
	return &EchoProvider{name: name, now: time.Now}
}

// Chat implements domain.LLMProvider.
func (p *EchoProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var system, last string
	for _, m := range req.Messages {
		if m.Role == domain.ChatRoleSystem && system == "" {
			system, _, _ = strings.Cut(m.Content, "\n")
			continue
		}
		last = m.Content
	}
	if utf8.RuneCountInString(last) > echoPreview {
		last = string([]rune(last)[:echoPreview]) + "..."
	}

	content := fmt.Sprintf("Reviewed %d messages. Latest: %s", len(req.Messages), last)
	if system != "" {
		content = system + "\n\n" + content
	}
	promptWords := 0
	for _, m := range req.Messages {
		promptWords += len(strings.Fields(m.Content))
	}
	completion := len(strings.Fields(content))

	return &domain.ChatResponse{
		ID:        "echo",
		Model:     req.Model,
		Message:   domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: content},
		Usage:     domain.Usage{PromptTokens: promptWords, CompletionTokens: completion, TotalTokens: promptWords + completion},
		CreatedAt: p.now(),
	}, nil
}

// Name implements domain.LLMProvider.
func (p *EchoProvider) Name() string { return p.name }
