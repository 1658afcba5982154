package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"legalmind/internal/domain"
)

// DefaultHistoryBudget is the prompt token budget for the mapped history.
const DefaultHistoryBudget = 12000

// ChatConfig configures a ChatExecutor.
type ChatConfig struct {
	HistoryBudget int // zero = DefaultHistoryBudget
	MaxTokens     int // completion limit passed to the provider, zero = provider default
}

// ChatExecutor runs an agent turn as a single chat completion.
type ChatExecutor struct {
	provider domain.LLMProvider
	counter  domain.TokenCounter
	cfg      ChatConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewChatExecutor creates a ChatExecutor. counter may be nil, in which case
// the heuristic counter is used.
func NewChatExecutor(provider domain.LLMProvider, counter domain.TokenCounter, cfg ChatConfig, logger *slog.Logger) *ChatExecutor {
	if counter == nil {
		counter = NewHeuristicCounter()
	}
	if cfg.HistoryBudget <= 0 {
		cfg.HistoryBudget = DefaultHistoryBudget
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ChatExecutor{provider: provider, counter: counter, cfg: cfg, logger: logger, now: time.Now}
}

// Invoke implements domain.AgentExecutor.
func (e *ChatExecutor) Invoke(ctx context.Context, agent domain.AgentConfig, history []domain.Message) (domain.Message, error) {
	msgs := e.BuildMessages(agent, history)
	resp, err := e.provider.Chat(ctx, domain.ChatRequest{
		Model:       agent.Model,
		Messages:    msgs,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: agent.Temperature,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("agent %s: %w", agent.ID, err)
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return domain.Message{}, fmt.Errorf("agent %s: %w: empty reply", agent.ID, domain.ErrProviderError)
	}
	e.logger.Debug("agent turn completed",
		"agent", agent.ID, "provider", e.provider.Name(),
		"messages", len(msgs), "tokens", resp.Usage.TotalTokens)
	return domain.AgentMessage(agent.ID, content, e.now()), nil
}

// BuildMessages maps the shared history to the chat wire format for agent.
// The first user message is always kept; the newest messages are kept while
// they fit the history budget.
func (e *ChatExecutor) BuildMessages(agent domain.AgentConfig, history []domain.Message) []domain.ChatMessage {
	system := domain.ChatMessage{Role: domain.ChatRoleSystem, Content: agent.Instructions}
	budget := e.cfg.HistoryBudget - e.counter.CountMessages([]domain.ChatMessage{system})

	firstIdx := -1
	for i, m := range history {
		if m.Role == domain.RoleUser {
			firstIdx = i
			break
		}
	}
	if firstIdx >= 0 {
		budget -= e.counter.CountMessages([]domain.ChatMessage{toChat(agent.ID, history[firstIdx])})
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		if i == firstIdx {
			start = i
			continue
		}
		cost := e.counter.CountMessages([]domain.ChatMessage{toChat(agent.ID, history[i])})
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	out := make([]domain.ChatMessage, 0, len(history)-start+2)
	out = append(out, system)
	if firstIdx >= 0 && firstIdx < start {
		out = append(out, toChat(agent.ID, history[firstIdx]))
	}
	for _, m := range history[start:] {
		out = append(out, toChat(agent.ID, m))
	}
	return out
}

// toChat maps one history entry. Replies from other agents are attributed so
// the model can tell the participants apart.
func toChat(self domain.AgentID, m domain.Message) domain.ChatMessage {
	if m.Role == domain.RoleUser {
		return domain.ChatMessage{Role: domain.ChatRoleUser, Content: m.Content}
	}
	if m.Author == self {
		return domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: m.Content}
	}
	return domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: fmt.Sprintf("[%s] %s", m.Author, m.Content)}
}

var _ domain.AgentExecutor = (*ChatExecutor)(nil)
