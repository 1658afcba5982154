package domain

import "time"

// Role of a conversation entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one entry in a run's shared history. Author is empty for user
// messages and names the producing agent otherwise.
type Message struct {
	Role      Role      `json:"role"`
	Author    AgentID   `json:"author,omitempty"`
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// UserMessage builds a user-authored history entry.
func UserMessage(content string, at time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: at}
}

// AgentMessage builds an agent-authored history entry.
func AgentMessage(author AgentID, content string, at time.Time) Message {
	return Message{Role: RoleAgent, Author: author, Content: content, Timestamp: at}
}

// IsFromAgent reports whether the message was produced by the given agent.
func (m Message) IsFromAgent(id AgentID) bool {
	return m.Role == RoleAgent && m.Author == id
}

// LastMessage returns the newest history entry and false for empty history.
func LastMessage(history []Message) (Message, bool) {
	if len(history) == 0 {
		return Message{}, false
	}
	return history[len(history)-1], true
}

// FirstUserMessage returns the earliest user entry, which holds the original
// query for a run.
func FirstUserMessage(history []Message) (Message, bool) {
	for _, m := range history {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return Message{}, false
}

// HasResponded reports whether id has produced any reply in history.
func HasResponded(history []Message, id AgentID) bool {
	for _, m := range history {
		if m.IsFromAgent(id) {
			return true
		}
	}
	return false
}

// Chat roles on the LLM wire.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a message sent to or received from an LLM provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string      `json:"id"`
	Model     string      `json:"model"`
	Message   ChatMessage `json:"message"`
	Usage     Usage       `json:"usage"`
	CreatedAt time.Time   `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
