package executor

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"legalmind/internal/domain"
)

// DefaultEncoding is the BPE encoding used by current OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// Per-message framing overhead of the chat format.
const (
	tokensPerMessage = 4
	tokensPerReply   = 3
)

// TokenCounter counts tokens with tiktoken, falling back to a rune heuristic
// when the encoding cannot be loaded.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads encoding. A load failure is logged and the counter
// degrades to the heuristic.
func NewTokenCounter(encoding string, logger *slog.Logger) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken encoding unavailable, using heuristic token count", "encoding", encoding, "error", err)
		}
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// NewHeuristicCounter returns a counter that never loads an encoding.
func NewHeuristicCounter() *TokenCounter { return &TokenCounter{} }

// CountTokens implements domain.TokenCounter.
func (c *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return utf8.RuneCountInString(text)/4 + 1
}

// CountMessages implements domain.TokenCounter.
func (c *TokenCounter) CountMessages(msgs []domain.ChatMessage) int {
	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage + c.CountTokens(m.Content) + c.CountTokens(m.Name)
	}
	return total
}

var _ domain.TokenCounter = (*TokenCounter)(nil)
