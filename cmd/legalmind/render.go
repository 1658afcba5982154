package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"legalmind/internal/domain"
)

const defaultWidth = 100

// renderAnswer formats the final answer of a run as terminal markdown with a
// short trailer. Rendering failures fall back to the raw text.
func renderAnswer(sum domain.RunSummary, width int) string {
	var b strings.Builder
	b.WriteString(sum.FinalAnswer)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "*run `%s` · %s · %d agent turns", sum.RunID, sum.TerminationReason, agentTurns(sum.History))
	if len(sum.Sequence) > 0 {
		fmt.Fprintf(&b, " · %d/%d steps", sum.Completed, sum.Total)
	}
	b.WriteString("*\n")
	return renderMarkdown(b.String(), width)
}

func renderMarkdown(md string, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func agentTurns(history []domain.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == domain.RoleAgent {
			n++
		}
	}
	return n
}

func terminalWidth() int {
	if v, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && v > 20 {
		return v - 4
	}
	return defaultWidth
}
