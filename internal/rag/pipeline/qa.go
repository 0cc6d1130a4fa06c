package pipeline

import (
	"context"
	"fmt"
	"strings"

	"supportbot/internal/models"
	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/schema"
	"supportbot/pkg/logger"
)

// maxHistoryChars bounds how much conversation history goes into the prompt.
// Older turns are dropped first; the current query is always included.
const maxHistoryChars = 4000

// QAPipeline generates an answer from a query, retrieved passages, and the
// conversation so far.
type QAPipeline struct {
	llm interfaces.LLM
	log *logger.Logger
}

// NewQAPipeline creates a new QAPipeline.
func NewQAPipeline(llm interfaces.LLM, log *logger.Logger) *QAPipeline {
	return &QAPipeline{
		llm: llm,
		log: log,
	}
}

// Run composes a prompt and calls the LLM to generate an answer.
func (p *QAPipeline) Run(ctx context.Context, query string, passages []*schema.Document, history []models.Turn) (string, error) {
	prompt := ComposePrompt(passages, history, query)

	p.log.Debug(fmt.Sprintf("Sending prompt of %d characters to LLM", len(prompt)))
	answer, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

// ComposePrompt builds the generation prompt from the retrieved passages,
// the conversation history, and the current query. It is a pure function:
// the same inputs always yield the same prompt. History is truncated to the
// most recent turns that fit within maxHistoryChars.
func ComposePrompt(passages []*schema.Document, history []models.Turn, query string) string {
	var sb strings.Builder

	sb.WriteString("Based on the following context, please answer the question.\n\nContext:\n")
	for i, doc := range passages {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("Context %d:\n%s\n", i+1, doc.Text))
	}
	sb.WriteString("---\n")

	if recent := recentTurns(history, maxHistoryChars); len(recent) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, turn := range recent {
			sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
	}

	sb.WriteString(fmt.Sprintf("\nQuestion: %s", query))
	return sb.String()
}

// recentTurns returns the suffix of history whose rendered size fits within
// budget characters.
func recentTurns(history []models.Turn, budget int) []models.Turn {
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		size := len(history[i].Role) + len(history[i].Content) + 3
		if total+size > budget {
			break
		}
		total += size
		start = i
	}
	return history[start:]
}
