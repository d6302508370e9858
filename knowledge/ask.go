package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/monitor"
	"github.com/hubenschmidt/go-ragcore/vector"
)

const answerSystemPrompt = `You answer questions using only the numbered passages provided.
If the passages do not contain the answer, say that you do not know.
Cite passages by number.`

// Answer is the generated reply and the passages it was grounded on.
type Answer struct {
	Text    string
	Sources []vector.ScoredRecord
}

// Ask retrieves passages for question and hands them to the chat
// collaborator. q.Text is replaced by question.
func (s *Service) Ask(ctx context.Context, question string, q Query) (*Answer, error) {
	if s.chat == nil {
		return nil, core.Configuration("no chat client configured")
	}
	start := time.Now()
	answer, err := s.ask(ctx, question, q)
	monitor.Track(s.collector, monitor.OpAsk, 1, start, err)
	return answer, err
}

func (s *Service) ask(ctx context.Context, question string, q Query) (*Answer, error) {
	q.Text = question
	sources, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	resp, err := s.chat.Chat(ctx, s.chatModel, answerSystemPrompt, BuildPrompt(question, sources))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Text: resp.Content, Sources: sources}, nil
}

// BuildPrompt lays out ranked passages followed by the question.
func BuildPrompt(question string, sources []vector.ScoredRecord) string {
	var sb strings.Builder
	if len(sources) == 0 {
		sb.WriteString("No relevant passages were found.\n\n")
	} else {
		fmt.Fprintf(&sb, "Found %d relevant passages:\n\n", len(sources))
	}
	for i, r := range sources {
		fmt.Fprintf(&sb, "--- Passage %d (score: %.3f) ---\n", i+1, r.Similarity)
		sb.WriteString(r.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
