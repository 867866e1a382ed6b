// Package rephrase rewrites a user question into a search-optimized query
// using recent conversational context.
package rephrase

import (
	"context"
	"fmt"
	"strings"

	"github.com/avandelay/parley/internal/llm"
	"github.com/avandelay/parley/internal/memory"
	"github.com/avandelay/parley/internal/prompt"
)

// instruction mirrors the rewrite policy: keep meaning and key terms, never
// invent facts, and leave the question alone when nothing needs changing.
const instruction = `Rewrite the question for search while keeping its meaning and key terms intact.
If the conversation history is empty, DO NOT change the query.
If no changes are needed, output the current question as is.
Output only the rewritten query, nothing else.

Conversation history:
%s

User Query: %s
Rewritten Query:`

// Rephraser delegates query rewriting to a generator.
type Rephraser struct {
	generator llm.Generator
}

func New(generator llm.Generator) *Rephraser {
	return &Rephraser{generator: generator}
}

// Rephrase returns a retrieval query for the question. With empty memory the
// question is returned unchanged, byte for byte, without calling the
// generator: rewriting an isolated question risks drifting from user intent.
// On any upstream failure the error is returned and the caller falls back to
// the original question.
func (r *Rephraser) Rephrase(ctx context.Context, question string, turns []memory.Turn) (string, error) {
	if len(turns) == 0 {
		return question, nil
	}

	req := llm.Request{Messages: []llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(instruction, prompt.RenderMemory(turns), question),
	}}}

	resp, err := r.generator.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("rephrase query: %w", err)
	}

	query := cleanup(resp.Text)
	if query == "" {
		return "", fmt.Errorf("rephrase query: %w", llm.ErrInvalidResponse)
	}
	return query, nil
}

// cleanup strips label echoes and wrapping quotes some models produce.
func cleanup(text string) string {
	s := strings.TrimSpace(text)
	for _, label := range []string{"Rewritten Query:", "Query:"} {
		if rest, ok := strings.CutPrefix(s, label); ok {
			s = strings.TrimSpace(rest)
		}
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	// Keep only the first line; anything after is model chatter.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
