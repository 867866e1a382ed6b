package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic local replies when no LLM backend is
// configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	var lastUser string
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			lastUser = m.Content
		}
	}
	lastUser = strings.TrimSpace(lastUser)
	if lastUser == "" {
		return Response{Text: "I am listening."}, nil
	}

	// Echo the tail of the prompt so tests can assert the assembled content
	// actually reached the generator.
	if len(lastUser) > 200 {
		lastUser = lastUser[len(lastUser)-200:]
	}
	return Response{Text: fmt.Sprintf("(mock) %s", lastUser)}, nil
}
