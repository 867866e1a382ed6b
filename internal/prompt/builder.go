// Package prompt assembles the role-tagged prompt sent to the generator.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/avandelay/parley/internal/llm"
	"github.com/avandelay/parley/internal/memory"
	"github.com/avandelay/parley/internal/retrieval"
)

// ErrMissingVariable marks an assembly-time contract violation: the user
// template referenced a placeholder the builder does not provide. This is a
// programmer error and aborts the turn instead of producing a silently
// truncated prompt.
var ErrMissingVariable = errors.New("missing template variable")

// DefaultSystemTemplate matches the assistant persona the service shipped with.
const DefaultSystemTemplate = "You are a friendly and helpful AI assistant. Engage in a casual and informative conversation with the user."

// DefaultUserTemplate renders memory, documents and the question into one
// synthesized user turn. Recognized placeholders: memory, documents,
// question, user_name, timestamp.
const DefaultUserTemplate = `Given the conversation history and the provided supporting documents, respond to the user's question in a friendly manner.

Conversation history:
{{.memory}}

Supporting documents:
{{.documents}}

User name: {{.user_name}}
User message: {{.question}}
Current time: {{.timestamp}}
Response:`

// Context carries everything one generation call may reference.
type Context struct {
	MemoryTurns []memory.Turn
	Documents   []retrieval.Document
	Question    string
	UserName    string
	Timestamp   time.Time
}

// Builder holds parsed system and user templates. Builders are immutable;
// hot reload swaps in a freshly parsed one.
type Builder struct {
	system *template.Template
	user   *template.Template
}

// NewBuilder parses the two templates. Empty strings select the defaults.
func NewBuilder(systemTemplate, userTemplate string) (*Builder, error) {
	if strings.TrimSpace(systemTemplate) == "" {
		systemTemplate = DefaultSystemTemplate
	}
	if strings.TrimSpace(userTemplate) == "" {
		userTemplate = DefaultUserTemplate
	}

	system, err := template.New("system").Option("missingkey=error").Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}
	user, err := template.New("user").Option("missingkey=error").Parse(userTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse user template: %w", err)
	}
	return &Builder{system: system, user: user}, nil
}

// Build renders the prompt: system instructions first, then one user turn
// containing memory, documents, the question and auxiliary fields.
func (b *Builder) Build(pc Context) ([]llm.Message, error) {
	vars := map[string]any{
		"memory":    RenderMemory(pc.MemoryTurns),
		"documents": RenderDocuments(pc.Documents),
		"question":  pc.Question,
		"user_name": pc.UserName,
		"timestamp": pc.Timestamp.UTC().Format(time.RFC3339),
	}

	systemText, err := render(b.system, vars)
	if err != nil {
		return nil, err
	}
	userText, err := render(b.user, vars)
	if err != nil {
		return nil, err
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemText},
		{Role: llm.RoleUser, Content: userText},
	}, nil
}

func render(t *template.Template, vars map[string]any) (string, error) {
	var out strings.Builder
	if err := t.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingVariable, err)
	}
	return out.String(), nil
}

// RenderMemory flattens turns into "role: content" lines in log order.
func RenderMemory(turns []memory.Turn) string {
	if len(turns) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}

// RenderDocuments flattens retrieved documents into a numbered list.
func RenderDocuments(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(docs))
	for i, d := range docs {
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, strings.TrimSpace(d.Content)))
	}
	return strings.Join(lines, "\n")
}
