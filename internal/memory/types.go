package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role tags who authored a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation log. Turns are immutable once
// appended; the store only ever adds and reads them.
type Turn struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists per-channel conversation logs. Insertion order is
// preserved; there are no update or delete operations.
type Store interface {
	// AppendTurn adds a turn to the end of its channel's log.
	AppendTurn(ctx context.Context, turn Turn) error
	// AppendExchange appends a user turn and the assistant turn that
	// answered it. Either both land in the log or neither does.
	AppendExchange(ctx context.Context, userTurn, assistantTurn Turn) error
	// Recent returns the last limit turns for a channel in original
	// insertion order, fewer if the log is shorter, and an empty slice
	// for limit <= 0.
	Recent(ctx context.Context, channelID string, limit int) ([]Turn, error)
	Close() error
}

// withDefaults fills the ID and CreatedAt a caller left empty.
func withDefaults(turn Turn) Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return turn
}
