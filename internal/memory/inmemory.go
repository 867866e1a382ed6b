package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a process-lifetime memory store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn = withDefaults(turn)
	s.turns[turn.ChannelID] = append(s.turns[turn.ChannelID], turn)
	return nil
}

func (s *InMemoryStore) AppendExchange(_ context.Context, userTurn, assistantTurn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	userTurn = withDefaults(userTurn)
	assistantTurn = withDefaults(assistantTurn)
	s.turns[userTurn.ChannelID] = append(s.turns[userTurn.ChannelID], userTurn)
	s.turns[assistantTurn.ChannelID] = append(s.turns[assistantTurn.ChannelID], assistantTurn)
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, channelID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[channelID]
	if len(arr) == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
