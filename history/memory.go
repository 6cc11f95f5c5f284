package history

import (
	"context"
	"sort"
	"sync"

	"github.com/room4-2/ConverseLive/chat"
)

type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]chat.Message),
	}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[sessionID] = append(s.messages[sessionID], m)
	return nil
}

func (s *MemoryStore) Page(_ context.Context, sessionID string, offset, limit int) ([]chat.Message, error) {
	if offset < 0 {
		return nil, ErrInvalidPage
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	start, end := window(len(msgs), offset, limit)
	out := make([]chat.Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func (s *MemoryStore) Sessions(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
