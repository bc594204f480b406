package memory

import (
	"sync"

	"github.com/hupe1980/stagemesh/core"
)

// InMemoryStore is a volatile core.MemoryStore implementation storing
// conversations in a process local map, keyed by the engine's
// "{userId}_{pipelineId}" namespacing scheme. It is safe for concurrent
// access and returns defensive copies to prevent external mutation of
// internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]core.ConversationEntry
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string][]core.ConversationEntry)}
}

// LoadConversation returns a copy of the stored history for a key, or an
// empty slice when the key is unknown.
func (s *InMemoryStore) LoadConversation(key string) ([]core.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.conversations[key]
	out := make([]core.ConversationEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// SaveConversation replaces the stored history for a key with a copy of the
// provided entries.
func (s *InMemoryStore) SaveConversation(key string, entries []core.ConversationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]core.ConversationEntry, len(entries))
	copy(stored, entries)
	s.conversations[key] = stored
	return nil
}

// Len returns the number of stored conversations.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
