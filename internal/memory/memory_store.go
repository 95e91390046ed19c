package memory

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It backs tests and
// runs with durable state disabled.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*PersistentState
	slots         map[slotKey]map[string]any
}

type slotKey struct {
	conversation string
	move         string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*PersistentState),
		slots:         make(map[slotKey]map[string]any),
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conversationID string) (*PersistentState, error) {
	state := NewState(conversationID)
	s.mu.Lock()
	s.conversations[conversationID] = state.Clone()
	s.mu.Unlock()
	return state, nil
}

func (s *MemoryStore) LoadConversation(ctx context.Context, conversationID string) (*PersistentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryStore) SaveConversation(ctx context.Context, state *PersistentState) error {
	s.mu.Lock()
	s.conversations[state.ConversationID] = state.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	for k := range s.slots {
		if k.conversation == conversationID {
			delete(s.slots, k)
		}
	}
	return nil
}

func (s *MemoryStore) CleanupOldConversations(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for id, state := range s.conversations {
		if state.UpdatedAt.Before(cutoff) {
			delete(s.conversations, id)
			for k := range s.slots {
				if k.conversation == id {
					delete(s.slots, k)
				}
			}
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *MemoryStore) GetSlot(ctx context.Context, conversationID, moveID, name string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[slotKey{conversationID, moveID}][name]
	return v, ok, nil
}

func (s *MemoryStore) SaveSlot(ctx context.Context, conversationID, moveID, name string, value any, slotType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slotKey{conversationID, moveID}
	if s.slots[k] == nil {
		s.slots[k] = make(map[string]any)
	}
	s.slots[k][name] = value
	return nil
}

func (s *MemoryStore) GetAllSlotsForMove(ctx context.Context, conversationID, moveID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOrEmpty(s.slots[slotKey{conversationID, moveID}]), nil
}

func (s *MemoryStore) ClearSlotsForMove(ctx context.Context, conversationID, moveID string) error {
	s.mu.Lock()
	delete(s.slots, slotKey{conversationID, moveID})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyOrEmpty(in map[string]any) map[string]any {
	if in == nil {
		return make(map[string]any)
	}
	return copyMap(in)
}
