package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
)

const lockShards = 64

// Manager owns conversation state: the ephemeral cache in front, durable
// storage behind. Operations on one conversation id are serialized;
// different ids only contend when they share a lock shard.
type Manager struct {
	storage Storage
	cache   Cache
	locks   [lockShards]sync.Mutex
}

// NewManager creates a state manager. A nil cache gets an in-process
// TTLCache with DefaultTTL.
func NewManager(storage Storage, cache Cache) *Manager {
	if cache == nil {
		cache = NewTTLCache(DefaultTTL)
	}
	return &Manager{storage: storage, cache: cache}
}

func (m *Manager) lock(conversationID string) func() {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	mu := &m.locks[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}

// GetOrCreate returns the conversation, loading or creating it as needed.
func (m *Manager) GetOrCreate(ctx context.Context, conversationID string) (*PersistentState, error) {
	unlock := m.lock(conversationID)
	defer unlock()
	return m.getOrCreate(ctx, conversationID)
}

func (m *Manager) getOrCreate(ctx context.Context, conversationID string) (*PersistentState, error) {
	if state, ok, err := m.cache.Get(ctx, conversationID); err != nil {
		log.Printf("⚠️ State cache read failed for %s: %v", conversationID, err)
	} else if ok {
		return state, nil
	}

	state, err := m.storage.LoadConversation(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[State] creating conversation %s", conversationID)
		state, err = m.storage.CreateConversation(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	m.cacheState(ctx, state)
	return state, nil
}

// mutate applies fn to the current state under the id lock, persists the
// result and refreshes the cache.
func (m *Manager) mutate(ctx context.Context, conversationID string, fn func(*PersistentState)) (*PersistentState, error) {
	unlock := m.lock(conversationID)
	defer unlock()

	state, err := m.getOrCreate(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	fn(state)

	if err := m.storage.SaveConversation(ctx, state); err != nil {
		// The cached copy may be ahead of storage now.
		m.cache.Delete(ctx, conversationID)
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	m.cacheState(ctx, state)
	return state.Clone(), nil
}

func (m *Manager) cacheState(ctx context.Context, state *PersistentState) {
	if err := m.cache.Set(ctx, state); err != nil {
		log.Printf("⚠️ State cache write failed for %s: %v", state.ConversationID, err)
	}
}

// Update appends turn (numbering it) and merges extra into its params and
// the extracted context.
func (m *Manager) Update(ctx context.Context, conversationID string, turn Turn, extra map[string]any) (*PersistentState, error) {
	return m.mutate(ctx, conversationID, func(s *PersistentState) {
		turn.TurnNum = s.LastTurnNum() + 1
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now().UTC()
		}
		if len(extra) > 0 {
			params := copyMap(turn.ExtractedParams)
			if params == nil {
				params = make(map[string]any, len(extra))
			}
			for k, v := range extra {
				params[k] = v
			}
			turn.ExtractedParams = params
		}
		s.AddTurn(turn)
	})
}

// SetAwaitingResponse records that question is waiting for an answer.
func (m *Manager) SetAwaitingResponse(ctx context.Context, conversationID, question string) error {
	_, err := m.mutate(ctx, conversationID, func(s *PersistentState) {
		s.AwaitingResponse = true
		s.LastQuestion = question
		s.UpdatedAt = time.Now().UTC()
	})
	return err
}

// ClearAwaitingResponse clears the flag and returns the pending question,
// or "" when none was pending.
func (m *Manager) ClearAwaitingResponse(ctx context.Context, conversationID string) (string, error) {
	var question string
	_, err := m.mutate(ctx, conversationID, func(s *PersistentState) {
		if s.AwaitingResponse {
			question = s.LastQuestion
		}
		s.AwaitingResponse = false
		s.LastQuestion = ""
		s.UpdatedAt = time.Now().UTC()
	})
	return question, err
}

// SetAwaitingSlot makes the next turn answer slot of moveID.
func (m *Manager) SetAwaitingSlot(ctx context.Context, conversationID, moveID, slot string) error {
	_, err := m.mutate(ctx, conversationID, func(s *PersistentState) {
		s.AwaitingSlotMove = moveID
		s.AwaitingSlotName = slot
		s.UpdatedAt = time.Now().UTC()
	})
	return err
}

func (m *Manager) ClearAwaitingSlot(ctx context.Context, conversationID string) error {
	_, err := m.mutate(ctx, conversationID, func(s *PersistentState) {
		s.AwaitingSlotMove = ""
		s.AwaitingSlotName = ""
		s.UpdatedAt = time.Now().UTC()
	})
	return err
}

// GetContext returns a copy of the extracted context.
func (m *Manager) GetContext(ctx context.Context, conversationID string) (map[string]any, error) {
	state, err := m.GetOrCreate(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return copyOrEmpty(state.ExtractedContext), nil
}

// Delete removes the conversation permanently.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	unlock := m.lock(conversationID)
	defer unlock()

	if err := m.storage.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if err := m.cache.Delete(ctx, conversationID); err != nil {
		log.Printf("⚠️ State cache delete failed for %s: %v", conversationID, err)
	}
	log.Printf("[State] deleted conversation %s", conversationID)
	return nil
}

// CleanupOld removes conversations idle for longer than olderThan and
// evicts their cached copies, so a later turn starts them fresh.
func (m *Manager) CleanupOld(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := m.storage.CleanupOldConversations(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup conversations: %w", err)
	}
	for _, id := range ids {
		unlock := m.lock(id)
		if err := m.cache.Delete(ctx, id); err != nil {
			log.Printf("⚠️ State cache delete failed for %s: %v", id, err)
		}
		unlock()
	}
	log.Printf("[State] cleaned up %d old conversations", len(ids))
	return len(ids), nil
}

// Cleanup sweeps expired cache entries.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	return m.cache.Cleanup(ctx)
}

// Slot storage passes straight through so Manager can back slot filling.

func (m *Manager) GetSlot(ctx context.Context, conversationID, moveID, name string) (any, bool, error) {
	return m.storage.GetSlot(ctx, conversationID, moveID, name)
}

func (m *Manager) SaveSlot(ctx context.Context, conversationID, moveID, name string, value any, slotType string) error {
	return m.storage.SaveSlot(ctx, conversationID, moveID, name, value, slotType)
}

func (m *Manager) GetAllSlotsForMove(ctx context.Context, conversationID, moveID string) (map[string]any, error) {
	return m.storage.GetAllSlotsForMove(ctx, conversationID, moveID)
}

func (m *Manager) ClearSlotsForMove(ctx context.Context, conversationID, moveID string) error {
	return m.storage.ClearSlotsForMove(ctx, conversationID, moveID)
}

// History renders the last n turns as chat messages for prompt building.
func History(state *PersistentState, n int) []llms.ChatMessage {
	if state == nil {
		return nil
	}
	var msgs []llms.ChatMessage
	for _, t := range state.RecentTurns(n) {
		if t.UserInput != "" {
			msgs = append(msgs, llms.HumanChatMessage{Content: t.UserInput})
		}
		if t.Response != "" {
			msgs = append(msgs, llms.AIChatMessage{Content: t.Response})
		}
	}
	return msgs
}
