package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Storage.LoadConversation for unknown ids.
var ErrNotFound = errors.New("conversation not found")

// Turn is one processed user utterance. TurnNum is assigned by Manager.
type Turn struct {
	TurnNum         int            `json:"turn_num"`
	Timestamp       time.Time      `json:"timestamp"`
	UserInput       string         `json:"user_input"`
	SanitizedInput  string         `json:"sanitized_input"`
	MatchedMove     string         `json:"matched_move,omitempty"`
	Confidence      float64        `json:"confidence"`
	Response        string         `json:"response"`
	ExtractedParams map[string]any `json:"extracted_params,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// PersistentState is everything kept about a conversation across turns.
// Only Manager mutates it.
type PersistentState struct {
	ConversationID   string         `json:"conversation_id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Turns            []Turn         `json:"turns"`
	ExtractedContext map[string]any `json:"extracted_context"`
	AwaitingResponse bool           `json:"awaiting_response"`
	LastQuestion     string         `json:"last_question,omitempty"`
	AwaitingSlotMove string         `json:"awaiting_slot_for_move,omitempty"`
	AwaitingSlotName string         `json:"awaiting_slot_name,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// NewState returns an empty conversation stamped with now.
func NewState(conversationID string) *PersistentState {
	now := time.Now().UTC()
	return &PersistentState{
		ConversationID:   conversationID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Turns:            []Turn{},
		ExtractedContext: make(map[string]any),
	}
}

// AddTurn appends t and merges its params into the extracted context.
// Later values win.
func (s *PersistentState) AddTurn(t Turn) {
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = time.Now().UTC()
	if s.ExtractedContext == nil {
		s.ExtractedContext = make(map[string]any)
	}
	for k, v := range t.ExtractedParams {
		s.ExtractedContext[k] = v
	}
}

// RecentTurns returns the last n turns, oldest first.
func (s *PersistentState) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LastTurnNum is 0 for a fresh conversation.
func (s *PersistentState) LastTurnNum() int {
	if len(s.Turns) == 0 {
		return 0
	}
	return s.Turns[len(s.Turns)-1].TurnNum
}

// Clone copies the state deep enough that callers cannot alias the
// cached copy. Param values themselves are shared.
func (s *PersistentState) Clone() *PersistentState {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.ExtractedParams = copyMap(t.ExtractedParams)
		t.Metadata = copyMap(t.Metadata)
		out.Turns[i] = t
	}
	out.ExtractedContext = copyMap(s.ExtractedContext)
	if out.ExtractedContext == nil {
		out.ExtractedContext = make(map[string]any)
	}
	out.Metadata = copyMap(s.Metadata)
	return &out
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Storage is the durable backend behind Manager.
type Storage interface {
	CreateConversation(ctx context.Context, conversationID string) (*PersistentState, error)
	// LoadConversation returns ErrNotFound when the id is unknown.
	LoadConversation(ctx context.Context, conversationID string) (*PersistentState, error)
	SaveConversation(ctx context.Context, state *PersistentState) error
	DeleteConversation(ctx context.Context, conversationID string) error
	// CleanupOldConversations returns the ids it deleted.
	CleanupOldConversations(ctx context.Context, olderThan time.Duration) ([]string, error)

	GetSlot(ctx context.Context, conversationID, moveID, name string) (any, bool, error)
	SaveSlot(ctx context.Context, conversationID, moveID, name string, value any, slotType string) error
	GetAllSlotsForMove(ctx context.Context, conversationID, moveID string) (map[string]any, error)
	ClearSlotsForMove(ctx context.Context, conversationID, moveID string) error

	Close() error
}

// Cache is the ephemeral layer in front of Storage.
type Cache interface {
	Get(ctx context.Context, conversationID string) (*PersistentState, bool, error)
	Set(ctx context.Context, state *PersistentState) error
	Delete(ctx context.Context, conversationID string) error
	// Cleanup drops expired entries and reports how many went.
	Cleanup(ctx context.Context) (int, error)
}
