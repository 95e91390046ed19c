package models

import "time"

// NATS Request from the API layer
type TurnRequest struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Text           string         `json:"text"`
	Context        map[string]any `json:"context,omitempty"`
}

type ConversationMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Message string `json:"message"`
}

// NATS Response to the API layer
type TurnResponse struct {
	ConversationID    string               `json:"conversation_id"`
	MoveID            string               `json:"move_id"`
	Confidence        float64              `json:"confidence"`
	Response          string               `json:"response"`
	Action            *string              `json:"action"`
	ManifestID        string               `json:"manifest_id"`
	FirewallTriggered bool                 `json:"firewall_triggered"`
	Stage             string               `json:"stage,omitempty"`
	Negotiation       *NegotiationManifest `json:"negotiation,omitempty"`
	AwaitingSlot      string               `json:"awaiting_slot,omitempty"`
	Params            map[string]any       `json:"params,omitempty"`
	SlotsFilled       map[string]any       `json:"slots_filled,omitempty"`
	ErrorCode         *string              `json:"error_code,omitempty"`
	ErrorMessage      *string              `json:"error_message,omitempty"`
}

// NegotiationManifest is the per-turn record of a clarification loop.
type NegotiationManifest struct {
	Enabled         bool               `json:"enabled"`
	Rounds          []NegotiationEntry `json:"rounds"`
	FinalConfidence float64            `json:"final_confidence"`
	Reason          string             `json:"reason"`
}

type NegotiationEntry struct {
	N      int     `json:"n"`
	Q      string  `json:"q"`
	A      string  `json:"a"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Delta  float64 `json:"delta"`
}

// ClarifyRequest is sent to the client when the engine needs an answer
// in the middle of a turn.
type ClarifyRequest struct {
	ConversationID string   `json:"conversation_id"`
	Question       string   `json:"question"`
	Options        []string `json:"options,omitempty"`
}

type ClarifyAnswer struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

// Interaction is the post-turn record consumed by the learning subsystem.
type Interaction struct {
	Timestamp          time.Time      `json:"timestamp"`
	ConversationID     string         `json:"conversation_id"`
	UserInput          string         `json:"user_input"`
	MatchedPattern     string         `json:"matched_pattern,omitempty"`
	MatchedMove        string         `json:"matched_move,omitempty"`
	Confidence         float64        `json:"confidence"`
	ActionTaken        string         `json:"action_taken"`
	Outcome            string         `json:"outcome"`
	NegotiationRounds  int            `json:"negotiation_rounds"`
	FinalUnderstanding string         `json:"final_understanding,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
}

// Interaction actions
const (
	ActionRespond   = "respond"
	ActionNegotiate = "negotiate"
	ActionEscalate  = "escalate"
	ActionSlotFill  = "slot_fill"
)

// Interaction outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeNegotiation = "negotiation"
	OutcomePending     = "pending"
)

// Move id reported when nothing matched
const MoveNone = "none"

// Error codes
const (
	ErrorInvalidRequest = "INVALID_REQUEST"
	ErrorStorage        = "STORAGE_ERROR"
	ErrorInternal       = "INTERNAL_ERROR"
	ErrorParseError     = "PARSE_ERROR"
	ErrorTimeout        = "TIMEOUT"
)
