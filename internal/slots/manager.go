package slots

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/avvvet/lgdl-runtime/internal/game"
)

// Store persists slot values per (conversation, move).
type Store interface {
	SaveSlot(ctx context.Context, conversationID, moveID, name string, value any, slotType string) error
	GetAllSlotsForMove(ctx context.Context, conversationID, moveID string) (map[string]any, error)
	ClearSlotsForMove(ctx context.Context, conversationID, moveID string) error
}

// FillOutcome is the result of one slot-filling turn.
type FillOutcome struct {
	// Complete is true once every required slot has a value.
	Complete bool
	// Next is the first missing slot and Prompt its question.
	Next   string
	Prompt string
	// Values holds filled slots plus defaults.
	Values map[string]any
	// Filled lists slots filled during this turn.
	Filled []string
	// AwaitedFilled reports whether the awaited slot got a value.
	AwaitedFilled bool
}

// Manager tracks slot values and decides what to ask next.
type Manager struct {
	store  Store
	engine *Engine

	mu    sync.Mutex
	local map[string]map[string]any
}

// NewManager uses store for persistence. A nil store keeps values in
// process memory only.
func NewManager(store Store, engine *Engine) *Manager {
	if engine == nil {
		engine = &Engine{regex: RegexExtractor{}}
	}
	return &Manager{
		store:  store,
		engine: engine,
		local:  make(map[string]map[string]any),
	}
}

// Process fills what it can for move from this turn's input. Values come
// only from pattern captures named after a slot, or from free text when
// awaitingSlot names a slot of this move.
func (m *Manager) Process(
	ctx context.Context,
	conversationID string,
	move *game.Move,
	input string,
	captured map[string]any,
	awaitingSlot string,
	ec ExtractionContext,
) (*FillOutcome, error) {
	out := &FillOutcome{}

	for _, def := range move.Slots {
		raw, ok := captured[def.Name]
		if !ok || raw == nil || strings.TrimSpace(fmt.Sprint(raw)) == "" {
			continue
		}
		value, valid := Validate(def, raw)
		if !valid {
			log.Printf("[Slot] captured %s rejected by %s validation", def.Name, def.Type)
			continue
		}
		if err := m.Fill(ctx, conversationID, move.ID, def, value); err != nil {
			return nil, err
		}
		out.Filled = append(out.Filled, def.Name)
		if def.Name == awaitingSlot {
			out.AwaitedFilled = true
		}
	}

	if awaitingSlot != "" && !out.AwaitedFilled {
		if def, ok := move.Slot(awaitingSlot); ok && strings.TrimSpace(input) != "" {
			if ec.FilledSlots == nil {
				current, err := m.Values(ctx, conversationID, move.ID)
				if err != nil {
					return nil, err
				}
				ec.FilledSlots = current
			}
			res := m.engine.Extract(ctx, strings.TrimSpace(input), def, ec)
			if res.Success {
				if value, valid := Validate(def, res.Value); valid {
					log.Printf("[Slot] Extracted value using %s: %v (conf=%.2f)", res.Strategy, value, res.Confidence)
					if err := m.Fill(ctx, conversationID, move.ID, def, value); err != nil {
						return nil, err
					}
					out.Filled = append(out.Filled, def.Name)
					out.AwaitedFilled = true
				} else {
					log.Printf("[Slot] %s value rejected by %s validation", def.Name, def.Type)
				}
			} else if res.Reasoning != "" {
				log.Printf("[Slot] %s not extracted: %s", def.Name, res.Reasoning)
			}
		}
	}

	missing, err := m.Missing(ctx, conversationID, move)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		def, _ := move.Slot(missing[0])
		out.Next = def.Name
		out.Prompt = def.PromptText()
		return out, nil
	}

	values, err := m.Values(ctx, conversationID, move.ID)
	if err != nil {
		return nil, err
	}
	for _, def := range move.Slots {
		if _, ok := values[def.Name]; !ok && def.Default != nil {
			values[def.Name] = def.Default
		}
	}
	out.Complete = true
	out.Values = values
	return out, nil
}

// Missing lists required slots with neither a value nor a default, in
// declaration order.
func (m *Manager) Missing(ctx context.Context, conversationID string, move *game.Move) ([]string, error) {
	if len(move.Slots) == 0 {
		return nil, nil
	}
	filled, err := m.Values(ctx, conversationID, move.ID)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, def := range move.Slots {
		if !def.IsRequired() {
			continue
		}
		if _, ok := filled[def.Name]; ok {
			continue
		}
		if def.Default != nil {
			continue
		}
		missing = append(missing, def.Name)
	}
	return missing, nil
}

// Fill stores an already validated value.
func (m *Manager) Fill(ctx context.Context, conversationID, moveID string, def game.SlotDefinition, value any) error {
	if m.store != nil {
		if err := m.store.SaveSlot(ctx, conversationID, moveID, def.Name, value, string(def.Type)); err != nil {
			return fmt.Errorf("failed to save slot %s: %w", def.Name, err)
		}
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := localKey(conversationID, moveID)
	if m.local[key] == nil {
		m.local[key] = make(map[string]any)
	}
	m.local[key][def.Name] = value
	return nil
}

// Values returns a copy of the filled slots for a move.
func (m *Manager) Values(ctx context.Context, conversationID, moveID string) (map[string]any, error) {
	if m.store != nil {
		values, err := m.store.GetAllSlotsForMove(ctx, conversationID, moveID)
		if err != nil {
			return nil, fmt.Errorf("failed to load slots: %w", err)
		}
		if values == nil {
			values = make(map[string]any)
		}
		return values, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any)
	for k, v := range m.local[localKey(conversationID, moveID)] {
		out[k] = v
	}
	return out, nil
}

// Clear drops all slot values for a move once it completes.
func (m *Manager) Clear(ctx context.Context, conversationID, moveID string) error {
	if m.store != nil {
		if err := m.store.ClearSlotsForMove(ctx, conversationID, moveID); err != nil {
			return fmt.Errorf("failed to clear slots: %w", err)
		}
		return nil
	}
	m.mu.Lock()
	delete(m.local, localKey(conversationID, moveID))
	m.mu.Unlock()
	return nil
}

func localKey(conversationID, moveID string) string {
	return conversationID + "\x00" + moveID
}
