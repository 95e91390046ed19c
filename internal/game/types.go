package game

import (
	"regexp"
	"strings"
)

// CompiledGame is the immutable move structure produced by the external
// compiler. After Load returns it is shared read-only across turns.
type CompiledGame struct {
	Name         string              `json:"name" yaml:"name" validate:"required"`
	Description  string              `json:"description,omitempty" yaml:"description,omitempty"`
	Vocabulary   map[string][]string `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
	Moves        []*Move             `json:"moves" yaml:"moves" validate:"required,min=1,dive,required"`
	Capabilities []string            `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Move is a named unit of dialogue behavior.
type Move struct {
	ID         string           `json:"id" yaml:"id" validate:"required"`
	Threshold  float64          `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
	Confidence *ConfidenceSpec  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Triggers   []Trigger        `json:"triggers" yaml:"triggers"`
	Blocks     []Block          `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Slots      []SlotDefinition `json:"slots,omitempty" yaml:"slots,omitempty" validate:"dive"`
}

// ConfidenceSpec is the uncompiled form of a move threshold: either a
// numeric value or a named level.
type ConfidenceSpec struct {
	Kind  string  `json:"kind" yaml:"kind"` // "numeric" or "level"
	Value any     `json:"value" yaml:"value"`
	Level string  `json:"level,omitempty" yaml:"level,omitempty"`
	Num   float64 `json:"numeric,omitempty" yaml:"numeric,omitempty"`
}

// Levels maps named confidence levels to thresholds.
var Levels = map[string]float64{
	"low":      0.2,
	"medium":   0.5,
	"high":     0.8,
	"critical": 0.95,
	"adaptive": 0.7,
}

// DefaultThreshold applies when a move declares none.
const DefaultThreshold = 0.75

type Trigger struct {
	Participant string    `json:"participant" yaml:"participant"`
	Patterns    []Pattern `json:"patterns" yaml:"patterns"`
}

// Matchable reports whether the trigger's participant speaks in the
// conversation. Other participants are never matched.
func (t Trigger) Matchable() bool {
	return t.Participant == "user" || t.Participant == "assistant"
}

// Pattern is one trigger phrase. The regex is built once by Compile.
type Pattern struct {
	Text      string   `json:"text" yaml:"text" validate:"required"`
	Modifiers []string `json:"mods,omitempty" yaml:"mods,omitempty"`

	re       *regexp.Regexp
	captures []string
}

// Regex returns the compiled matcher for the pattern.
func (p *Pattern) Regex() *regexp.Regexp { return p.re }

// Captures returns the slot/param names captured by the pattern.
func (p *Pattern) Captures() []string { return p.captures }

// Match runs the pattern against text and returns the trimmed captures.
func (p *Pattern) Match(text string) (map[string]string, bool) {
	if p.re == nil {
		return nil, false
	}
	m := p.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(p.captures))
	for _, name := range p.captures {
		idx := p.re.SubexpIndex(strings.ReplaceAll(name, ".", "__"))
		if idx > 0 && idx < len(m) {
			params[name] = strings.TrimSpace(m[idx])
		}
	}
	return params, true
}

// HasModifier reports whether the pattern carries mod.
func (p *Pattern) HasModifier(mod string) bool {
	for _, m := range p.Modifiers {
		if m == mod {
			return true
		}
	}
	return false
}

type BlockKind string

const (
	BlockConditional BlockKind = "conditional"
	BlockIfChain     BlockKind = "if_chain"
	BlockSlotsFilled BlockKind = "slots_filled"
)

// Block is a branch of the move body. Conditional blocks carry Condition
// and Actions, if_chain blocks carry Chain, slots_filled blocks carry
// Actions only.
type Block struct {
	Kind      BlockKind  `json:"kind" yaml:"kind"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions   []Action   `json:"actions,omitempty" yaml:"actions,omitempty"`
	Chain     []Link     `json:"chain,omitempty" yaml:"chain,omitempty"`
}

type Link struct {
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions   []Action   `json:"actions" yaml:"actions"`
}

type ConditionKind string

const (
	CondSpecial ConditionKind = "special"
	CondAnd     ConditionKind = "and"
	CondOr      ConditionKind = "or"
	CondNot     ConditionKind = "not"
	CondCompare ConditionKind = "compare"
	CondRef     ConditionKind = "ref"
)

// Special condition names.
const (
	SpecialConfident  = "confident"
	SpecialUncertain  = "uncertain"
	SpecialSuccessful = "successful"
	SpecialFailed     = "failed"
)

type Condition struct {
	Kind    ConditionKind `json:"kind" yaml:"kind"`
	Special string        `json:"special,omitempty" yaml:"special,omitempty"`
	Left    *Condition    `json:"left,omitempty" yaml:"left,omitempty"`
	Right   *Condition    `json:"right,omitempty" yaml:"right,omitempty"`
	Operand *Condition    `json:"operand,omitempty" yaml:"operand,omitempty"`
	Ref     string        `json:"ref,omitempty" yaml:"ref,omitempty"`
	Op      string        `json:"op,omitempty" yaml:"op,omitempty"`
	Value   any           `json:"value,omitempty" yaml:"value,omitempty"`
}

type ActionKind string

const (
	ActionRespond          ActionKind = "respond"
	ActionOfferChoices     ActionKind = "offer_choices"
	ActionAskClarification ActionKind = "ask_clarification"
	ActionClarify          ActionKind = "clarify"
	ActionCapability       ActionKind = "capability"
	ActionEscalate         ActionKind = "escalate"
	ActionContinue         ActionKind = "continue"
	ActionReturn           ActionKind = "return"
)

// Action is a tagged union discriminated by Kind. Only the fields that
// belong to Kind are meaningful; Validate enforces the required ones.
type Action struct {
	Kind ActionKind `json:"type" yaml:"type"`

	// respond
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	// offer_choices
	Choices []string `json:"choices,omitempty" yaml:"choices,omitempty"`
	// ask_clarification / clarify
	Question  string   `json:"question,omitempty" yaml:"question,omitempty"`
	ParamName string   `json:"param_name,omitempty" yaml:"param_name,omitempty"`
	Options   []string `json:"options,omitempty" yaml:"options,omitempty"`
	// capability
	Service  string `json:"service,omitempty" yaml:"service,omitempty"`
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
	// escalate
	To string `json:"to,omitempty" yaml:"to,omitempty"`
}

// IsClarify reports whether the action asks the user for clarification.
func (a Action) IsClarify() bool {
	return a.Kind == ActionAskClarification || a.Kind == ActionClarify
}

type SlotType string

const (
	SlotString    SlotType = "string"
	SlotNumber    SlotType = "number"
	SlotRange     SlotType = "range"
	SlotEnum      SlotType = "enum"
	SlotTimeframe SlotType = "timeframe"
	SlotDate      SlotType = "date"
)

type ExtractionStrategy string

const (
	ExtractRegex    ExtractionStrategy = "regex"
	ExtractSemantic ExtractionStrategy = "semantic"
	ExtractHybrid   ExtractionStrategy = "hybrid"
)

// SlotDefinition describes one typed piece of information a move collects.
type SlotDefinition struct {
	Name            string              `json:"name" yaml:"name" validate:"required"`
	Type            SlotType            `json:"type" yaml:"type"`
	Required        *bool               `json:"required,omitempty" yaml:"required,omitempty"`
	Default         any                 `json:"default,omitempty" yaml:"default,omitempty"`
	Min             *float64            `json:"min,omitempty" yaml:"min,omitempty"`
	Max             *float64            `json:"max,omitempty" yaml:"max,omitempty"`
	EnumValues      []string            `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`
	Extraction      ExtractionStrategy  `json:"extraction_strategy,omitempty" yaml:"extraction_strategy,omitempty"`
	Vocabulary      map[string][]string `json:"vocabulary,omitempty" yaml:"vocabulary,omitempty"`
	SemanticContext string              `json:"semantic_context,omitempty" yaml:"semantic_context,omitempty"`
	Prompt          string              `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// IsRequired defaults to true when the definition leaves it unset.
func (s SlotDefinition) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// PromptText returns the question asked when the slot is missing.
func (s SlotDefinition) PromptText() string {
	if s.Prompt != "" {
		return s.Prompt
	}
	return "What is your " + s.Name + "?"
}

// Slot returns the named slot definition.
func (m *Move) Slot(name string) (SlotDefinition, bool) {
	for _, s := range m.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return SlotDefinition{}, false
}

// ClarifyAction returns the first clarification action found in a block
// conditioned on low confidence.
func (m *Move) ClarifyAction() (Action, bool) {
	for _, b := range m.Blocks {
		switch b.Kind {
		case BlockConditional:
			if !isUncertain(b.Condition) {
				continue
			}
			for _, a := range b.Actions {
				if a.IsClarify() {
					return a, true
				}
			}
		case BlockIfChain:
			for _, l := range b.Chain {
				if !isUncertain(l.Condition) {
					continue
				}
				for _, a := range l.Actions {
					if a.IsClarify() {
						return a, true
					}
				}
			}
		}
	}
	return Action{}, false
}

func isUncertain(c *Condition) bool {
	return c != nil && c.Kind == CondSpecial && c.Special == SpecialUncertain
}

// Move returns the move with the given id, or nil.
func (g *CompiledGame) Move(id string) *Move {
	for _, m := range g.Moves {
		if m.ID == id {
			return m
		}
	}
	return nil
}
