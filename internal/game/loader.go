package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidGame wraps every load-time validation failure.
var ErrInvalidGame = errors.New("invalid compiled game")

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)(\?)?\}`)

// Load reads a compiled game from a .json, .yaml or .yml file.
func Load(path string) (*CompiledGame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes and compiles a JSON game definition.
func ParseJSON(data []byte) (*CompiledGame, error) {
	var g CompiledGame
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse game JSON: %w", err)
	}
	if err := Compile(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ParseYAML decodes and compiles a YAML game definition.
func ParseYAML(data []byte) (*CompiledGame, error) {
	var g CompiledGame
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse game YAML: %w", err)
	}
	if err := Compile(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Compile resolves thresholds, compiles trigger regexes and validates the
// game. It must run before the game is shared.
func Compile(g *CompiledGame) error {
	for _, mv := range g.Moves {
		if mv == nil {
			continue
		}
		mv.Threshold = resolveThreshold(mv)
		for ti := range mv.Triggers {
			for pi := range mv.Triggers[ti].Patterns {
				p := &mv.Triggers[ti].Patterns[pi]
				re, captures, err := CompilePattern(p.Text)
				if err != nil {
					return fmt.Errorf("%w: move %s pattern %q: %v", ErrInvalidGame, mv.ID, p.Text, err)
				}
				p.re = re
				p.captures = captures
			}
		}
		for si := range mv.Slots {
			if mv.Slots[si].Type == "" {
				mv.Slots[si].Type = SlotString
			}
			if mv.Slots[si].Extraction == "" {
				mv.Slots[si].Extraction = ExtractRegex
			}
		}
	}
	return Validate(g)
}

// CompilePattern turns pattern text into a case-insensitive regex:
// '*' becomes '.*' and '{name}' or '{name?}' becomes a named capture.
func CompilePattern(text string) (*regexp.Regexp, []string, error) {
	var captures []string
	rx := strings.ReplaceAll(text, "*", ".*")
	rx = placeholderRe.ReplaceAllStringFunc(rx, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		name := sub[1]
		captures = append(captures, name)
		// Go group names cannot contain dots.
		group := strings.ReplaceAll(name, ".", "__")
		return "(?P<" + group + ">.+)"
	})
	re, err := regexp.Compile("(?i)" + rx)
	if err != nil {
		return nil, nil, err
	}
	return re, captures, nil
}

func resolveThreshold(mv *Move) float64 {
	if mv.Confidence == nil {
		if mv.Threshold > 0 {
			return mv.Threshold
		}
		return DefaultThreshold
	}
	switch mv.Confidence.Kind {
	case "numeric":
		switch v := mv.Confidence.Value.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return DefaultThreshold
	case "level":
		if mv.Confidence.Num > 0 {
			return mv.Confidence.Num
		}
		level := mv.Confidence.Level
		if s, ok := mv.Confidence.Value.(string); ok && level == "" {
			level = s
		}
		if t, ok := Levels[level]; ok {
			return t
		}
		return Levels["adaptive"]
	}
	return DefaultThreshold
}

var validate = validator.New()

// Validate checks the structural invariants of a compiled game.
func Validate(g *CompiledGame) error {
	if err := validate.Struct(g); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}

	seen := make(map[string]bool, len(g.Moves))
	for _, mv := range g.Moves {
		if seen[mv.ID] {
			return fmt.Errorf("%w: duplicate move id %q", ErrInvalidGame, mv.ID)
		}
		seen[mv.ID] = true

		slotNames := make(map[string]bool, len(mv.Slots))
		for _, s := range mv.Slots {
			if slotNames[s.Name] {
				return fmt.Errorf("%w: move %s: duplicate slot %q", ErrInvalidGame, mv.ID, s.Name)
			}
			slotNames[s.Name] = true
			if err := validateSlot(s); err != nil {
				return fmt.Errorf("%w: move %s: %v", ErrInvalidGame, mv.ID, err)
			}
		}

		for _, b := range mv.Blocks {
			if err := validateBlock(b); err != nil {
				return fmt.Errorf("%w: move %s: %v", ErrInvalidGame, mv.ID, err)
			}
		}
	}
	return nil
}

func validateSlot(s SlotDefinition) error {
	switch s.Type {
	case SlotString, SlotNumber, SlotEnum, SlotTimeframe, SlotDate:
	case SlotRange:
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			return fmt.Errorf("slot %s: min %v greater than max %v", s.Name, *s.Min, *s.Max)
		}
	default:
		return fmt.Errorf("slot %s: unknown type %q", s.Name, s.Type)
	}
	switch s.Extraction {
	case ExtractRegex, ExtractSemantic, ExtractHybrid:
	default:
		return fmt.Errorf("slot %s: unknown extraction strategy %q", s.Name, s.Extraction)
	}
	return nil
}

func validateBlock(b Block) error {
	switch b.Kind {
	case BlockConditional:
		if err := validateCondition(b.Condition); err != nil {
			return err
		}
		return validateActions(b.Actions)
	case BlockIfChain:
		for _, l := range b.Chain {
			if err := validateCondition(l.Condition); err != nil {
				return err
			}
			if err := validateActions(l.Actions); err != nil {
				return err
			}
		}
		return nil
	case BlockSlotsFilled:
		return validateActions(b.Actions)
	}
	return fmt.Errorf("unknown block kind %q", b.Kind)
}

func validateCondition(c *Condition) error {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case CondSpecial:
		switch c.Special {
		case SpecialConfident, SpecialUncertain, SpecialSuccessful, SpecialFailed:
			return nil
		}
		return fmt.Errorf("unknown special condition %q", c.Special)
	case CondAnd, CondOr:
		if c.Left == nil || c.Right == nil {
			return fmt.Errorf("%s condition needs left and right", c.Kind)
		}
		if err := validateCondition(c.Left); err != nil {
			return err
		}
		return validateCondition(c.Right)
	case CondNot:
		if c.Operand == nil {
			return fmt.Errorf("not condition needs an operand")
		}
		return validateCondition(c.Operand)
	case CondCompare:
		switch c.Op {
		case "=", "!=", ">", "<", ">=", "<=":
		default:
			return fmt.Errorf("unknown comparison %q", c.Op)
		}
		if c.Ref == "" {
			return fmt.Errorf("comparison needs a ref")
		}
		return nil
	case CondRef:
		if c.Ref == "" {
			return fmt.Errorf("ref condition needs a ref")
		}
		return nil
	}
	return fmt.Errorf("unknown condition kind %q", c.Kind)
}

func validateActions(actions []Action) error {
	for _, a := range actions {
		switch a.Kind {
		case ActionRespond:
			if a.Text == "" {
				return fmt.Errorf("respond action needs text")
			}
		case ActionOfferChoices:
			if len(a.Choices) == 0 {
				return fmt.Errorf("offer_choices action needs choices")
			}
		case ActionAskClarification, ActionClarify:
			if a.Question == "" {
				return fmt.Errorf("%s action needs a question", a.Kind)
			}
		case ActionCapability:
			if a.Function == "" {
				return fmt.Errorf("capability action needs a function")
			}
		case ActionEscalate, ActionContinue, ActionReturn:
		default:
			return fmt.Errorf("unknown action type %q", a.Kind)
		}
	}
	return nil
}
