package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/templates"
)

// Action status values seen by successful/failed conditions.
const (
	statusOK  = "ok"
	statusErr = "err"
)

type evalEnv struct {
	score      float64
	threshold  float64
	lastStatus string
	params     map[string]any
}

// evalCondition decides whether a block runs. A nil condition is
// unconditional.
func evalCondition(c *game.Condition, env evalEnv) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case game.CondSpecial:
		switch c.Special {
		case game.SpecialConfident:
			return env.score >= env.threshold
		case game.SpecialUncertain:
			return env.score < env.threshold
		case game.SpecialSuccessful:
			return env.lastStatus == statusOK
		case game.SpecialFailed:
			return env.lastStatus == statusErr
		}
		return false
	case game.CondAnd:
		return evalCondition(c.Left, env) && evalCondition(c.Right, env)
	case game.CondOr:
		return evalCondition(c.Left, env) || evalCondition(c.Right, env)
	case game.CondNot:
		return !evalCondition(c.Operand, env)
	case game.CondCompare:
		lhs, ok := templates.Lookup(env.params, c.Ref)
		if !ok {
			return false
		}
		return compare(lhs, c.Op, c.Value)
	case game.CondRef:
		v, _ := templates.Lookup(env.params, c.Ref)
		return truthy(v)
	}
	return false
}

func compare(lhs any, op string, rhs any) bool {
	if a, ok := toFloat(lhs); ok {
		if b, ok := toFloat(rhs); ok {
			switch op {
			case "=":
				return a == b
			case "!=":
				return a != b
			case ">":
				return a > b
			case "<":
				return a < b
			case ">=":
				return a >= b
			case "<=":
				return a <= b
			}
			return false
		}
	}
	l, r := fmt.Sprint(lhs), fmt.Sprint(rhs)
	switch op {
	case "=":
		return strings.EqualFold(l, r)
	case "!=":
		return !strings.EqualFold(l, r)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
