package slots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/game"
)

var (
	numberRe = regexp.MustCompile(`-?\d+\.?\d*`)

	timeframeUnitRes = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(second|sec|s)s?`),
		regexp.MustCompile(`(\d+)\s*(minute|min|m)s?`),
		regexp.MustCompile(`(\d+)\s*(hour|hr|h)s?`),
		regexp.MustCompile(`(\d+)\s*(day|d)s?`),
		regexp.MustCompile(`(\d+)\s*(week|wk|w)s?`),
		regexp.MustCompile(`(\d+)\s*(month|mo)s?`),
		regexp.MustCompile(`(\d+)\s*(year|yr|y)s?`),
		regexp.MustCompile(`\ban?\s+(second|minute|hour|day|week|month|year)`),
	}
	timeframePhrases = []string{"just now", "recently", "a while", "earlier", "today", "yesterday", "ago"}

	isoDateRe    = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	usDateRe     = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2,4})`)
	dashedDateRe = regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{2,4})`)
)

// Range bounds used when a range slot leaves them unset.
const (
	defaultRangeMin = 0.0
	defaultRangeMax = 100.0
)

// Validate coerces value to the slot's type. The bool is false when the
// value does not satisfy the type's constraints.
func Validate(def game.SlotDefinition, value any) (any, bool) {
	if value == nil {
		return nil, false
	}
	switch def.Type {
	case game.SlotNumber:
		return parseNumber(value)
	case game.SlotRange:
		n, ok := parseNumber(value)
		if !ok {
			return nil, false
		}
		lo, hi := defaultRangeMin, defaultRangeMax
		if def.Min != nil {
			lo = *def.Min
		}
		if def.Max != nil {
			hi = *def.Max
		}
		if n < lo || n > hi {
			return nil, false
		}
		return n, true
	case game.SlotEnum:
		if len(def.EnumValues) == 0 {
			return fmt.Sprint(value), true
		}
		return matchEnum(def.EnumValues, fmt.Sprint(value))
	case game.SlotTimeframe:
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
		for _, re := range timeframeUnitRes {
			if re.MatchString(s) {
				return s, true
			}
		}
		for _, p := range timeframePhrases {
			if strings.Contains(s, p) {
				return s, true
			}
		}
		return nil, false
	case game.SlotDate:
		if iso, ok := normalizeDate(fmt.Sprint(value)); ok {
			return iso, true
		}
		return nil, false
	default:
		return fmt.Sprint(value), true
	}
}

func parseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	m := numberRe.FindString(fmt.Sprint(value))
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(m, "."), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// matchEnum tries an exact case-insensitive match, then a substring match
// in either direction.
func matchEnum(values []string, input string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", false
	}
	for _, v := range values {
		if strings.ToLower(v) == s {
			return v, true
		}
	}
	for _, v := range values {
		lv := strings.ToLower(v)
		if strings.Contains(s, lv) || strings.Contains(lv, s) {
			return v, true
		}
	}
	return "", false
}

// normalizeDate finds an ISO, US (MM/DD/YYYY) or dashed (MM-DD-YYYY) date
// in text and returns it as YYYY-MM-DD.
func normalizeDate(text string) (string, bool) {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		return buildDate(m[1], m[2], m[3])
	}
	if m := usDateRe.FindStringSubmatch(text); m != nil {
		return buildDate(m[3], m[1], m[2])
	}
	if m := dashedDateRe.FindStringSubmatch(text); m != nil {
		return buildDate(m[3], m[1], m[2])
	}
	return "", false
}

func buildDate(year, month, day string) (string, bool) {
	y, _ := strconv.Atoi(year)
	mo, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if len(year) == 2 {
		y += 2000
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
