// Package templates renders respond action text against turn params.
//
// Supported placeholders:
//
//	{var}           value of var
//	{var.path}      nested map lookup
//	{var?fallback}  fallback when var is missing
//
// Missing values without a fallback render as "".
package templates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.]*?)(\?([^}]+))?\}`)

// Render substitutes placeholders in tmpl from vars.
func Render(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		path, fallback := sub[1], ""
		if sub[2] != "" {
			fallback = sub[3]
		}
		v, ok := Lookup(vars, path)
		if !ok || v == nil {
			return fallback
		}
		return format(v)
	})
}

// Lookup walks a dotted path through nested maps.
func Lookup(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, key := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
