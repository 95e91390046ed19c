// Package firewall strips known prompt and markup injection patterns from
// user input before matching.
package firewall

import (
	"regexp"
	"strings"
)

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)ignore previous instructions`),
	regexp.MustCompile(`(?is)\]\]}>`),
	regexp.MustCompile(`(?is)<script>.*?</script>`),
	regexp.MustCompile(`(?is)' OR 1=1`),
}

// Sanitize removes every known pattern and trims the result. flagged is
// true when anything was removed. It never fails.
func Sanitize(input string) (cleaned string, flagged bool) {
	cleaned = input
	for _, p := range patterns {
		if p.MatchString(cleaned) {
			flagged = true
			cleaned = p.ReplaceAllString(cleaned, "")
		}
	}
	return strings.TrimSpace(cleaned), flagged
}
