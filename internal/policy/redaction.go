// Package policy provides content-safety primitives shared by the rule
// engine and the merge layer.
package policy

import "regexp"

type piiPattern struct {
	re          *regexp.Regexp
	replacement string
}

// Ordered so card numbers are masked before the looser phone pattern can
// claim them.
var piiPatterns = []piiPattern{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, p := range piiPatterns {
		next := p.re.ReplaceAllString(out, p.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// ContainsPII reports whether input matches any known PII pattern without
// rewriting it.
func ContainsPII(input string) bool {
	for _, p := range piiPatterns {
		if p.re.MatchString(input) {
			return true
		}
	}
	return false
}
