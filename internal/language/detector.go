// Package language classifies query text into the small closed set of
// language tags the reasoning engines understand.
package language

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Tag is the wire form of a detected language.
type Tag string

var (
	// English is the default classification for unknown or ambiguous input.
	English = Tag(language.English.String())
	// Hindi covers predominantly Devanagari input.
	Hindi = Tag(language.Hindi.String())
	// Mixed covers code-switched Hindi/English ("Hinglish") input.
	Mixed = Tag("hi-en-mixed")
)

// mixedTokenThreshold is the minimum token count each script must reach
// before input is classified as mixed rather than majority-script.
const mixedTokenThreshold = 2

// Detect classifies text into en, hi or hi-en-mixed. It is deterministic,
// side-effect free and never fails; empty or ambiguous input yields en.
func Detect(text string) Tag {
	text = strings.TrimSpace(text)
	if text == "" {
		return English
	}

	var latinTokens, devanagariTokens int
	for _, token := range strings.Fields(text) {
		switch dominantScript(token) {
		case scriptLatin:
			latinTokens++
		case scriptDevanagari:
			devanagariTokens++
		}
	}

	switch {
	case latinTokens >= mixedTokenThreshold && devanagariTokens >= mixedTokenThreshold:
		return Mixed
	case devanagariTokens > latinTokens:
		return Hindi
	default:
		return English
	}
}

type script int

const (
	scriptOther script = iota
	scriptLatin
	scriptDevanagari
)

func dominantScript(token string) script {
	var latin, devanagari int
	for _, r := range token {
		switch {
		case unicode.Is(unicode.Devanagari, r):
			devanagari++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case devanagari > latin:
		return scriptDevanagari
	case latin > 0:
		return scriptLatin
	default:
		return scriptOther
	}
}
