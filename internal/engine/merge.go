package engine

import (
	"strings"

	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/policy"
)

// Source records which pass produced the final text.
type Source string

const (
	SourceRule     Source = "rule"
	SourceCreative Source = "creative"
	SourceMerged   Source = "merged"
)

// MergeResult is the reconciled answer. It is transient: the pipeline
// persists it only as a system turn.
type MergeResult struct {
	FinalText     string       `json:"final_text"`
	Language      language.Tag `json:"language_tag"`
	Source        Source       `json:"source"`
	SafetyApplied bool         `json:"safety_applied"`
}

// Merge reconciles the two passes. Precedence, in order:
//
//  1. A rule-pass block verdict wins unconditionally: safety never loses to
//     creativity.
//  2. Degenerate creative output falls back to the rule pass text.
//  3. A rule-pass modify verdict redacts the creative text (source merged).
//  4. Otherwise the creative text stands.
//
// Tie-break for non-safety disagreement: the rule pass's verdict and
// annotations always govern; the creative pass contributes prose only.
func Merge(ruleOut, creativeOut Output, lang language.Tag) MergeResult {
	if ruleOut.Verdict == VerdictBlock {
		return MergeResult{
			FinalText:     ruleOut.Text,
			Language:      lang,
			Source:        SourceRule,
			SafetyApplied: true,
		}
	}

	text := strings.TrimSpace(creativeOut.Text)
	source := SourceCreative
	if text == "" {
		text = strings.TrimSpace(ruleOut.Text)
		source = SourceRule
	}
	if text == "" {
		// Both passes degenerated; the user still gets some response. A
		// non-allow rule verdict still counts as safety intervening even
		// though the fallback text is a constant.
		return MergeResult{
			FinalText:     unavailableText(lang),
			Language:      lang,
			Source:        SourceRule,
			SafetyApplied: ruleOut.Verdict != VerdictAllow,
		}
	}

	if ruleOut.Verdict == VerdictModify {
		redacted, changed := policy.RedactPII(text)
		if changed {
			source = SourceMerged
		}
		return MergeResult{
			FinalText:     redacted,
			Language:      lang,
			Source:        source,
			SafetyApplied: true,
		}
	}

	return MergeResult{
		FinalText:     text,
		Language:      lang,
		Source:        source,
		SafetyApplied: false,
	}
}

var unavailable = map[language.Tag]string{
	language.English: "I'm having trouble answering right now. Please try again in a moment.",
	language.Hindi:   "मुझे अभी जवाब देने में दिक्कत हो रही है। कृपया थोड़ी देर में फिर कोशिश करें।",
	language.Mixed:   "Mujhe abhi jawab dene mein dikkat ho rahi hai. Thodi der mein phir try kijiye.",
}

func unavailableText(lang language.Tag) string {
	if text, ok := unavailable[lang]; ok {
		return text
	}
	return unavailable[language.English]
}
