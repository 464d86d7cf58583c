package engine

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/vetralabs/vetra/internal/contextstore"
	"github.com/vetralabs/vetra/internal/corpus"
	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/policy"
)

// RuleEngineName identifies the deterministic rule/safety pass.
const RuleEngineName = "noblty"

type safetyRule struct {
	name    string
	verdict Verdict
	pattern *regexp.Regexp
}

// Evaluation order matters for annotations only; the overall verdict is the
// OR of all block conditions.
var builtinRules = []safetyRule{
	{"prompt_injection", VerdictBlock, regexp.MustCompile(`(?i)\b(ignore|bypass|override|disregard)\b.{0,40}\b(rules?|system|instructions?|polic(?:y|ies)|guardrails?)\b`)},
	{"intrusion", VerdictBlock, regexp.MustCompile(`(?i)\b(hack|crack|ddos|exploit|backdoor)\b`)},
	{"credential_harvest", VerdictBlock, regexp.MustCompile(`(?i)\b(reveal|show|dump|leak|steal|print)\b.{0,40}\b(api[_ -]?keys?|passwords?|tokens?|secrets?|credentials?)\b`)},
	{"destructive_command", VerdictBlock, regexp.MustCompile(`(?i)\brm\s+-rf\s+/`)},
}

var refusals = map[language.Tag]string{
	language.English: "I can't help with that request. Let's talk about something else.",
	language.Hindi:   "मैं इस अनुरोध में मदद नहीं कर सकता। चलिए किसी और विषय पर बात करते हैं।",
	language.Mixed:   "Main is request mein madad nahi kar sakta. Let's talk about something else.",
}

// RuleEngine is the NOBLTY pass: a closed, ordered rule set applied to the
// query and recent context. It is total and deterministic.
type RuleEngine struct {
	rules []safetyRule
}

type RuleOption func(*RuleEngine)

// WithBlockedPhrases appends corpus-seeded literal phrases as block rules,
// evaluated after the built-in set.
func WithBlockedPhrases(phrases []string) RuleOption {
	return func(e *RuleEngine) {
		for _, phrase := range phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			e.rules = append(e.rules, safetyRule{
				name:    "seeded_block",
				verdict: VerdictBlock,
				pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase)),
			})
		}
	}
}

func NewRuleEngine(opts ...RuleOption) *RuleEngine {
	e := &RuleEngine{rules: append([]safetyRule(nil), builtinRules...)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SeedFromCorpus adds block rules from training records marked with
// corpus.InstructionBlockedPhrase; each prompt becomes a literal blocked
// phrase. Other records are ignored here and seed the creative engine.
func (e *RuleEngine) SeedFromCorpus(lang language.Tag, examples iter.Seq2[corpus.TrainingExample, error]) error {
	var phrases []string
	for ex, err := range examples {
		if err != nil {
			return fmt.Errorf("seed %s block rules: %w", lang, err)
		}
		if ex.Instruction != corpus.InstructionBlockedPhrase {
			continue
		}
		for _, pair := range ex.Examples {
			phrases = append(phrases, pair.Prompt)
		}
	}
	WithBlockedPhrases(phrases)(e)
	return nil
}

func (e *RuleEngine) Name() string { return RuleEngineName }

func (e *RuleEngine) Generate(ctx context.Context, req Request) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	out := Output{Engine: RuleEngineName, Verdict: VerdictAllow, Confidence: 0.6}

	// Scan the query plus the most recent user turn so attacks split across
	// turns still trip the same rules.
	scope := req.Query
	if prior := lastUserTurn(req.Context); prior != "" {
		scope = prior + " " + req.Query
	}

	for _, r := range e.rules {
		if !r.pattern.MatchString(scope) {
			continue
		}
		out.Annotations = append(out.Annotations, r.name)
		if r.verdict == VerdictBlock {
			out.Verdict = VerdictBlock
		}
	}

	if out.Verdict == VerdictBlock {
		out.Text = RefusalText(req.Language)
		out.Confidence = 1.0
		return out, nil
	}

	if policy.ContainsPII(req.Query) {
		out.Verdict = VerdictModify
		out.Confidence = 0.9
		out.Annotations = append(out.Annotations, "pii_present")
	}

	if sweepingClaimPattern.MatchString(req.Query) {
		// Factual-consistency heuristic: flag absolutes for downstream
		// review without changing the verdict.
		out.Annotations = append(out.Annotations, "sweeping_claim")
	}

	return out, nil
}

var sweepingClaimPattern = regexp.MustCompile(`(?i)\b(always|never|everyone|nobody)\b.{0,30}\b(is|are|was|were|will)\b`)

// RefusalText returns the refusal message for a language, falling back to
// English for unknown tags.
func RefusalText(lang language.Tag) string {
	if text, ok := refusals[lang]; ok {
		return text
	}
	return refusals[language.English]
}

func lastUserTurn(turns []contextstore.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == contextstore.RoleUser {
			return turns[i].Text
		}
	}
	return ""
}
