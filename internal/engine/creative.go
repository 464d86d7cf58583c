package engine

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/vetralabs/vetra/internal/contextstore"
	"github.com/vetralabs/vetra/internal/corpus"
	"github.com/vetralabs/vetra/internal/language"
)

// CreativeEngineName identifies the contextual expansion pass.
const CreativeEngineName = "aastrax"

// seedMatchThreshold is the minimum prompt token overlap for a corpus seed
// to be considered an answer.
const seedMatchThreshold = 0.5

type seedExample struct {
	tokens   map[string]struct{}
	response string
}

// CreativeEngine is the aastrax pass. It expands the query into a contextual
// answer using corpus-seeded prompt/response pairs and the conversation
// window. It never reopens anything the rule pass blocked.
type CreativeEngine struct {
	seeds map[language.Tag][]seedExample
}

func NewCreativeEngine() *CreativeEngine {
	return &CreativeEngine{seeds: make(map[language.Tag][]seedExample)}
}

// SeedFromCorpus loads prompt/response pairs for one language. Blocked-phrase
// records belong to the rule engine and are skipped. Read errors abort
// seeding; already-loaded seeds are kept.
func (e *CreativeEngine) SeedFromCorpus(lang language.Tag, examples iter.Seq2[corpus.TrainingExample, error]) error {
	for ex, err := range examples {
		if err != nil {
			return fmt.Errorf("seed %s corpus: %w", lang, err)
		}
		if ex.Instruction == corpus.InstructionBlockedPhrase {
			continue
		}
		for _, pair := range ex.Examples {
			e.Seed(lang, pair.Prompt, pair.Response)
		}
	}
	return nil
}

// Seed registers a single prompt/response pair.
func (e *CreativeEngine) Seed(lang language.Tag, prompt, response string) {
	tokens := tokenSet(prompt)
	if len(tokens) == 0 || strings.TrimSpace(response) == "" {
		return
	}
	e.seeds[lang] = append(e.seeds[lang], seedExample{tokens: tokens, response: response})
}

func (e *CreativeEngine) Name() string { return CreativeEngineName }

func (e *CreativeEngine) Generate(ctx context.Context, req Request) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	// A blocked query is never creatively answered: the refusal passes
	// through unchanged.
	if req.Prior != nil && req.Prior.Verdict == VerdictBlock {
		return *req.Prior, nil
	}

	query, resolved := resolveTopic(req.Query, req.Context)

	if best, score := e.bestSeed(req.Language, query); best != nil && score >= seedMatchThreshold {
		out := Output{
			Engine:      CreativeEngineName,
			Text:        best.response,
			Verdict:     VerdictAllow,
			Confidence:  score,
			Annotations: []string{"seeded_response"},
		}
		if resolved {
			out.Annotations = append(out.Annotations, "topic_resolved")
		}
		return out, nil
	}

	out := Output{
		Engine:      CreativeEngineName,
		Text:        composeFallback(req.Language, query),
		Verdict:     VerdictAllow,
		Confidence:  0.4,
		Annotations: []string{"unseeded_response"},
	}
	if resolved {
		out.Annotations = append(out.Annotations, "topic_resolved")
	}
	return out, nil
}

func (e *CreativeEngine) bestSeed(lang language.Tag, query string) (*seedExample, float64) {
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return nil, 0
	}

	var (
		best      *seedExample
		bestScore float64
	)
	for i := range e.seeds[lang] {
		s := &e.seeds[lang][i]
		score := overlap(queryTokens, s.tokens)
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best, bestScore
}

// pronoun-led queries inherit the topic of the most recent user turn so
// follow-ups like "tell me more about its population" stay coherent. Fresh
// questions ("what is the capital of spain") must not inherit, so "what"
// only counts when followed by "about".
var pronounLeads = map[string]struct{}{
	"it": {}, "its": {}, "that": {}, "this": {}, "they": {}, "them": {},
	"he": {}, "she": {}, "there": {}, "those": {},
}

func resolveTopic(query string, turns []contextstore.Turn) (string, bool) {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return query, false
	}
	if !leadsWithAnaphora(fields) {
		return query, false
	}

	topic := topicOf(turns)
	if topic == "" {
		return query, false
	}
	return query + " " + topic, true
}

func leadsWithAnaphora(fields []string) bool {
	first := strings.Trim(fields[0], ",.!?")
	if _, ok := pronounLeads[first]; ok {
		return true
	}
	if first == "what" && len(fields) > 1 && strings.Trim(fields[1], ",.!?") == "about" {
		return true
	}
	return false
}

func topicOf(turns []contextstore.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != contextstore.RoleUser {
			continue
		}
		var words []string
		for _, w := range strings.Fields(turns[i].Text) {
			w = strings.Trim(w, ",.!?;:\"'")
			if len([]rune(w)) > 3 {
				words = append(words, w)
			}
		}
		if len(words) > 0 {
			return strings.Join(words, " ")
		}
	}
	return ""
}

var fallbackTemplates = map[language.Tag]string{
	language.English: "I don't have a confident answer for %q yet. Could you rephrase or give me a bit more detail?",
	language.Hindi:   "मेरे पास अभी %q का पक्का जवाब नहीं है। कृपया थोड़ा और विस्तार से पूछें।",
	language.Mixed:   "Mujhe abhi %q ka pakka jawab nahi pata. Thoda aur detail mein puchhiye?",
}

func composeFallback(lang language.Tag, query string) string {
	tmpl, ok := fallbackTemplates[lang]
	if !ok {
		tmpl = fallbackTemplates[language.English]
	}
	return fmt.Sprintf(tmpl, truncateRunes(strings.TrimSpace(query), 120))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ",.!?;:\"'()")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// overlap is the share of query tokens present in the seed prompt.
func overlap(query, seed map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for w := range query {
		if _, ok := seed[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
