// Package pipeline orchestrates one query through the dual-engine core:
// language detection, context read, rule pass, creative pass, merge, and
// the context write-back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vetralabs/vetra/internal/contextstore"
	"github.com/vetralabs/vetra/internal/engine"
	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/memory"
	"github.com/vetralabs/vetra/internal/observability"
	"github.com/vetralabs/vetra/internal/policy"
)

// ErrInputRejected is the only pipeline error surfaced to callers; every
// failure past input validation is absorbed into a degraded answer.
var ErrInputRejected = errors.New("input rejected")

const (
	// DefaultEngineTimeout bounds each reasoning pass.
	DefaultEngineTimeout = 2 * time.Second
	// DefaultMaxQueryRunes caps accepted query length.
	DefaultMaxQueryRunes = 4000
)

// Request is one inbound query.
type Request struct {
	SessionID string
	Text      string
}

// Response is the reconciled answer returned to the boundary layer.
type Response struct {
	FinalText     string        `json:"final_text"`
	Language      language.Tag  `json:"language_tag"`
	Source        engine.Source `json:"source"`
	SafetyApplied bool          `json:"safety_applied"`
	Annotations   []string      `json:"annotations,omitempty"`
}

// Pipeline wires the detector, memory manager and engines together. Engines
// are explicit injected instances; the pipeline holds no mutable state
// beyond them, so independent requests run fully in parallel.
type Pipeline struct {
	memory        *memory.Manager
	rule          engine.Engine
	creative      engine.Engine
	metrics       *observability.Metrics
	logger        *slog.Logger
	engineTimeout time.Duration
	maxQueryRunes int
}

type Option func(*Pipeline)

func WithEngineTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.engineTimeout = d
		}
	}
}

func WithMaxQueryRunes(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxQueryRunes = n
		}
	}
}

func New(mem *memory.Manager, rule, creative engine.Engine, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		memory:        mem,
		rule:          rule,
		creative:      creative,
		metrics:       metrics,
		logger:        logger,
		engineTimeout: DefaultEngineTimeout,
		maxQueryRunes: DefaultMaxQueryRunes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Respond runs the full pipeline for one query. It returns ErrInputRejected
// for malformed input; otherwise it always produces a Response, degrading
// through the fallback paths on engine or store failure.
func (p *Pipeline) Respond(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Text)
	if query == "" {
		return Response{}, fmt.Errorf("%w: empty query", ErrInputRejected)
	}
	if utf8.RuneCountInString(query) > p.maxQueryRunes {
		return Response{}, fmt.Errorf("%w: query exceeds %d characters", ErrInputRejected, p.maxQueryRunes)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return Response{}, fmt.Errorf("%w: session id is required", ErrInputRejected)
	}

	lang := language.Detect(query)
	window := p.memory.Context(ctx, req.SessionID)

	ruleOut := p.runRulePass(ctx, query, lang, window)
	creativeOut := p.runCreativePass(ctx, query, lang, window, ruleOut)
	merged := engine.Merge(ruleOut, creativeOut, lang)

	p.recordTurns(ctx, req.SessionID, query, lang, merged)
	p.count(ruleOut.Verdict)

	return Response{
		FinalText:     merged.FinalText,
		Language:      merged.Language,
		Source:        merged.Source,
		SafetyApplied: merged.SafetyApplied,
		Annotations:   ruleOut.Annotations,
	}, nil
}

// runRulePass never fails the request. If the rule engine itself errors or
// times out, the pipeline substitutes a neutral allow verdict and lets the
// creative pass answer from scratch.
func (p *Pipeline) runRulePass(ctx context.Context, query string, lang language.Tag, window []contextstore.Turn) engine.Output {
	start := time.Now()
	out, err := engine.RunWithDeadline(ctx, p.rule, engine.Request{
		Query:    query,
		Language: lang,
		Context:  window,
	}, p.engineTimeout)
	p.observeEngine(p.rule.Name(), start)
	if err != nil {
		p.logger.Warn("rule pass failed, continuing without verdict", "error", err)
		p.countEngineFailure(p.rule.Name())
		return engine.Output{
			Engine:      p.rule.Name(),
			Verdict:     engine.VerdictAllow,
			Annotations: []string{"rule_unavailable"},
		}
	}
	return out
}

// runCreativePass falls back to the rule output on failure, per the merge
// precedence.
func (p *Pipeline) runCreativePass(ctx context.Context, query string, lang language.Tag, window []contextstore.Turn, ruleOut engine.Output) engine.Output {
	start := time.Now()
	out, err := engine.RunWithDeadline(ctx, p.creative, engine.Request{
		Query:    query,
		Language: lang,
		Context:  window,
		Prior:    &ruleOut,
	}, p.engineTimeout)
	p.observeEngine(p.creative.Name(), start)
	if err != nil {
		p.logger.Warn("creative pass failed, using rule output", "error", err)
		p.countEngineFailure(p.creative.Name())
		return ruleOut
	}
	return out
}

// recordTurns appends the user query and the system reply as one serialized
// pair. Stored text is PII-redacted first so raw identifiers never land in
// the context store.
func (p *Pipeline) recordTurns(ctx context.Context, sessionID, query string, lang language.Tag, merged engine.MergeResult) {
	userText, userRedacted := policy.RedactPII(query)
	p.memory.AppendTurns(ctx, sessionID,
		contextstore.Turn{
			Role:     contextstore.RoleUser,
			Text:     userText,
			Language: lang,
			Redacted: userRedacted,
		},
		contextstore.Turn{
			Role:     contextstore.RoleSystem,
			Text:     merged.FinalText,
			Language: merged.Language,
		},
	)
}

func (p *Pipeline) observeEngine(name string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveEngineLatency(name, time.Since(start))
	}
}

func (p *Pipeline) countEngineFailure(name string) {
	if p.metrics != nil {
		p.metrics.EngineFailures.WithLabelValues(name).Inc()
	}
}

// count labels request outcomes by the rule pass verdict.
func (p *Pipeline) count(verdict engine.Verdict) {
	if p.metrics == nil {
		return
	}
	outcome := "answered"
	if verdict == engine.VerdictBlock {
		outcome = "blocked"
	}
	p.metrics.Requests.WithLabelValues(outcome).Inc()
	p.metrics.SafetyVerdicts.WithLabelValues(string(verdict)).Inc()
}
