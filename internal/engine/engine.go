// Package engine implements the two reasoning passes behind every answer:
// the deterministic rule pass (NOBLTY), the contextual creative pass
// (aastrax), and the merge layer that reconciles them.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/vetralabs/vetra/internal/contextstore"
	"github.com/vetralabs/vetra/internal/language"
)

// Verdict is the safety decision attached to an engine output.
type Verdict string

const (
	VerdictAllow  Verdict = "allow"
	VerdictBlock  Verdict = "block"
	VerdictModify Verdict = "modify"
)

// Request carries one query through a reasoning pass. Prior holds the rule
// pass output when the creative pass runs; the rule pass ignores it.
type Request struct {
	Query    string
	Language language.Tag
	Context  []contextstore.Turn
	Prior    *Output
}

// Output is emitted independently by each reasoning pass.
type Output struct {
	Engine      string
	Text        string
	Verdict     Verdict
	Confidence  float64
	Annotations []string
}

// Engine is one reasoning pass. Implementations must be total: they always
// return, and they honor ctx cancellation by returning an error.
type Engine interface {
	Name() string
	Generate(ctx context.Context, req Request) (Output, error)
}

// RunWithDeadline invokes eng under a bounded deadline. Exceeding the
// deadline counts as an internal engine failure, never a pipeline-fatal
// error; the caller falls back per the merge rules.
func RunWithDeadline(ctx context.Context, eng Engine, req Request, timeout time.Duration) (Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out Output
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := eng.Generate(runCtx, req)
		ch <- result{out, err}
	}()

	select {
	case <-runCtx.Done():
		return Output{}, fmt.Errorf("%s: %w", eng.Name(), runCtx.Err())
	case r := <-ch:
		if r.err != nil {
			return Output{}, fmt.Errorf("%s: %w", eng.Name(), r.err)
		}
		return r.out, nil
	}
}
