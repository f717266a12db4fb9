package typeset

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/applyforge/core"
)

// ScriptedOptions configures a ScriptedCompiler.
type ScriptedOptions struct {
	// CharsPerPage drives the size heuristic used when no outcome is queued.
	CharsPerPage int
}

// scriptedOutcome is one queued compile result consumed in FIFO order.
type scriptedOutcome struct {
	pages  int
	output string
	fail   bool
}

// ScriptedCompiler is a deterministic in-process core.Compiler for tests and
// examples. Outcomes queued via QueuePages / QueueFailure are consumed in
// order; with an empty queue the page count is estimated from the source
// size. Successful compiles synthesize a real minimal PDF carrying the
// source text, so measurement and extraction stay honest downstream.
type ScriptedCompiler struct {
	mu           sync.Mutex
	queue        []scriptedOutcome
	charsPerPage int
	calls        int
}

// NewScriptedCompiler constructs a scripted compiler.
func NewScriptedCompiler(optFns ...func(o *ScriptedOptions)) *ScriptedCompiler {
	opts := ScriptedOptions{
		CharsPerPage: 2800,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ScriptedCompiler{charsPerPage: opts.CharsPerPage}
}

// QueuePages scripts the next compile to succeed with the given page count.
func (c *ScriptedCompiler) QueuePages(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, scriptedOutcome{pages: n})
}

// QueueFailure scripts the next compile to fail with the given diagnostics.
func (c *ScriptedCompiler) QueueFailure(diagnostics string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, scriptedOutcome{fail: true, output: diagnostics})
}

// Calls returns how many compiles were attempted.
func (c *ScriptedCompiler) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Compile implements core.Compiler.
func (c *ScriptedCompiler) Compile(ctx context.Context, source []byte) (*core.CompileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls++
	var next *scriptedOutcome
	if len(c.queue) > 0 {
		outcome := c.queue[0]
		c.queue = c.queue[1:]
		next = &outcome
	}
	charsPerPage := c.charsPerPage
	c.mu.Unlock()

	if next != nil && next.fail {
		return nil, &core.CompileError{Output: next.output, Err: fmt.Errorf("scripted compile failure")}
	}

	pages := 1 + len(source)/charsPerPage
	if next != nil {
		pages = next.pages
	}
	if pages < 1 {
		pages = 1
	}

	pdf := SynthesizePDF(paginate(source, pages))

	return &core.CompileResult{PageCount: pages, PDF: pdf}, nil
}

// paginate distributes the source lines evenly across the page count.
func paginate(source []byte, pages int) [][]string {
	text := strings.ReplaceAll(string(source), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	out := make([][]string, pages)
	per := (len(lines) + pages - 1) / pages
	if per == 0 {
		per = 1
	}
	for i := 0; i < pages; i++ {
		lo := i * per
		if lo > len(lines) {
			lo = len(lines)
		}
		hi := lo + per
		if hi > len(lines) {
			hi = len(lines)
		}
		out[i] = lines[lo:hi]
	}
	return out
}
