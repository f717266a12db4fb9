package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/metrics"
	"github.com/hupe1980/applyforge/model"
)

// LogFunc receives one human-readable progress line per step. The runner
// wires it to the progress emitter; nil discards lines.
type LogFunc func(severity core.Severity, format string, args ...any)

// Options configures a Loop.
type Options struct {
	// MaxAttempts bounds generate, compile, measure cycles. Defaults to 3.
	MaxAttempts int

	// TargetPages is the page constraint used when the Input does not set
	// one. Defaults to 1.
	TargetPages int

	// Hints is appended to resume prompts when the Input carries none.
	Hints string

	// Logger receives internal diagnostics, distinct from the progress
	// callback that feeds the user-visible run log.
	Logger logging.Logger

	// Metrics records compile results and page mismatches. Defaults to
	// the no-op recorder.
	Metrics metrics.Recorder
}

// Loop drives the validation-retry cycle for one run. It is cheap to
// construct; the runner builds one per run around the run's decorated
// model.
type Loop struct {
	model       model.Model
	compiler    core.Compiler
	maxAttempts int
	targetPages int
	hints       string
	logger      logging.Logger
	metrics     metrics.Recorder
}

// NewLoop creates a loop around a model and a compiler.
func NewLoop(m model.Model, c core.Compiler, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxAttempts: 3,
		TargetPages: 1,
		Logger:      logging.NoOpLogger{},
		Metrics:     metrics.NoopRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.TargetPages < 1 {
		opts.TargetPages = 1
	}

	return &Loop{
		model:       m,
		compiler:    c,
		maxAttempts: opts.MaxAttempts,
		targetPages: opts.TargetPages,
		hints:       opts.Hints,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Input is one loop run's generation context.
type Input struct {
	// Job grounds every prompt.
	Job core.JobContext

	// BaseContent is the candidate material, opaque to the engine.
	BaseContent string

	// Hints overrides the loop's configured style hints when non-empty.
	Hints string

	// TargetPages overrides the loop's configured target when positive.
	TargetPages int

	// ScratchDir receives per-attempt markup when set. The caller owns
	// the directory and removes it on every exit path.
	ScratchDir string

	// Log receives one progress line per step; nil discards them.
	Log LogFunc
}

// Result is the loop's outcome. Success means the compiled page count
// matched the target. Without Success, Content still carries the closest
// attempt's markup (Artifact and PageCount when that attempt compiled)
// and Err the terminal mismatch, compile or backend error.
type Result struct {
	Success   bool
	Content   []byte
	Artifact  []byte
	PageCount int
	Attempts  int
	Err       error
}

// attempt tracks one generate-and-compile cycle for closest-match
// selection and corrective-prompt seeding.
type attempt struct {
	index      int
	content    []byte
	artifact   []byte
	pageCount  int
	compileErr *core.CompileError
}

// Run drives generate, compile and measure cycles until the compiled
// page count matches the target or attempts run out. The returned Result
// always carries the best output produced; the error return is reserved
// for runs ending with nothing usable at all (backend failure before any
// markup existed, or cancellation).
func (l *Loop) Run(ctx context.Context, in Input) (*Result, error) {
	target := in.TargetPages
	if target <= 0 {
		target = l.targetPages
	}
	hints := in.Hints
	if hints == "" {
		hints = l.hints
	}
	logf := in.Log
	if logf == nil {
		logf = func(core.Severity, string, ...any) {}
	}

	var (
		best     *attempt // compiled attempt closest to the target
		prev     *attempt // seeds the corrective prompt
		last     []byte   // most recent markup, compiled or not
		lastErr  error
		attempts int
	)

	for idx := 1; idx <= l.maxAttempts; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts = idx

		prompt, err := buildResumePrompt(in, hints, target, prev)
		if err != nil {
			return nil, fmt.Errorf("build resume prompt: %w", err)
		}

		logf(core.SeverityInfo, "Generating resume markup (attempt %d/%d)", idx, l.maxAttempts)

		resp, err := l.model.Generate(ctx, model.Request{System: resumeSystem, Prompt: prompt})
		if err != nil {
			// Transient failures were already retried inside the model
			// decorators; whatever reaches the loop stops it.
			if len(last) == 0 {
				return nil, err
			}
			logf(core.SeverityError, "Resume generation failed on attempt %d: %v", idx, err)
			lastErr = err
			break
		}

		content := []byte(cleanMarkup(resp.Text))
		last = content
		l.persistAttempt(in.ScratchDir, idx, content)

		logf(core.SeverityInfo, "Compiling resume (attempt %d/%d)", idx, l.maxAttempts)

		cur := &attempt{index: idx, content: content}

		compiled, err := l.compiler.Compile(ctx, content)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.metrics.IncCompileResult(false)
			var cerr *core.CompileError
			if !errors.As(err, &cerr) {
				cerr = &core.CompileError{Err: err}
			}
			cur.compileErr = cerr
			lastErr = cerr
			prev = cur
			logf(core.SeverityWarn, "Compile failed on attempt %d/%d: %v", idx, l.maxAttempts, cerr.Err)
			continue
		}

		l.metrics.IncCompileResult(true)
		cur.pageCount = compiled.PageCount
		cur.artifact = compiled.PDF

		if compiled.PageCount == target {
			logf(core.SeverityInfo, "Resume compiled to %d page(s), matching the target", compiled.PageCount)
			return &Result{
				Success:   true,
				Content:   content,
				Artifact:  compiled.PDF,
				PageCount: compiled.PageCount,
				Attempts:  idx,
			}, nil
		}

		logf(core.SeverityWarn, "Resume compiled to %d page(s), target is %d (attempt %d/%d)",
			compiled.PageCount, target, idx, l.maxAttempts)
		l.metrics.IncPageMismatch()
		lastErr = &core.PageCountError{Got: compiled.PageCount, Want: target}

		// Later attempts win ties.
		if best == nil || distance(cur.pageCount, target) <= distance(best.pageCount, target) {
			best = cur
		}
		prev = cur
	}

	if best != nil {
		logf(core.SeverityWarn, "Keeping the closest attempt: %d page(s) from attempt %d", best.pageCount, best.index)
		return &Result{
			Content:   best.content,
			Artifact:  best.artifact,
			PageCount: best.pageCount,
			Attempts:  attempts,
			Err:       lastErr,
		}, nil
	}

	logf(core.SeverityError, "No attempt compiled; keeping the raw markup from the last attempt")
	return &Result{
		Content:  last,
		Attempts: attempts,
		Err:      lastErr,
	}, nil
}

// Secondary generates one best-effort secondary document. No compile
// step applies; the reply text is the document.
func (l *Loop) Secondary(ctx context.Context, kind core.DocumentKind, job core.JobContext, resumeText string, logf LogFunc) ([]byte, error) {
	if logf == nil {
		logf = func(core.Severity, string, ...any) {}
	}

	prompt, err := secondaryPrompt(kind, job, resumeText)
	if err != nil {
		return nil, err
	}

	logf(core.SeverityInfo, "Generating %s", label(kind))

	resp, err := l.model.Generate(ctx, model.Request{System: secondarySystem, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("model returned an empty %s", label(kind))
	}

	return []byte(text), nil
}

// persistAttempt keeps the attempt's markup in the scratch dir for
// inspection. Failures only log; scratch files never gate the run.
func (l *Loop) persistAttempt(dir string, idx int, content []byte) {
	if dir == "" {
		return
	}
	name := filepath.Join(dir, fmt.Sprintf("resume-attempt-%d.typ", idx))
	if err := os.WriteFile(name, content, 0o600); err != nil {
		l.logger.Warn("failed to persist attempt %d markup: %v", idx, err)
	}
}

func distance(got, target int) int {
	if got > target {
		return got - target
	}
	return target - got
}
