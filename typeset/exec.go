package typeset

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
)

// ExecOptions configures the external compiler invocation.
type ExecOptions struct {
	// Binary is the compiler executable looked up on PATH (or an absolute path).
	Binary string

	// Timeout bounds a single compilation.
	Timeout time.Duration

	// Logger receives per-compile diagnostics; defaults to NoOpLogger.
	Logger logging.Logger
}

// ExecCompiler shells out to the Typst binary to render markup into a PDF,
// then measures the produced page count. Every invocation gets a private
// scratch directory that is removed afterwards.
type ExecCompiler struct {
	binary  string
	timeout time.Duration
	logger  logging.Logger
}

// NewExecCompiler creates a compiler around the typst binary.
func NewExecCompiler(optFns ...func(o *ExecOptions)) *ExecCompiler {
	opts := ExecOptions{
		Binary:  "typst",
		Timeout: 30 * time.Second,
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ExecCompiler{
		binary:  opts.Binary,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Compile implements core.Compiler. Diagnostics from a rejected source are
// preserved on the returned *core.CompileError so the corrective prompt can
// quote them.
func (c *ExecCompiler) Compile(ctx context.Context, source []byte) (*core.CompileResult, error) {
	if _, err := exec.LookPath(c.binary); err != nil {
		return nil, &core.CompileError{Err: fmt.Errorf("compiler binary not found: %w", err)}
	}

	workDir, err := os.MkdirTemp("", "applyforge-compile-*")
	if err != nil {
		return nil, &core.CompileError{Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	inPath := filepath.Join(workDir, "input.typ")
	outPath := filepath.Join(workDir, "output.pdf")
	if err := os.WriteFile(inPath, source, 0o600); err != nil {
		return nil, &core.CompileError{Err: fmt.Errorf("write source: %w", err)}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.binary, "compile", inPath, outPath)
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	if runErr != nil {
		output := stderr.String()
		if output == "" {
			output = stdout.String()
		}
		c.logger.Warn("compile failed after %s: %v", dur, runErr)
		return nil, &core.CompileError{Output: output, Err: runErr}
	}

	// #nosec G304 - outPath lives in the scratch dir created above
	pdf, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &core.CompileError{Err: fmt.Errorf("read compiled artifact: %w", err)}
	}

	pages, err := CountPages(pdf)
	if err != nil {
		return nil, &core.CompileError{Err: fmt.Errorf("measure artifact: %w", err)}
	}

	c.logger.Debug("compiled %d bytes to %d pages in %s", len(source), pages, dur)

	return &core.CompileResult{PageCount: pages, PDF: pdf}, nil
}
