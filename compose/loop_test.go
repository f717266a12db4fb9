package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/model"
	"github.com/hupe1980/applyforge/typeset"
)

func testJob() core.JobContext {
	return core.JobContext{
		Company: "Acme Robotics",
		Role:    "Platform Engineer",
		Posting: "Acme Robotics builds warehouse robots and needs a platform engineer.",
	}
}

func TestLoopFirstAttemptSuccess(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("= Resume\nTailored content for Acme.")

	compiler := typeset.NewScriptedCompiler()
	compiler.QueuePages(1)

	loop := NewLoop(m, compiler)

	res, err := loop.Run(context.Background(), Input{
		Job:         testJob(),
		BaseContent: "10 years of Go at Initech.",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !res.Success || res.Attempts != 1 || res.PageCount != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Content) != "= Resume\nTailored content for Acme." {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if len(res.Artifact) == 0 {
		t.Error("expected a compiled artifact")
	}
	if res.Err != nil {
		t.Errorf("successful run must not carry an error, got %v", res.Err)
	}

	prompt := m.Calls()[0].Prompt
	for _, want := range []string{"Company: Acme Robotics", "warehouse robots", "10 years of Go", "exactly 1 page(s)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("base prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestLoopCorrectivePromptCarriesMeasuredPages(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("draft one markup")
	m.QueueResponse("draft two markup")

	compiler := typeset.NewScriptedCompiler()
	compiler.QueuePages(3)
	compiler.QueuePages(2)

	loop := NewLoop(m, compiler, func(o *Options) {
		o.TargetPages = 2
	})

	res, err := loop.Run(context.Background(), Input{Job: testJob()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !res.Success || res.Attempts != 2 || res.PageCount != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Content) != "draft two markup" {
		t.Errorf("expected the second draft to win, got %q", res.Content)
	}

	calls := m.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(calls))
	}
	corrective := calls[1].Prompt
	for _, want := range []string{"3 pages", "exactly 2 page(s)", "draft one markup"} {
		if !strings.Contains(corrective, want) {
			t.Errorf("corrective prompt missing %q:\n%s", want, corrective)
		}
	}
}

func TestLoopAllCompileFailures(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("broken markup one")
	m.QueueResponse("broken markup two")
	m.QueueResponse("broken markup three")

	compiler := typeset.NewScriptedCompiler()
	compiler.QueueFailure("syntax error: unexpected token")
	compiler.QueueFailure("syntax error: unexpected token")
	compiler.QueueFailure("syntax error: unexpected token")

	loop := NewLoop(m, compiler)

	res, err := loop.Run(context.Background(), Input{Job: testJob()})
	if err != nil {
		t.Fatalf("exhausted compiles must degrade, not abort: %v", err)
	}

	if res.Success {
		t.Error("run must not succeed without a compiled document")
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if string(res.Content) != "broken markup three" {
		t.Errorf("expected the last markup back, got %q", res.Content)
	}
	if res.Artifact != nil || res.PageCount != 0 {
		t.Errorf("nothing compiled, artifact must be empty: %+v", res)
	}

	var cerr *core.CompileError
	if !errors.As(res.Err, &cerr) {
		t.Fatalf("expected a CompileError, got %v", res.Err)
	}

	fixPrompt := m.Calls()[1].Prompt
	if !strings.Contains(fixPrompt, "syntax error: unexpected token") {
		t.Errorf("fix prompt must carry the diagnostics:\n%s", fixPrompt)
	}
	if !strings.Contains(fixPrompt, "broken markup one") {
		t.Errorf("fix prompt must carry the previous draft:\n%s", fixPrompt)
	}
}

func TestLoopKeepsClosestAttemptLaterWinsTies(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("draft long")
	m.QueueResponse("draft short")

	compiler := typeset.NewScriptedCompiler()
	compiler.QueuePages(3)
	compiler.QueuePages(1)

	loop := NewLoop(m, compiler, func(o *Options) {
		o.TargetPages = 2
		o.MaxAttempts = 2
	})

	res, err := loop.Run(context.Background(), Input{Job: testJob()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Success {
		t.Error("no attempt hit the target")
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
	// Both attempts miss by one page; the later one is kept.
	if string(res.Content) != "draft short" || res.PageCount != 1 {
		t.Errorf("expected the later tying attempt, got %q (%d pages)", res.Content, res.PageCount)
	}
	if len(res.Artifact) == 0 {
		t.Error("closest attempt compiled, artifact must be present")
	}

	var perr *core.PageCountError
	if !errors.As(res.Err, &perr) {
		t.Fatalf("expected a PageCountError, got %v", res.Err)
	}
	if perr.Got != 1 || perr.Want != 2 {
		t.Errorf("unexpected mismatch payload: %+v", perr)
	}
}

func TestLoopBackendFailureBeforeContent(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueError(&core.BackendError{Provider: "mock", Err: errors.New("invalid api key")})

	compiler := typeset.NewScriptedCompiler()
	loop := NewLoop(m, compiler)

	res, err := loop.Run(context.Background(), Input{Job: testJob()})
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}

	var berr *core.BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("expected the backend error, got %v", err)
	}
	if compiler.Calls() != 0 {
		t.Errorf("compiler must not run without markup, got %d calls", compiler.Calls())
	}
}

func TestLoopBackendFailureAfterContentDegrades(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("first draft")
	m.QueueError(&core.BackendError{Provider: "mock", Err: errors.New("quota exhausted")})

	compiler := typeset.NewScriptedCompiler()
	compiler.QueuePages(3)

	loop := NewLoop(m, compiler, func(o *Options) {
		o.TargetPages = 2
	})

	res, err := loop.Run(context.Background(), Input{Job: testJob()})
	if err != nil {
		t.Fatalf("content existed, run must degrade instead of aborting: %v", err)
	}

	if res.Success {
		t.Error("run must not succeed")
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
	if string(res.Content) != "first draft" || res.PageCount != 3 {
		t.Errorf("expected the compiled first draft, got %q (%d pages)", res.Content, res.PageCount)
	}

	var berr *core.BackendError
	if !errors.As(res.Err, &berr) {
		t.Fatalf("expected the backend error on the result, got %v", res.Err)
	}
}

func TestLoopPersistsAttemptsToScratch(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("attempt one markup")
	m.QueueResponse("attempt two markup")

	compiler := typeset.NewScriptedCompiler()
	compiler.QueuePages(3)
	compiler.QueuePages(1)

	scratch := t.TempDir()
	loop := NewLoop(m, compiler)

	if _, err := loop.Run(context.Background(), Input{Job: testJob(), ScratchDir: scratch}); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(scratch, "resume-attempt-1.typ"))
	if err != nil {
		t.Fatalf("attempt 1 markup not persisted: %v", err)
	}
	if string(data) != "attempt one markup" {
		t.Errorf("unexpected scratch content: %q", data)
	}
	if _, err := os.Stat(filepath.Join(scratch, "resume-attempt-2.typ")); err != nil {
		t.Errorf("attempt 2 markup not persisted: %v", err)
	}
}

func TestLoopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := NewLoop(model.NewMockModel("test-model", "mock"), typeset.NewScriptedCompiler())

	_, err := loop.Run(ctx, Input{Job: testJob()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoopStripsCodeFence(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("```typst\n= Resume\ncontent\n```")

	compiler := typeset.NewScriptedCompiler()
	compiler.QueuePages(1)

	loop := NewLoop(m, compiler)

	res, err := loop.Run(context.Background(), Input{Job: testJob()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(res.Content) != "= Resume\ncontent" {
		t.Errorf("fence must be stripped, got %q", res.Content)
	}
}

func TestSecondaryGeneratesDocument(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	m.QueueResponse("Dear Acme Robotics team,\n\nI am writing about the Platform Engineer role.")

	loop := NewLoop(m, typeset.NewScriptedCompiler())

	text, err := loop.Secondary(context.Background(), core.DocumentCoverLetter, testJob(), "resume body text", nil)
	if err != nil {
		t.Fatalf("secondary: %v", err)
	}
	if !strings.Contains(string(text), "Platform Engineer role") {
		t.Errorf("unexpected document: %q", text)
	}

	prompt := m.Calls()[0].Prompt
	if !strings.Contains(prompt, "Company: Acme Robotics") || !strings.Contains(prompt, "resume body text") {
		t.Errorf("secondary prompt missing context:\n%s", prompt)
	}
}

func TestSecondaryFailures(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	loop := NewLoop(m, typeset.NewScriptedCompiler())

	if _, err := loop.Secondary(context.Background(), core.DocumentResume, testJob(), "", nil); err == nil {
		t.Error("expected an error for a kind without a prompt")
	}

	m.QueueError(&core.BackendError{Provider: "mock", Err: errors.New("boom")})
	_, err := loop.Secondary(context.Background(), core.DocumentColdEmail, testJob(), "", nil)
	var berr *core.BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("expected the backend error, got %v", err)
	}

	m.QueueResponse("   ")
	if _, err := loop.Secondary(context.Background(), core.DocumentColdEmail, testJob(), "", nil); err == nil {
		t.Error("expected an error for an empty reply")
	}
}

func TestCleanMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain markup", "plain markup"},
		{"```typst\nbody\n```", "body"},
		{"```\nbody\n```", "body"},
		{"  ```typst\nbody\n```  ", "body"},
		{"```body```", "body"},
		{"```typst\nno trailing fence", "no trailing fence"},
	}

	for _, tt := range tests {
		if got := cleanMarkup(tt.in); got != tt.want {
			t.Errorf("cleanMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
