// Package applyforge provides a high-level façade over the generation
// runner and session services (sessions, document content, progress &
// logging) enabling rapid construction of application-document pipelines.
// Most applications interact with this package by:
//  1. Creating an App via New() with a backend model (optionally overriding default in-memory services)
//  2. Starting generation runs asynchronously (StartGeneration) or synchronously (StartGenerationSync)
//  3. Inspecting sessions (SessionStatus, SessionLog) and locking them after review (ApproveSession)
//
// The façade delegates orchestration to runner.Runner while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply durable store
// implementations, a real compiler binary and a structured logger.
package applyforge

import (
	"context"

	"github.com/hupe1980/applyforge/content"
	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/metrics"
	"github.com/hupe1980/applyforge/model"
	"github.com/hupe1980/applyforge/runner"
	"github.com/hupe1980/applyforge/session"
)

// Options configures the App instance.
type Options struct {
	// MaxAttempts bounds the resume validation-retry loop.
	MaxAttempts int

	// TargetPages is the exact page count the resume must compile to.
	TargetPages int

	// Hints is an engine-level style directive appended to resume prompts.
	Hints string

	// MaxModelCalls caps backend calls per run. Transparent transient
	// retries do not count. 0 means unlimited.
	MaxModelCalls int

	// RetryPolicy controls transient-failure retries against the backend.
	RetryPolicy model.Policy

	// EventBufferSize sets the channel buffer size for progress events.
	// Larger buffers reduce drops on slow consumers but increase memory
	// usage.
	EventBufferSize int

	// EventSink receives every progress event regardless of channel
	// backpressure; daemons wire a broker's Publish here.
	EventSink func(ev core.ProgressEvent)

	// ScratchRoot hosts per-run scratch directories; empty means the
	// system temp dir.
	ScratchRoot string

	// Stores (defaults to in-memory implementations if not provided)
	SessionStore core.SessionStore
	ContentStore core.ContentStore

	// Jobs resolves raw input into job context; defaults to the intake
	// resolver backed by the same model.
	Jobs core.JobResolver

	// Compiler turns resume markup into a paged artifact; defaults to the
	// typst binary on PATH.
	Compiler core.Compiler

	// Metrics (defaults to a no-op recorder if nil)
	Metrics metrics.Recorder

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// App is the high-level façade aggregating the runner and its services.
type App struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new App around the backend model with optional overrides.
// Any unset service is initialized with an in-memory implementation.
func New(m model.Model, optFns ...func(o *Options)) *App {
	opts := Options{
		MaxAttempts:     3,
		TargetPages:     1,
		MaxModelCalls:   10,
		RetryPolicy:     model.DefaultPolicy(),
		EventBufferSize: 100,
		SessionStore:    session.NewInMemoryStore(),
		ContentStore:    content.NewInMemoryStore(),
		Metrics:         metrics.NoopRecorder{},
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(m, func(o *runner.Options) {
		o.MaxAttempts = opts.MaxAttempts
		o.TargetPages = opts.TargetPages
		o.Hints = opts.Hints
		o.MaxModelCalls = opts.MaxModelCalls
		o.RetryPolicy = opts.RetryPolicy
		o.EventBufferSize = opts.EventBufferSize
		o.EventSink = opts.EventSink
		o.ScratchRoot = opts.ScratchRoot
		o.SessionStore = opts.SessionStore
		o.ContentStore = opts.ContentStore
		o.Jobs = opts.Jobs
		o.Compiler = opts.Compiler
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})

	return &App{opts: opts, runner: r}
}

// Runner exposes the underlying orchestrator for daemon wiring.
func (a *App) Runner() *runner.Runner { return a.runner }

// Sessions exposes the configured session store.
func (a *App) Sessions() core.SessionStore { return a.opts.SessionStore }

// Contents exposes the configured content store.
func (a *App) Contents() core.ContentStore { return a.opts.ContentStore }

// StartGeneration starts an asynchronous generation run returning the run
// id plus event & error channels. The run is detached from ctx; use
// Cancel to stop it.
func (a *App) StartGeneration(ctx context.Context, req core.GenerationRequest) (string, <-chan core.ProgressEvent, <-chan error, error) {
	return a.runner.Start(ctx, req)
}

// Cancel cancels a running generation run by id.
func (a *App) Cancel(runID string) error {
	return a.runner.Cancel(runID)
}

// StartGenerationSync is a synchronous helper that drains the async
// channels and returns the run id together with the terminal result. When
// ctx ends before the run does, the run is cancelled and ctx's error is
// returned.
func (a *App) StartGenerationSync(ctx context.Context, req core.GenerationRequest) (string, *core.GenerationResult, error) {
	runID, eventsCh, errorsCh, err := a.runner.Start(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var result *core.GenerationResult
	for {
		select {
		case <-ctx.Done():
			// Caller gave up; stop the detached run as well.
			_ = a.runner.Cancel(runID)
			return runID, nil, ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				// Events channel closed - check for terminal error
				select {
				case err := <-errorsCh:
					if err != nil {
						return runID, nil, err
					}
					return runID, result, nil
				case <-ctx.Done():
					return runID, nil, ctx.Err()
				}
			}
			if event.Kind == core.EventComplete {
				result = event.Result
			}

		case err := <-errorsCh:
			// Terminal error occurred
			if err != nil {
				return runID, nil, err
			}
		}
	}
}

// Session returns the full session by id.
func (a *App) Session(ctx context.Context, id string) (*core.Session, error) {
	return a.opts.SessionStore.Get(ctx, id)
}

// SessionStatus returns the compact status projection of a session.
func (a *App) SessionStatus(ctx context.Context, id string) (core.SessionStatus, error) {
	sess, err := a.opts.SessionStore.Get(ctx, id)
	if err != nil {
		return core.SessionStatus{}, err
	}
	return sess.Status(), nil
}

// SessionLog returns the full ordered progress log of a session. Repeated
// calls during an active run return growing, prefix-consistent snapshots.
func (a *App) SessionLog(ctx context.Context, id string) ([]core.LogLine, error) {
	return a.opts.SessionStore.Log(ctx, id)
}

// ApproveSession sets a session's one-way lock after user review. Approving
// an already-locked session is a no-op; approving a session still in
// processing fails with core.ErrSessionProcessing.
func (a *App) ApproveSession(ctx context.Context, id string) (*core.Session, error) {
	return a.opts.SessionStore.Approve(ctx, id)
}
