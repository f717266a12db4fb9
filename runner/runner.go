package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/applyforge/compose"
	"github.com/hupe1980/applyforge/content"
	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/intake"
	"github.com/hupe1980/applyforge/logging"
	"github.com/hupe1980/applyforge/metrics"
	"github.com/hupe1980/applyforge/model"
	"github.com/hupe1980/applyforge/progress"
	"github.com/hupe1980/applyforge/session"
	"github.com/hupe1980/applyforge/typeset"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// MaxAttempts bounds the resume validation-retry loop. Defaults to 3.
	MaxAttempts int

	// TargetPages is the exact page count the resume must compile to.
	// Defaults to 1.
	TargetPages int

	// Hints is an engine-level style directive appended to resume prompts.
	Hints string

	// MaxModelCalls caps backend calls per run, counted after transparent
	// transient retries. 0 means unlimited. Defaults to 10.
	MaxModelCalls int

	// RetryPolicy controls the transient-failure retries wrapped around
	// the backend model.
	RetryPolicy model.Policy

	// EventBufferSize sets the per-run progress channel capacity.
	EventBufferSize int

	// EventSink receives every progress event in emission order,
	// regardless of channel backpressure. The server wires the broker's
	// Publish here.
	EventSink func(ev core.ProgressEvent)

	// ScratchRoot hosts the per-run scratch dirs; empty means the system
	// temp dir.
	ScratchRoot string

	// Session management services.
	SessionStore core.SessionStore
	// Document content storage.
	ContentStore core.ContentStore
	// Job input resolution (fetch + extraction).
	Jobs core.JobResolver
	// Markup compilation.
	Compiler core.Compiler
	// Observability services.
	Metrics metrics.Recorder
	Logger  logging.Logger
}

// Runner coordinates generation runs: resolves the job input, drives the
// session state machine, runs the validation-retry loop, generates the
// secondary documents, persists everything and emits the progress
// stream. Public methods are safe for concurrent use; independent
// sessions run fully concurrently.
type Runner struct {
	base model.Model

	maxAttempts     int
	targetPages     int
	hints           string
	maxModelCalls   int
	retryPolicy     model.Policy
	eventBufferSize int
	sink            func(ev core.ProgressEvent)
	scratchRoot     string

	sessions core.SessionStore
	contents core.ContentStore
	jobs     core.JobResolver
	compiler core.Compiler
	metrics  metrics.Recorder
	logger   logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner around the backend model with optional
// overrides. Unset collaborators get in-memory stores, the default
// intake resolver and the exec compiler.
func New(m model.Model, optFns ...func(o *Options)) *Runner {
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

	if opts.Jobs == nil {
		retrying := model.WithRetry(m, func(o *model.RetryOptions) {
			o.Policy = opts.RetryPolicy
			o.Logger = opts.Logger
		})
		opts.Jobs = intake.NewResolver(retrying, func(o *intake.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Compiler == nil {
		opts.Compiler = typeset.NewExecCompiler()
	}

	return &Runner{
		base:            m,
		maxAttempts:     opts.MaxAttempts,
		targetPages:     opts.TargetPages,
		hints:           opts.Hints,
		maxModelCalls:   opts.MaxModelCalls,
		retryPolicy:     opts.RetryPolicy,
		eventBufferSize: opts.EventBufferSize,
		sink:            opts.EventSink,
		scratchRoot:     opts.ScratchRoot,
		sessions:        opts.SessionStore,
		contents:        opts.ContentStore,
		jobs:            opts.Jobs,
		compiler:        opts.Compiler,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// Start begins an asynchronous generation run. It validates the request
// and, for an existing session, refuses locked or missing sessions
// before any work happens; both failure modes return directly with no
// side effects. The returned channels carry the progress stream and the
// terminal run error (at most one, nil omitted); both close when the run
// ends. The run is detached from ctx: callers that go away do not cancel
// it.
func (r *Runner) Start(ctx context.Context, req core.GenerationRequest) (string, <-chan core.ProgressEvent, <-chan error, error) {
	if err := req.Validate(); err != nil {
		return "", nil, nil, err
	}

	if req.SessionID != "" {
		sess, err := r.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to get session: %w", err)
		}
		if sess.Locked {
			return "", nil, nil, core.ErrSessionLocked
		}
	}

	runID := core.NewID()

	emitter := progress.NewEmitter(runID, func(o *progress.EmitterOptions) {
		o.BufferSize = r.eventBufferSize
		o.Store = r.sessions
		o.Sink = r.sink
		o.Logger = r.logger
	})
	errorsCh := make(chan error, 1)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	go func() {
		// Deregister before closing the streams so that once a caller
		// observes the end of the event stream, Cancel already reports
		// the run as gone.
		defer func() {
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			cancel()
			emitter.Close()
			close(errorsCh)
		}()

		if err := r.execute(runCtx, runID, req, emitter); err != nil {
			errorsCh <- err
		}
	}()

	return runID, emitter.Events(), errorsCh, nil
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// execute drives one run through resolution, session claim, the
// validation-retry loop, secondaries, persistence and the terminal
// event. Any returned error already reached the progress stream as a
// terminal error event.
func (r *Runner) execute(ctx context.Context, runID string, req core.GenerationRequest, em *progress.Emitter) error {
	r.metrics.IncRunStarted()
	started := time.Now()

	budget := core.NewCallBudget(r.maxModelCalls)
	defer func() {
		r.metrics.ObserveRunDuration(time.Since(started))
		r.metrics.ObserveModelCalls(budget.Count())
	}()

	em.Logf(core.SeverityInfo, "Resolving job details")

	job, err := r.jobs.Resolve(ctx, req.RawInput)
	if err != nil {
		return r.abort(em, fmt.Errorf("resolve job input: %w", err))
	}

	em.Logf(core.SeverityInfo, "Targeting %s", job.DisplayName())

	sess, err := r.claimSession(ctx, req, runID)
	if err != nil {
		return r.abort(em, err)
	}
	em.BindSession(sess.ID)

	if err := r.sessions.AppendMessage(ctx, sess.ID, core.NewUserMessage(req.RawInput)); err != nil {
		return r.failRun(em, sess.ID, runID, fmt.Errorf("append user message: %w", err))
	}
	if err := r.sessions.SetJobContext(ctx, sess.ID, *job); err != nil {
		return r.failRun(em, sess.ID, runID, fmt.Errorf("store job context: %w", err))
	}

	scratch, err := os.MkdirTemp(r.scratchRoot, "applyforge-run-")
	if err != nil {
		em.Logf(core.SeverityWarn, "Could not create a scratch dir, attempt markup will not be kept: %v", err)
		scratch = ""
	} else {
		defer func() {
			if rmErr := os.RemoveAll(scratch); rmErr != nil {
				r.logger.Warn("failed to remove scratch dir %s: %v", scratch, rmErr)
			}
		}()
	}

	runModel := model.WithBudget(model.WithRetry(r.base, func(o *model.RetryOptions) {
		o.Policy = r.retryPolicy
		o.Logger = r.logger
	}), budget)

	loop := compose.NewLoop(runModel, r.compiler, func(o *compose.Options) {
		o.MaxAttempts = r.maxAttempts
		o.TargetPages = r.targetPages
		o.Hints = r.hints
		o.Logger = r.logger
		o.Metrics = r.metrics
	})

	res, err := loop.Run(ctx, compose.Input{
		Job:         *job,
		BaseContent: r.baseContent(ctx, req, em),
		ScratchDir:  scratch,
		Log:         em.Logf,
	})
	if err != nil {
		return r.failRun(em, sess.ID, runID, fmt.Errorf("generate resume: %w", err))
	}

	primaryStatus := "degraded"
	if res.Success {
		primaryStatus = "generated"
	}
	r.metrics.ObserveResumeAttempts(res.Attempts, res.Success)
	r.metrics.IncDocumentResult(string(core.DocumentResume), primaryStatus)

	now := time.Now().UTC()
	primaryRef := core.DocumentRef{
		Kind:       core.DocumentResume,
		SourcePath: core.ContentPath(req.OwnerID, sess.ID, core.SourceFilename(core.DocumentResume)),
		PageCount:  res.PageCount,
		Degraded:   !res.Success,
		Created:    now,
	}
	if err := r.contents.Write(ctx, primaryRef.SourcePath, res.Content); err != nil {
		return r.failRun(em, sess.ID, runID, fmt.Errorf("store resume markup: %w", err))
	}
	if len(res.Artifact) > 0 {
		artifactPath := core.ContentPath(req.OwnerID, sess.ID, core.ArtifactFilename(core.DocumentResume))
		if err := r.contents.Write(ctx, artifactPath, res.Artifact); err != nil {
			em.Logf(core.SeverityWarn, "Could not store the compiled resume PDF: %v", err)
			primaryRef.Degraded = true
		} else {
			primaryRef.ArtifactPath = artifactPath
		}
	}

	em.Logf(core.SeverityInfo, "Saved resume after %d attempt(s)", res.Attempts)

	resumeText := string(res.Content)
	if len(res.Artifact) > 0 {
		text, extractErr := typeset.ExtractText(res.Artifact)
		if extractErr != nil || strings.TrimSpace(text) == "" {
			em.Logf(core.SeverityWarn, "Could not extract text from the compiled resume, secondaries use the raw markup")
		} else {
			resumeText = text
		}
	}

	docs := []core.DocumentRef{primaryRef}
	var outcomes []core.SecondaryOutcome

	for _, kind := range core.SecondaryKinds() {
		if !req.Preferences.Enabled(kind) {
			em.Logf(core.SeverityInfo, "Skipping %s by preference", kind.Label())
			outcomes = append(outcomes, core.SecondaryOutcome{Kind: kind, Status: core.SecondarySkipped})
			r.metrics.IncDocumentResult(string(kind), "skipped")
			continue
		}

		text, genErr := loop.Secondary(ctx, kind, *job, resumeText, em.Logf)
		if genErr == nil {
			ref := core.DocumentRef{
				Kind:       kind,
				SourcePath: core.ContentPath(req.OwnerID, sess.ID, core.SourceFilename(kind)),
				Created:    time.Now().UTC(),
			}
			genErr = r.contents.Write(ctx, ref.SourcePath, text)
			if genErr == nil {
				docs = append(docs, ref)
				outcomes = append(outcomes, core.SecondaryOutcome{Kind: kind, Status: core.SecondaryGenerated})
				r.metrics.IncDocumentResult(string(kind), "generated")
				em.Logf(core.SeverityInfo, "Saved %s", kind.Label())
				continue
			}
		}

		// One secondary's failure never aborts the others.
		em.Error(fmt.Sprintf("%s generation failed: %v", kind.Label(), genErr), false)
		outcomes = append(outcomes, core.SecondaryOutcome{Kind: kind, Status: core.SecondaryFailed, Error: genErr.Error()})
		r.metrics.IncDocumentResult(string(kind), "failed")
	}

	partial := !res.Success
	for _, o := range outcomes {
		if o.Status == core.SecondaryFailed {
			partial = true
		}
	}

	primary := core.PrimaryOutcome{
		Success:     res.Success,
		Degraded:    !res.Success,
		Attempts:    res.Attempts,
		PageCount:   res.PageCount,
		TargetPages: r.targetPages,
	}
	if res.Err != nil {
		primary.Error = res.Err.Error()
	}

	result := &core.GenerationResult{
		SessionID:      sess.ID,
		RunID:          runID,
		Job:            job,
		Primary:        primary,
		Secondaries:    outcomes,
		PartialFailure: partial,
	}

	persistCtx := context.WithoutCancel(ctx)

	if err := r.sessions.Finish(persistCtx, sess.ID, runID, core.StateCompleted, docs); err != nil {
		return r.abort(em, fmt.Errorf("finish session %s: %w", sess.ID, err))
	}
	em.Logf(core.SeverityInfo, "Session %s completed", sess.ID)

	msg := core.NewAssistantMessage(result.Summary(), result, em.Lines())
	if err := r.sessions.AppendMessage(persistCtx, sess.ID, msg); err != nil {
		r.logger.Warn("failed to append the run summary to session %s: %v", sess.ID, err)
	}

	r.metrics.IncRunOutcome(metrics.RunCompleted)
	em.Complete(result)

	return nil
}

// claimSession creates a fresh session or claims the requested one via
// the store's compare-and-swap.
func (r *Runner) claimSession(ctx context.Context, req core.GenerationRequest, runID string) (*core.Session, error) {
	if req.SessionID != "" {
		sess, err := r.sessions.Claim(ctx, req.SessionID, runID)
		if err != nil {
			return nil, fmt.Errorf("claim session %s: %w", req.SessionID, err)
		}
		return sess, nil
	}

	sess := core.NewSession(core.NewID(), req.OwnerID)
	if err := sess.BeginRun(runID); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	if err := r.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// baseContent resolves the candidate material: the request's inline
// profile when present, otherwise the owner's stored profile. A missing
// stored profile is normal; the resume is then grounded on the job facts
// alone.
func (r *Runner) baseContent(ctx context.Context, req core.GenerationRequest, em *progress.Emitter) string {
	if req.Profile != "" {
		return req.Profile
	}

	data, err := r.contents.Read(ctx, core.OwnerPath(req.OwnerID, core.ProfileFilename))
	if err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			em.Logf(core.SeverityWarn, "Could not read the stored profile: %v", err)
		}
		return ""
	}

	em.Logf(core.SeverityInfo, "Using the stored profile for owner %s", req.OwnerID)
	return string(data)
}

// failRun moves a claimed session to failed and ends the run. The state
// write uses a fresh context so a cancelled run still lands in a
// terminal state.
func (r *Runner) failRun(em *progress.Emitter, sessionID, runID string, runErr error) error {
	if err := r.sessions.Finish(context.Background(), sessionID, runID, core.StateFailed, nil); err != nil {
		r.logger.Warn("failed to mark session %s failed: %v", sessionID, err)
	}
	return r.abort(em, runErr)
}

// abort records the terminal failure on the metrics and the progress
// stream and hands the error back to Start's error channel.
func (r *Runner) abort(em *progress.Emitter, runErr error) error {
	outcome := metrics.RunFailed
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		outcome = metrics.RunCanceled
	}
	r.metrics.IncRunOutcome(outcome)

	em.Error(runErr.Error(), true)

	return runErr
}
