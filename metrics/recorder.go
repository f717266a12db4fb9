package metrics

import "time"

// RunOutcome enumerates the terminal categories a run is counted under.
type RunOutcome string

const (
	RunCompleted RunOutcome = "completed"
	RunFailed    RunOutcome = "failed"
	RunCanceled  RunOutcome = "canceled"
)

// Recorder defines the observability hooks recorded by the orchestrator and
// the validation-retry loop. Implementations must be safe for concurrent use;
// every method must also be safe on a nil receiver so callers can inject a
// typed nil without guarding each call.
type Recorder interface {
	IncRunStarted()
	IncRunOutcome(outcome RunOutcome)
	ObserveRunDuration(d time.Duration)

	// ObserveResumeAttempts records how many generate-compile-measure
	// passes the primary document needed; success marks an exact page fit.
	ObserveResumeAttempts(attempts int, success bool)

	// ObserveModelCalls records the backend calls one run consumed.
	ObserveModelCalls(calls int)

	IncCompileResult(success bool)
	IncPageMismatch()

	// IncDocumentResult counts one produced (or failed) document by kind
	// and status: generated, degraded, skipped or failed.
	IncDocumentResult(kind, status string)
}

// NoopRecorder is the default Recorder; it does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncRunStarted()                   {}
func (NoopRecorder) IncRunOutcome(RunOutcome)         {}
func (NoopRecorder) ObserveRunDuration(time.Duration) {}
func (NoopRecorder) ObserveResumeAttempts(int, bool)  {}
func (NoopRecorder) ObserveModelCalls(int)            {}
func (NoopRecorder) IncCompileResult(bool)            {}
func (NoopRecorder) IncPageMismatch()                 {}
func (NoopRecorder) IncDocumentResult(string, string) {}
