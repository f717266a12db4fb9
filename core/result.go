package core

import (
	"fmt"
	"strings"
)

// GenerationRequest is the input to one orchestration run.
type GenerationRequest struct {
	OwnerID   string `json:"owner_id"`
	RawInput  string `json:"raw_input"`
	SessionID string `json:"session_id,omitempty"`

	// Profile is the candidate's source material, opaque to the engine.
	// When empty, the runner falls back to the owner's stored profile in
	// the content store (OwnerPath(owner, ProfileFilename)), if any.
	Profile string `json:"profile,omitempty"`

	Preferences Preferences `json:"preferences"`
}

// NewGenerationRequest builds a request with default preferences (every
// secondary document enabled).
func NewGenerationRequest(ownerID, rawInput string) GenerationRequest {
	return GenerationRequest{
		OwnerID:     ownerID,
		RawInput:    rawInput,
		Preferences: DefaultPreferences(),
	}
}

// Validate rejects unusable requests before any side effect occurs.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("owner id required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(r.RawInput) == "" {
		return fmt.Errorf("raw input required: %w", ErrInvalidInput)
	}
	return nil
}

// PrimaryOutcome records how the validation-retry loop ended. Degraded marks
// an attempts-exhausted run that still produced usable output (wrong length
// or uncompiled markup); Success and Degraded are mutually exclusive.
type PrimaryOutcome struct {
	Success     bool   `json:"success"`
	Degraded    bool   `json:"degraded,omitempty"`
	Attempts    int    `json:"attempts"`
	PageCount   int    `json:"page_count,omitempty"`
	TargetPages int    `json:"target_pages"`
	Error       string `json:"error,omitempty"`
}

// SecondaryStatus is the per-secondary-document outcome.
type SecondaryStatus string

const (
	// SecondaryGenerated means the document was produced and persisted.
	SecondaryGenerated SecondaryStatus = "generated"
	// SecondarySkipped means preferences disabled the document.
	SecondarySkipped SecondaryStatus = "skipped"
	// SecondaryFailed means generation or persistence failed; the error is
	// recorded per item and never aborts the remaining documents.
	SecondaryFailed SecondaryStatus = "failed"
)

// SecondaryOutcome records one secondary document's result.
type SecondaryOutcome struct {
	Kind   DocumentKind    `json:"kind"`
	Status SecondaryStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// GenerationResult aggregates one run's outcome: the primary document, each
// secondary independently, and the derived job metadata. Clients render
// per-document success/failure from it without guessing from session state.
type GenerationResult struct {
	SessionID      string             `json:"session_id"`
	RunID          string             `json:"run_id"`
	Job            *JobContext        `json:"job,omitempty"`
	Primary        PrimaryOutcome     `json:"primary"`
	Secondaries    []SecondaryOutcome `json:"secondaries"`
	PartialFailure bool               `json:"partial_failure"`
}

// Secondary returns the outcome recorded for kind, or nil.
func (r *GenerationResult) Secondary(kind DocumentKind) *SecondaryOutcome {
	for i := range r.Secondaries {
		if r.Secondaries[i].Kind == kind {
			return &r.Secondaries[i]
		}
	}
	return nil
}

// Summary renders a short assistant-facing digest of the run.
func (r *GenerationResult) Summary() string {
	var b strings.Builder
	if r.Job != nil {
		fmt.Fprintf(&b, "Generated documents for %s.\n", r.Job.DisplayName())
	}
	switch {
	case r.Primary.Success:
		fmt.Fprintf(&b, "Resume: %d pages in %d attempt(s).\n", r.Primary.PageCount, r.Primary.Attempts)
	case r.Primary.Degraded:
		fmt.Fprintf(&b, "Resume: best effort after %d attempt(s), %d pages (target %d).\n",
			r.Primary.Attempts, r.Primary.PageCount, r.Primary.TargetPages)
	default:
		fmt.Fprintf(&b, "Resume: failed (%s).\n", r.Primary.Error)
	}
	for _, s := range r.Secondaries {
		switch s.Status {
		case SecondaryGenerated:
			fmt.Fprintf(&b, "%s: generated.\n", secondaryLabel(s.Kind))
		case SecondarySkipped:
			fmt.Fprintf(&b, "%s: skipped by preference.\n", secondaryLabel(s.Kind))
		case SecondaryFailed:
			fmt.Fprintf(&b, "%s: failed (%s).\n", secondaryLabel(s.Kind), s.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func secondaryLabel(kind DocumentKind) string {
	switch kind {
	case DocumentCoverLetter:
		return "Cover letter"
	case DocumentColdEmail:
		return "Cold email"
	default:
		return string(kind)
	}
}
