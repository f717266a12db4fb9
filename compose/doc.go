// Package compose produces the generated documents of a run. Its center
// is the validation-retry loop for the page-exact resume: generate
// markup, compile it, measure the page count, and when the measurement
// misses the target feed the measured number back into a corrective
// prompt for the next attempt. Attempts are bounded; an exhausted loop
// still returns the closest attempt's output as a degraded result
// rather than nothing. Secondary documents (cover letter, cold email)
// are single best-effort generations without a compile step.
//
// Transient backend failures never consume a loop attempt: they are
// retried inside the model decorators before the loop ever sees them.
// Compile failures and page mismatches consume attempts and never
// escalate past a degraded result.
package compose
