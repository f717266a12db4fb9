// Package runner coordinates one generation run end to end: job
// resolution, session lifecycle, the resume validation-retry loop,
// best-effort secondary documents, document persistence and the final
// chat replay record.
//
// Start is asynchronous: it returns the run id and the progress channel
// immediately and the work continues server-side, detached from the
// caller's context, until it reaches a terminal state. A disconnecting
// observer therefore never cancels a run; Cancel does, explicitly. The
// session stays readable through the pull path (session log + status)
// the whole time.
package runner
