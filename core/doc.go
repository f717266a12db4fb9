// Package core provides the foundational domain types, interfaces and error
// taxonomy used by ApplyForge. It defines the core abstractions for:
//
//   - Sessions (lockable, lifecycle-tracked generation lineages with an
//     append-only chat and progress log)
//   - Progress events (ordered, replayable run telemetry)
//   - Documents (primary resume plus best-effort secondary artifacts)
//   - Pluggable stores for session state and generated content
//   - Collaborator contracts (compiler, link resolver, job resolver)
//
// The package intentionally keeps implementation concerns (persistence,
// orchestration, model providers, transports) out of scope, exposing small
// interfaces so backends can be swapped without touching calling code.
package core
