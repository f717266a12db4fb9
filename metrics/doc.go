// Package metrics defines the observability hooks for generation runs.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional: enabling them is swapping in the
// PrometheusRecorder, no call sites change. The recorder covers run volume
// and outcomes, run duration, resume attempt counts, compile results, page
// mismatches, per-run model call counts and per-document outcomes.
package metrics
