// Package progress turns a run's step log into an ordered, replayable
// event stream with two reconcilable read paths.
//
// The Emitter is owned by one orchestration run. It assigns contiguous
// per-run sequence numbers, delivers events to the run's push channel
// without ever blocking the run (slow or absent observers lose events,
// never reorder them), and persists log lines onto the session. Lines
// emitted before the session exists are buffered and flushed the moment
// BindSession announces it.
//
// The Broker fans one run's events out to any number of subscribers and
// replays the full history to late ones, closing every subscription
// after the terminal event. Observers that disconnect mid-run reconcile
// through the pull path (session log snapshot plus status polling), not
// through connection resumption.
package progress
