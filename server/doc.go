// Package server exposes the engine over HTTP: JSON endpoints for
// starting runs and inspecting sessions, a Server-Sent-Events stream and
// a WebSocket endpoint for live progress, plus /healthz and /metrics.
//
// The App handed to New must be constructed with its EventSink wired to
// the broker's Publish, otherwise the streaming endpoints see no events.
// Disconnecting stream consumers never cancels a run; cancellation is an
// explicit POST or WebSocket cancel frame.
package server
