package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/applyforge/core"
)

// keepaliveInterval paces SSE comment frames so idle streams survive
// proxies with read timeouts.
const keepaliveInterval = 15 * time.Second

// handleRunEvents streams a run's progress as Server-Sent Events. The
// broker replays the full history first, so reconnecting clients always
// see a contiguous sequence; the stream ends after the terminal event.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	events, cancel, ok := s.broker.Subscribe(runID)
	if !ok {
		Error(w, http.StatusNotFound, "unknown run")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			if canFlush {
				flusher.Flush()
			}

		case ev, open := <-events:
			if !open {
				return
			}
			s.sendSSEEvent(w, flusher, canFlush, ev)
		}
	}
}

// sendSSEEvent writes one event in SSE framing, the sequence number as
// the event id.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, canFlush bool, ev core.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal progress event: %v", err)
		return
	}

	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data)
	if canFlush {
		flusher.Flush()
	}
}
