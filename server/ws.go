package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/hupe1980/applyforge/core"
)

// wsClientMessage is a control frame from the client after the initial
// request frame.
type wsClientMessage struct {
	Type string `json:"type"` // "cancel"
}

// handleGenerateWS runs the interactive protocol: the first frame is a
// generation request, every progress event streams back as a JSON text
// frame, and the connection closes after the terminal event. A client
// going away leaves the run going; only a cancel frame stops it.
func (s *Server) handleGenerateWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed: %v", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "session ended") //nolint:errcheck

	ctx := r.Context()

	_, data, err := ws.Read(ctx)
	if err != nil {
		return
	}

	var req generateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeWS(ctx, ws, map[string]string{"error": "invalid request frame"})
		ws.Close(websocket.StatusUnsupportedData, "invalid request") //nolint:errcheck
		return
	}

	runID, _, _, err := s.app.StartGeneration(ctx, req.toCore())
	if err != nil {
		s.writeWS(ctx, ws, map[string]string{"error": err.Error()})
		ws.Close(websocket.StatusNormalClosure, "rejected") //nolint:errcheck
		return
	}

	s.broker.Register(runID)
	events, cancelSub, ok := s.broker.Subscribe(runID)
	if !ok {
		s.writeWS(ctx, ws, map[string]string{"error": "run stream unavailable"})
		return
	}
	defer cancelSub()

	// Control loop: watch for an explicit cancel frame. Read errors mean
	// the client went away, which leaves the run untouched.
	go func() {
		for {
			_, msg, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var m wsClientMessage
			if json.Unmarshal(msg, &m) == nil && m.Type == "cancel" {
				if err := s.app.Cancel(runID); err != nil {
					s.logger.Warn("cancel of run %s failed: %v", runID, err)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, open := <-events:
			if !open {
				ws.Close(websocket.StatusNormalClosure, "run complete") //nolint:errcheck
				return
			}
			if err := s.writeWSEvent(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWSEvent(ctx context.Context, ws *websocket.Conn, ev core.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (s *Server) writeWS(ctx context.Context, ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Warn("websocket write failed: %v", err)
	}
}
