package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// handleStream serves the nudge event feed as server-sent events. Each
// lifecycle transition (triggered, accepted, dismissed, snoozed, mute
// toggles) arrives as one SSE data frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rt := s.runtimeFor(s.sessionFrom(r))
	if rt == nil {
		writeError(w, http.StatusUnauthorized, "authentication required for event stream")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subscriberID := uuid.New().String()
	events := rt.engine.Subscribe(subscriberID)
	defer rt.engine.Unsubscribe(subscriberID)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
