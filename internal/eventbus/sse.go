package eventbus

import (
	"fmt"
	"net/http"
)

// ServeSSE streams executionID's events as Server-Sent Events until the
// client disconnects, adapted from the teacher's websocket writePump: same
// server-push-only shape, no read pump needed since an http.Request has no
// equivalent of a client-initiated WebSocket frame.
func ServeSSE(hub *Hub, executionID string, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("eventbus: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := hub.Subscribe(executionID)
	defer hub.Unsubscribe(client)

	for {
		select {
		case <-r.Context().Done():
			return nil
		case data, ok := <-client.send:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
