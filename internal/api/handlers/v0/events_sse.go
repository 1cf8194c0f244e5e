package v0

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcphub-dev/mcphub/internal/events"
)

// RegisterEventsSSEHandler registers the status event stream. It is
// registered directly on the mux because Huma's typed handlers cannot
// express a long-lived server-sent event response.
func RegisterEventsSSEHandler(mux *http.ServeMux, pathPrefix string, bus *events.Bus) {
	path := "GET " + pathPrefix + "/events/stream"
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		handleSSEEvents(w, r, bus)
	})
}

func handleSSEEvents(w http.ResponseWriter, r *http.Request, bus *events.Bus) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel := bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
