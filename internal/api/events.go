package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Berry7028/browserbee/internal/host"
)

// eventsHandler streams bus events as SSE. Clients may filter by kind via
// ?kinds=tab.created,title.changed.
func eventsHandler(bus *host.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var kindFilter map[host.EventKind]bool
		if q := r.URL.Query().Get("kinds"); q != "" {
			kindFilter = make(map[host.EventKind]bool)
			for _, k := range strings.Split(q, ",") {
				if k = strings.TrimSpace(k); k != "" {
					kindFilter[host.EventKind(k)] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := bus.Stream()
		defer bus.CloseStream(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if kindFilter != nil && !kindFilter[evt.Kind] {
					continue
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					slog.Debug("events marshal failed", "kind", evt.Kind, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
