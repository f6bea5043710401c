package transport

import (
	"encoding/json"
	"net/http"

	"streamdecoder/internal/session"
)

// diagnosticsHandler serves GET /debug/sessions (SPEC_FULL.md §4.5b), a
// read-only view of every live session. Grounded on
// handlers/channel_handlers.go's GetChannelGuideHandler shape: snapshot
// manager state, encode as JSON.
func diagnosticsHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(registry.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
