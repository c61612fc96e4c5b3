// Package server implements the federation server (C5): WebFinger, actor,
// outbox, inbox, ledger query, GitHub webhook, and metrics endpoints.
package server

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes a minimal {"error": message} JSON body.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
