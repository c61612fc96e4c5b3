package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/quasi-board/quasi-board/pkg/activitypub"
)

// WebFingerHandlers serves the actor discovery endpoint.
type WebFingerHandlers struct {
	boardURL  string
	actorName string
}

// NewWebFingerHandlers constructs WebFingerHandlers. boardURL is the
// external base URL (e.g. "https://quasi.example"), actorName the local
// handle (e.g. "quasi-board").
func NewWebFingerHandlers(boardURL, actorName string) *WebFingerHandlers {
	return &WebFingerHandlers{boardURL: boardURL, actorName: actorName}
}

// HandleWebFinger handles GET /.well-known/webfinger?resource=acct:user@host.
func (h *WebFingerHandlers) HandleWebFinger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/jrd+json")

	resource := r.URL.Query().Get("resource")
	if resource == "" {
		writeJSONError(w, "resource parameter is required", http.StatusBadRequest)
		return
	}

	user := strings.TrimPrefix(resource, "acct:")
	if at := strings.Index(user, "@"); at >= 0 {
		user = user[:at]
	}
	if user != h.actorName {
		writeJSONError(w, "no such actor", http.StatusNotFound)
		return
	}

	resp := activitypub.WebFingerResponse{
		Subject: resource,
		Links: []activitypub.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: fmt.Sprintf("%s/%s", h.boardURL, h.actorName),
			},
		},
	}
	json.NewEncoder(w).Encode(resp)
}
