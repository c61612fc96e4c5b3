package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quasi-board/quasi-board/pkg/activitypub"
	"github.com/quasi-board/quasi-board/pkg/tasks"
)

// OutboxHandlers serves the task list projected as an ActivityPub outbox of Notes.
type OutboxHandlers struct {
	projector *tasks.Projector
	boardURL  string
	actorName string
}

// NewOutboxHandlers constructs OutboxHandlers.
func NewOutboxHandlers(projector *tasks.Projector, boardURL, actorName string) *OutboxHandlers {
	return &OutboxHandlers{projector: projector, boardURL: boardURL, actorName: actorName}
}

// HandleOutbox handles GET /<actorName>/outbox.
func (h *OutboxHandlers) HandleOutbox(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/activity+json")

	notes, err := h.projector.Notes(r.Context())
	if err != nil {
		writeJSONError(w, fmt.Sprintf("failed to project tasks: %v", err), http.StatusInternalServerError)
		return
	}

	collection := activitypub.OrderedCollection{
		Context:      "https://www.w3.org/ns/activitystreams",
		Type:         "OrderedCollection",
		ID:           fmt.Sprintf("%s/%s/outbox", h.boardURL, h.actorName),
		TotalItems:   len(notes),
		OrderedItems: notes,
	}
	json.NewEncoder(w).Encode(collection)
}
