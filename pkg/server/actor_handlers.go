package server

import (
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quasi-board/quasi-board/pkg/activitypub"
	"github.com/quasi-board/quasi-board/pkg/signature"
)

// ActorHandlers serves the Service actor document.
type ActorHandlers struct {
	boardURL   string
	actorName  string
	pubKey     *rsa.PublicKey
	identityKey ed25519.PublicKey
}

// NewActorHandlers constructs ActorHandlers for the local actor keyed by
// pubKey. identityKey is optional; when nil, no assertionMethod is published.
func NewActorHandlers(boardURL, actorName string, pubKey *rsa.PublicKey, identityKey ed25519.PublicKey) *ActorHandlers {
	return &ActorHandlers{boardURL: boardURL, actorName: actorName, pubKey: pubKey, identityKey: identityKey}
}

// HandleActor handles GET /<actorName>.
func (h *ActorHandlers) HandleActor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/activity+json")

	actorID := fmt.Sprintf("%s/%s", h.boardURL, h.actorName)
	pem, err := signature.PublicKeyPEM(h.pubKey)
	if err != nil {
		writeJSONError(w, "failed to encode public key", http.StatusInternalServerError)
		return
	}

	actor := activitypub.Actor{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		Type:   "Service",
		ID:     actorID,
		Inbox:  actorID + "/inbox",
		Outbox: actorID + "/outbox",
		Name:   h.actorName,
		PublicKey: activitypub.PublicKey{
			ID:           actorID + "#main-key",
			Owner:        actorID,
			PublicKeyPem: pem,
		},
	}
	if len(h.identityKey) == ed25519.PublicKeySize {
		actor.AssertionMethods = []activitypub.AssertionMethod{{
			ID:                 actorID + "#identity-key",
			Type:               "Multikey",
			Controller:         actorID,
			PublicKeyMultibase: signature.EncodeMultibaseEd25519(h.identityKey),
		}}
	}
	json.NewEncoder(w).Encode(actor)
}
