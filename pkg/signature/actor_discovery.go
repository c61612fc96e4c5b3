package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ActorDocument is the subset of an ActivityPub actor document needed to
// record a Follow: where to deliver activities and which key to verify
// its future signatures against.
type ActorDocument struct {
	Inbox        string
	PublicKeyPEM string
}

// FetchActorDocument GETs actorURL and parses its inbox and
// publicKey.publicKeyPem fields, the same actor-document shape
// NewHTTPKeyFetcher already parses for key-only lookups.
func FetchActorDocument(ctx context.Context, client *http.Client, actorURL string) (ActorDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURL, nil)
	if err != nil {
		return ActorDocument{}, err
	}
	req.Header.Set("Accept", "application/activity+json")

	resp, err := client.Do(req)
	if err != nil {
		return ActorDocument{}, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ActorDocument{}, fmt.Errorf("%w: status %d", ErrKeyFetchFailed, resp.StatusCode)
	}

	var doc struct {
		Inbox     string `json:"inbox"`
		PublicKey struct {
			PublicKeyPem string `json:"publicKeyPem"`
		} `json:"publicKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return ActorDocument{}, fmt.Errorf("%w: %v", ErrKeyFetchFailed, err)
	}
	if doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return ActorDocument{}, fmt.Errorf("%w: actor document missing inbox or publicKeyPem", ErrKeyFetchFailed)
	}
	return ActorDocument{Inbox: doc.Inbox, PublicKeyPEM: doc.PublicKey.PublicKeyPem}, nil
}
