package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quasi-board/quasi-board/pkg/activitypub"
	"github.com/quasi-board/quasi-board/pkg/ledger"
	"github.com/quasi-board/quasi-board/pkg/signature"
)

func mustTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := ledger.NewStore(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

type fakePublisher struct{ enqueued int }

func (f *fakePublisher) Enqueue(inbox string, body []byte) { f.enqueued++ }

// fakeResolver resolves any actor to a conventional inbox URL and a
// placeholder key, so inbox tests that never exercise Follow don't need a
// live actor document server.
type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, actorURL string) (string, string, error) {
	return actorURL + "/inbox", "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----", nil
}

func TestWebFingerHandlerResolvesLocalActor(t *testing.T) {
	h := NewWebFingerHandlers("https://quasi.example", "quasi-board")
	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:quasi-board@quasi.example", nil)
	rr := httptest.NewRecorder()

	h.HandleWebFinger(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp activitypub.WebFingerResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Links) != 1 || resp.Links[0].Href != "https://quasi.example/quasi-board" {
		t.Fatalf("unexpected links: %+v", resp.Links)
	}
}

func TestActorHandlerIncludesIdentityAssertionMethod(t *testing.T) {
	dir := t.TempDir()
	priv, err := signature.GenerateOrLoadRSAKeyPair(dir)
	if err != nil {
		t.Fatalf("GenerateOrLoadRSAKeyPair: %v", err)
	}
	identityPub, _, err := signature.GenerateOrLoadEd25519Key(dir)
	if err != nil {
		t.Fatalf("GenerateOrLoadEd25519Key: %v", err)
	}

	h := NewActorHandlers("https://quasi.example", "quasi-board", &priv.PublicKey, identityPub)
	req := httptest.NewRequest(http.MethodGet, "/quasi-board", nil)
	rr := httptest.NewRecorder()

	h.HandleActor(rr, req)

	var actor activitypub.Actor
	if err := json.NewDecoder(rr.Body).Decode(&actor); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(actor.AssertionMethods) != 1 || actor.AssertionMethods[0].PublicKeyMultibase == "" {
		t.Fatalf("expected one assertionMethod with a multibase key, got %+v", actor.AssertionMethods)
	}
}

func TestWebFingerHandlerUnknownActor(t *testing.T) {
	h := NewWebFingerHandlers("https://quasi.example", "quasi-board")
	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:nobody@quasi.example", nil)
	rr := httptest.NewRecorder()

	h.HandleWebFinger(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLedgerHandlerReturnsGenesis(t *testing.T) {
	store := mustTestStore(t)
	h := NewLedgerHandlers(store)
	req := httptest.NewRequest(http.MethodGet, "/quasi-board/ledger", nil)
	rr := httptest.NewRecorder()

	h.HandleLedger(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp ledgerResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || !resp.Valid {
		t.Fatalf("expected 1 valid genesis entry, got %+v", resp)
	}
}

func TestInboxAnnounceAppendsClaim(t *testing.T) {
	store := mustTestStore(t)
	followers := newTestFollowerStore(t)
	verifier := signature.NewVerifier(signature.NewKeyCache(), nil, true)
	pub := &fakePublisher{}
	h := NewInboxHandlers(store, verifier, followers, pub, &fakeResolver{}, "https://quasi.example", "quasi-board", nil)

	activity := activitypub.Activity{Type: "Announce", Actor: "claude-sonnet-4-6", QuasiTaskID: "QUASI-001"}
	body, _ := json.Marshal(activity)
	req := httptest.NewRequest(http.MethodPost, "/quasi-board/inbox", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:54321"
	rr := httptest.NewRecorder()

	h.HandleInbox(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack activitypub.InboxAck
	if err := json.NewDecoder(rr.Body).Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.LedgerEntry != 2 {
		t.Fatalf("expected ledger entry 2, got %d", ack.LedgerEntry)
	}
}

func TestInboxAnnounceConflictReturns409(t *testing.T) {
	store := mustTestStore(t)
	followers := newTestFollowerStore(t)
	verifier := signature.NewVerifier(signature.NewKeyCache(), nil, true)
	pub := &fakePublisher{}
	h := NewInboxHandlers(store, verifier, followers, pub, &fakeResolver{}, "https://quasi.example", "quasi-board", nil)

	first := activitypub.Activity{Type: "Announce", Actor: "claude-sonnet-4-6", QuasiTaskID: "QUASI-001"}
	body, _ := json.Marshal(first)
	req := httptest.NewRequest(http.MethodPost, "/quasi-board/inbox", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:1"
	h.HandleInbox(httptest.NewRecorder(), req)

	second := activitypub.Activity{Type: "Announce", Actor: "gpt-4o", QuasiTaskID: "QUASI-001"}
	body2, _ := json.Marshal(second)
	req2 := httptest.NewRequest(http.MethodPost, "/quasi-board/inbox", bytes.NewReader(body2))
	req2.RemoteAddr = "127.0.0.1:2"
	rr2 := httptest.NewRecorder()

	h.HandleInbox(rr2, req2)

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr2.Code, rr2.Body.String())
	}
}

func TestInboxRejectsUnsignedNonLoopback(t *testing.T) {
	store := mustTestStore(t)
	followers := newTestFollowerStore(t)
	verifier := signature.NewVerifier(signature.NewKeyCache(), nil, true)
	pub := &fakePublisher{}
	h := NewInboxHandlers(store, verifier, followers, pub, &fakeResolver{}, "https://quasi.example", "quasi-board", nil)

	activity := activitypub.Activity{Type: "Announce", Actor: "claude-sonnet-4-6", QuasiTaskID: "QUASI-001"}
	body, _ := json.Marshal(activity)
	req := httptest.NewRequest(http.MethodPost, "/quasi-board/inbox", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.5:54321"
	rr := httptest.NewRecorder()

	h.HandleInbox(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := mustTestStore(t)
	h := NewWebhookHandlers(store, []byte("secret"), nil)

	req := httptest.NewRequest(http.MethodPost, "/quasi-board/github-webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rr := httptest.NewRecorder()

	h.HandleGitHubWebhook(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookAppendsCompletionOnMergedPR(t *testing.T) {
	store := mustTestStore(t)
	secret := []byte("webhook-secret")
	h := NewWebhookHandlers(store, secret, nil)

	payload := map[string]interface{}{
		"action": "closed",
		"pull_request": map[string]interface{}{
			"merged":           true,
			"merge_commit_sha": "def456",
			"html_url":         "https://github.com/example/repo/pull/1",
			"body":             "Contribution-Agent: claude-sonnet-4-6\nTask: QUASI-002\nVerification: ci-pass\n",
		},
	}
	body, _ := json.Marshal(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/quasi-board/github-webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	rr := httptest.NewRecorder()

	h.HandleGitHubWebhook(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	entries := store.Entries(0, 0)
	if len(entries) != 2 || entries[1].CommitHash != "def456" {
		t.Fatalf("expected completion entry appended, got %+v", entries)
	}
}

func newTestFollowerStore(t *testing.T) *FollowerStore {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFollowerStore(dir)
	if err != nil {
		t.Fatalf("NewFollowerStore: %v", err)
	}
	return fs
}

func TestFollowerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFollowerStore(dir)
	if err != nil {
		t.Fatalf("NewFollowerStore: %v", err)
	}
	if err := fs.Add("https://peer.example/actor", "https://peer.example/actor/inbox", "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := NewFollowerStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("expected 1 persisted follower, got %d", reopened.Count())
	}
}

func TestInboxFollowDiscoversRemoteActor(t *testing.T) {
	actorServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "https://peer.example/actor",
			"inbox": "https://peer.example/actor/inbox",
			"publicKey": map[string]string{
				"publicKeyPem": "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----",
			},
		})
	}))
	defer actorServer.Close()

	store := mustTestStore(t)
	followers := newTestFollowerStore(t)
	verifier := signature.NewVerifier(signature.NewKeyCache(), nil, true)
	pub := &fakePublisher{}
	resolver := NewHTTPActorResolver(actorServer.Client())
	h := NewInboxHandlers(store, verifier, followers, pub, resolver, "https://quasi.example", "quasi-board", nil)

	activity := activitypub.Activity{Type: "Follow", Actor: actorServer.URL}
	body, _ := json.Marshal(activity)
	req := httptest.NewRequest(http.MethodPost, "/quasi-board/inbox", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:1"
	rr := httptest.NewRecorder()

	h.HandleInbox(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	all := followers.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 recorded follower, got %d", len(all))
	}
	if all[0].Inbox != "https://peer.example/actor/inbox" {
		t.Fatalf("expected discovered inbox, got %q", all[0].Inbox)
	}
	if all[0].PublicKeyPEM == "" {
		t.Fatalf("expected discovered public key to be recorded")
	}
}
