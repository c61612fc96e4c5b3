package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quasi-board/quasi-board/pkg/activitypub"
	"github.com/quasi-board/quasi-board/pkg/ledger"
	"github.com/quasi-board/quasi-board/pkg/signature"
)

// maxInboxBodyBytes bounds inbound activity bodies.
const maxInboxBodyBytes = 1 << 20 // 1 MiB

// Publisher enqueues one outbound Activity body for delivery to a single
// inbox; publishActivity calls it once per current follower. The published
// activities carry no audience ("to") field. Implemented by Delivery in
// production, narrowed here so InboxHandlers can be tested without a live
// delivery queue.
type Publisher interface {
	Enqueue(inbox string, body []byte)
}

// ActorResolver resolves a remote actor's id to its actor document, the
// same discovery path C3 uses for key lookups, so that a Follow can be
// recorded with a real inbox and public key instead of a guessed one.
type ActorResolver interface {
	Resolve(ctx context.Context, actorURL string) (inbox, publicKeyPEM string, err error)
}

// httpActorResolver is the production ActorResolver, backed by an HTTP
// GET of the actor document via signature.FetchActorDocument.
type httpActorResolver struct {
	client *http.Client
}

// NewHTTPActorResolver builds an ActorResolver that fetches actor
// documents over HTTP.
func NewHTTPActorResolver(client *http.Client) ActorResolver {
	return &httpActorResolver{client: client}
}

func (r *httpActorResolver) Resolve(ctx context.Context, actorURL string) (string, string, error) {
	doc, err := signature.FetchActorDocument(ctx, r.client, actorURL)
	if err != nil {
		return "", "", err
	}
	return doc.Inbox, doc.PublicKeyPEM, nil
}

// InboxHandlers dispatches inbound ActivityPub activities by type:
// Announce claims a task, Create with quasi:type=completion records a
// completion, Follow records a follower and replies with Accept, Undo
// of a Follow removes one, anything else is accepted and ignored.
type InboxHandlers struct {
	store     *ledger.Store
	verifier  *signature.Verifier
	followers *FollowerStore
	publisher Publisher
	resolver  ActorResolver
	boardURL  string
	actorName string
	logger    *log.Logger
	metrics   *Metrics
}

// NewInboxHandlers constructs InboxHandlers.
func NewInboxHandlers(store *ledger.Store, verifier *signature.Verifier, followers *FollowerStore, publisher Publisher, resolver ActorResolver, boardURL, actorName string, metrics *Metrics) *InboxHandlers {
	return &InboxHandlers{
		store:     store,
		verifier:  verifier,
		followers: followers,
		publisher: publisher,
		resolver:  resolver,
		boardURL:  boardURL,
		actorName: actorName,
		logger:    log.New(log.Writer(), "[Inbox] ", log.LstdFlags),
		metrics:   metrics,
	}
}

// isLoopback reports whether r originated from the local host, the only
// case in which an unsigned activity is accepted.
func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// HandleInbox handles POST /<actorName>/inbox.
func (h *InboxHandlers) HandleInbox(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBodyBytes+1))
	if err != nil {
		writeJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxInboxBodyBytes {
		writeJSONError(w, "request body too large", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Signature")
	if sigHeader != "" {
		info := signature.RequestInfo{
			Method:          r.Method,
			RequestURI:      r.URL.RequestURI(),
			Host:            r.Host,
			Headers:         r.Header,
			Body:            body,
			SignatureHeader: sigHeader,
		}
		if err := h.verifier.Verify(r.Context(), info); err != nil {
			writeJSONError(w, fmt.Sprintf("signature verification failed: %v", err), http.StatusUnauthorized)
			return
		}
	} else if !isLoopback(r) {
		writeJSONError(w, "signature required for non-local requests", http.StatusUnauthorized)
		return
	}

	var activity activitypub.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		writeJSONError(w, "invalid activity payload", http.StatusBadRequest)
		return
	}

	switch activity.Type {
	case "Announce":
		h.handleAnnounce(w, activity)
	case "Create":
		h.handleCreate(w, activity)
	case "Follow":
		h.handleFollow(w, r.Context(), activity)
	case "Undo":
		h.handleUndo(w, activity)
	default:
		if h.metrics != nil {
			h.metrics.InboxIgnored.Inc()
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
	}
}

func (h *InboxHandlers) handleAnnounce(w http.ResponseWriter, activity activitypub.Activity) {
	if activity.QuasiTaskID == "" {
		writeJSONError(w, "quasi:taskId is required for Announce", http.StatusBadRequest)
		return
	}

	entry, err := h.store.AppendClaim(activity.Actor, activity.QuasiTaskID, time.Now())
	if h.writeLedgerResult(w, entry, err) && h.metrics != nil {
		h.metrics.InboxAnnounce.Inc()
		h.metrics.LedgerClaims.Inc()
	}
	if h.metrics != nil && errors.Is(err, ledger.ErrConflict) {
		h.metrics.LedgerConflicts.Inc()
	}
	if err == nil {
		h.publishActivity("Announce", activity.Actor, entry)
	}
}

func (h *InboxHandlers) handleCreate(w http.ResponseWriter, activity activitypub.Activity) {
	if activity.QuasiType != "completion" {
		if h.metrics != nil {
			h.metrics.InboxIgnored.Inc()
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}
	taskID := activity.QuasiTaskID
	if activity.Object != nil && taskID == "" {
		taskID = activity.Object.QuasiTaskID
	}
	if taskID == "" || activity.QuasiCommitHash == "" {
		writeJSONError(w, "quasi:taskId and quasi:commitHash are required for completion", http.StatusBadRequest)
		return
	}

	entry, err := h.store.AppendCompletion(activity.Actor, taskID, activity.QuasiCommitHash, activity.QuasiPRUrl, time.Now())
	if h.writeLedgerResult(w, entry, err) && h.metrics != nil {
		h.metrics.InboxCreate.Inc()
		h.metrics.LedgerCompletions.Inc()
	}
	if err == nil {
		h.publishActivity("Create", activity.Actor, entry)
	}
}

func (h *InboxHandlers) handleFollow(w http.ResponseWriter, ctx context.Context, activity activitypub.Activity) {
	if activity.Actor == "" {
		writeJSONError(w, "actor is required for Follow", http.StatusBadRequest)
		return
	}
	inbox, publicKeyPEM, err := h.resolver.Resolve(ctx, activity.Actor)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("failed to resolve actor %s: %v", activity.Actor, err), http.StatusBadGateway)
		return
	}
	if err := h.followers.Add(activity.Actor, inbox, publicKeyPEM); err != nil {
		writeJSONError(w, fmt.Sprintf("failed to record follower: %v", err), http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.InboxFollow.Inc()
	}

	accept := activitypub.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      fmt.Sprintf("%s/%s/activities/%s", h.boardURL, h.actorName, uuid.NewString()),
		Type:    "Accept",
		Actor:   fmt.Sprintf("%s/%s", h.boardURL, h.actorName),
		Object:  &activity,
	}
	if payload, err := json.Marshal(accept); err == nil {
		h.publisher.Enqueue(inbox, payload)
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "follow recorded"})
}

func (h *InboxHandlers) handleUndo(w http.ResponseWriter, activity activitypub.Activity) {
	if activity.Object == nil || activity.Object.Type != "Follow" {
		if h.metrics != nil {
			h.metrics.InboxIgnored.Inc()
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}
	if err := h.followers.Remove(activity.Actor); err != nil {
		writeJSONError(w, fmt.Sprintf("failed to remove follower: %v", err), http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.InboxUndo.Inc()
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "follow removed"})
}

// writeLedgerResult maps a ledger append outcome to the corresponding HTTP
// status (conflict, gone, storage error, or success), returning true iff a
// successful ack was written.
func (h *InboxHandlers) writeLedgerResult(w http.ResponseWriter, entry ledger.Entry, err error) bool {
	switch {
	case err == nil:
		json.NewEncoder(w).Encode(activitypub.InboxAck{LedgerEntry: entry.ID, EntryHash: entry.EntryHash})
		return true
	case errors.Is(err, ledger.ErrConflict):
		writeJSONError(w, "task actively claimed by another agent", http.StatusConflict)
	case errors.Is(err, ledger.ErrAlreadyDone):
		writeJSONError(w, "task already completed", http.StatusGone)
	default:
		h.logger.Printf("ledger append failed: %v", err)
		writeJSONError(w, "ledger storage error", http.StatusInternalServerError)
	}
	return false
}

func (h *InboxHandlers) publishActivity(kind, actor string, entry ledger.Entry) {
	activity := activitypub.Activity{
		Context:         "https://www.w3.org/ns/activitystreams",
		ID:              fmt.Sprintf("%s/%s/activities/%s", h.boardURL, h.actorName, uuid.NewString()),
		Type:            kind,
		Actor:           actor,
		Published:       ledger.FormatTimestamp(time.Now()),
		QuasiTaskID:     entry.Task,
		QuasiCommitHash: entry.CommitHash,
		QuasiPRUrl:      entry.PRURL,
	}
	payload, err := json.Marshal(activity)
	if err != nil {
		h.logger.Printf("failed to marshal publication activity: %v", err)
		return
	}
	for _, f := range h.followers.All() {
		h.publisher.Enqueue(f.Inbox, payload)
	}
}
