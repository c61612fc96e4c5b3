// Ledger Query API Handlers
// Provides HTTP endpoints for reading the append-only task ledger.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quasi-board/quasi-board/pkg/ledger"
)

// LedgerHandlers provides HTTP handlers for ledger queries.
type LedgerHandlers struct {
	store *ledger.Store
}

// NewLedgerHandlers creates new ledger query handlers.
func NewLedgerHandlers(store *ledger.Store) *LedgerHandlers {
	return &LedgerHandlers{store: store}
}

type ledgerResponse struct {
	Context        string         `json:"@context"`
	Chain          []ledger.Entry `json:"chain"`
	Entries        []ledger.Entry `json:"quasi:entries"`
	Valid          bool           `json:"quasi:valid"`
	SlotsRemaining int            `json:"quasi:slotsRemaining"`
}

// HandleLedger handles GET /<actorName>/ledger?offset=&limit=.
func (h *LedgerHandlers) HandleLedger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/activity+json")

	if h.store == nil {
		writeJSONError(w, "ledger store not available", http.StatusInternalServerError)
		return
	}

	offset := 0
	limit := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, "invalid offset parameter", http.StatusBadRequest)
			return
		}
		offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := h.store.Entries(offset, limit)
	verify := h.store.VerifyChain()
	resp := ledgerResponse{
		Context:        "https://www.w3.org/ns/activitystreams",
		Chain:          entries,
		Entries:        entries,
		Valid:          verify.Valid,
		SlotsRemaining: h.store.SlotsRemaining(),
	}
	json.NewEncoder(w).Encode(resp)
}

// HandleLedgerVerify handles GET /<actorName>/ledger/verify.
func (h *LedgerHandlers) HandleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.store == nil {
		writeJSONError(w, "ledger store not available", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(h.store.VerifyChain())
}
