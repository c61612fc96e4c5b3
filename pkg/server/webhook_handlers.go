package server

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/quasi-board/quasi-board/pkg/ledger"
)

// WebhookHandlers handles the GitHub pull_request webhook completion path.
type WebhookHandlers struct {
	store   *ledger.Store
	secret  []byte
	logger  *log.Logger
	metrics *Metrics
}

// NewWebhookHandlers constructs WebhookHandlers. secret is the HMAC-SHA256
// webhook secret shared with GitHub.
func NewWebhookHandlers(store *ledger.Store, secret []byte, metrics *Metrics) *WebhookHandlers {
	return &WebhookHandlers{
		store:   store,
		secret:  secret,
		logger:  log.New(log.Writer(), "[Webhook] ", log.LstdFlags),
		metrics: metrics,
	}
}

type githubPullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Merged        bool   `json:"merged"`
		MergeCommitSHA string `json:"merge_commit_sha"`
		HTMLURL       string `json:"html_url"`
		Body          string `json:"body"`
	} `json:"pull_request"`
}

// HandleGitHubWebhook handles POST /<actorName>/github-webhook.
func (h *WebhookHandlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("X-Hub-Signature-256")
	if sigHeader == "" || !h.verifySignature(sigHeader, body) {
		writeJSONError(w, "invalid webhook signature", http.StatusUnauthorized)
		return
	}

	var event githubPullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if event.Action != "closed" || !event.PullRequest.Merged {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}

	agent, taskID, verified := parseCompletionFooter(event.PullRequest.Body)
	if !verified {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored, footer absent"})
		return
	}

	entry, err := h.store.AppendCompletion(agent, taskID, event.PullRequest.MergeCommitSHA, event.PullRequest.HTMLURL, time.Now())
	if err != nil {
		h.logger.Printf("append completion failed for %s: %v", taskID, err)
		writeJSONError(w, fmt.Sprintf("failed to record completion: %v", err), http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.LedgerCompletions.Inc()
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ledger_entry": entry.ID,
		"entry_hash":   entry.EntryHash,
	})
}

func (h *WebhookHandlers) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(given, expected)
}

// parseCompletionFooter extracts the three required footer lines from a
// merged PR body:
//
//	Contribution-Agent: <agent>
//	Task: <task-id>
//	Verification: ci-pass
func parseCompletionFooter(body string) (agent, taskID string, verified bool) {
	scanner := bufio.NewScanner(bytes.NewReader([]byte(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Contribution-Agent:"):
			agent = strings.TrimSpace(strings.TrimPrefix(line, "Contribution-Agent:"))
		case strings.HasPrefix(line, "Task:"):
			taskID = strings.TrimSpace(strings.TrimPrefix(line, "Task:"))
		case strings.HasPrefix(line, "Verification:"):
			if strings.TrimSpace(strings.TrimPrefix(line, "Verification:")) == "ci-pass" {
				verified = true
			}
		}
	}
	if agent == "" || taskID == "" {
		verified = false
	}
	return agent, taskID, verified
}
