package server

import (
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/quasi-board/quasi-board/pkg/ledger"
	"github.com/quasi-board/quasi-board/pkg/signature"
	"github.com/quasi-board/quasi-board/pkg/tasks"
)

// Server wires every federation handler onto an http.ServeMux.
type Server struct {
	mux     *http.ServeMux
	logger  *log.Logger
	Metrics *Metrics
}

// Deps bundles every dependency Server needs to construct its handlers.
type Deps struct {
	Store      *ledger.Store
	Projector  *tasks.Projector
	Followers  *FollowerStore
	Delivery   *Delivery
	Verifier    *signature.Verifier
	Resolver    ActorResolver
	PublicKey   *rsa.PublicKey
	IdentityKey ed25519.PublicKey
	BoardURL   string
	ActorName  string
	WebhookKey []byte
	Metrics    *Metrics
}

// New constructs a Server with every route registered. If d.Metrics is nil,
// a fresh registry is created.
func New(d Deps) *Server {
	metrics := d.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	resolver := d.Resolver
	if resolver == nil {
		resolver = NewHTTPActorResolver(&http.Client{Timeout: 10 * time.Second})
	}
	s := &Server{
		mux:     http.NewServeMux(),
		logger:  log.New(log.Writer(), "[Server] ", log.LstdFlags),
		Metrics: metrics,
	}

	actorPath := fmt.Sprintf("/%s", d.ActorName)
	webfinger := NewWebFingerHandlers(d.BoardURL, d.ActorName)
	actor := NewActorHandlers(d.BoardURL, d.ActorName, d.PublicKey, d.IdentityKey)
	outbox := NewOutboxHandlers(d.Projector, d.BoardURL, d.ActorName)
	ledgerH := NewLedgerHandlers(d.Store)
	inbox := NewInboxHandlers(d.Store, d.Verifier, d.Followers, d.Delivery, resolver, d.BoardURL, d.ActorName, metrics)
	webhook := NewWebhookHandlers(d.Store, d.WebhookKey, metrics)

	s.mux.HandleFunc("/.well-known/webfinger", webfinger.HandleWebFinger)
	s.mux.HandleFunc(actorPath, actor.HandleActor)
	s.mux.HandleFunc(actorPath+"/outbox", outbox.HandleOutbox)
	s.mux.HandleFunc(actorPath+"/inbox", inbox.HandleInbox)
	s.mux.HandleFunc(actorPath+"/ledger", ledgerH.HandleLedger)
	s.mux.HandleFunc(actorPath+"/ledger/verify", ledgerH.HandleLedgerVerify)
	s.mux.HandleFunc(actorPath+"/github-webhook", webhook.HandleGitHubWebhook)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/health", s.handleHealth(d))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		verify := d.Store.VerifyChain()
		status := http.StatusOK
		if !verify.Valid {
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"ledger_valid":%t,"followers":%d}`, verify.Valid, d.Followers.Count())
	}
}
