package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quasi-board/quasi-board/pkg/config"
	"github.com/quasi-board/quasi-board/pkg/ledger"
	"github.com/quasi-board/quasi-board/pkg/server"
	"github.com/quasi-board/quasi-board/pkg/signature"
	"github.com/quasi-board/quasi-board/pkg/tasks"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting quasi-board federation server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// C1 (canon) has no runtime component; C2 (ledger) depends on it internally.
	log.Println("[Ledger] opening store...")
	store, err := ledger.NewStore(cfg.DataDir, cfg.ClaimTTL)
	if err != nil {
		log.Fatalf("failed to open ledger store: %v", err)
	}
	defer store.Close()

	// C3: load or generate the actor's RSA keypair. A generation failure
	// degrades to a stub signer/verifier rather than aborting startup.
	actorID := cfg.BoardURL + "/" + cfg.ActorName
	keyCache := signature.NewKeyCache()

	var signer signature.Signer
	var verifier *signature.Verifier
	var pubKey *rsa.PublicKey

	priv, keyErr := signature.GenerateOrLoadRSAKeyPair(cfg.DataDir)
	if keyErr != nil {
		log.Printf("[Signature] RSA key unavailable, falling back to stub signer: %v", keyErr)
		signer = signature.NewStubSigner(actorID + "#main-key")
		verifier = signature.NewVerifier(keyCache, signature.NewHTTPKeyFetcher(nil), true)
	} else {
		signer = signature.NewRSASigner(priv, actorID+"#main-key")
		fetcher := signature.NewHTTPKeyFetcher(&http.Client{Timeout: cfg.DeliveryTimeout})
		verifier = signature.NewVerifier(keyCache, fetcher, false)
		pubKey = &priv.PublicKey
	}

	identityPub, _, idErr := signature.GenerateOrLoadEd25519Key(cfg.DataDir)
	if idErr != nil {
		log.Printf("[Signature] identity key unavailable, actor document will omit assertionMethod: %v", idErr)
	}

	// C4: task projector, seeded from GitHub issues falling back to the
	// genesis YAML list, refreshed on a ticker.
	log.Println("[Tasks] loading task source...")
	fallback, err := tasks.LoadStaticSourceFromYAML(filepath.Join(cfg.DataDir, "quasi-board.yaml"))
	if err != nil {
		log.Fatalf("failed to load genesis task list: %v", err)
	}
	var primary tasks.Source = fallback
	if cfg.TaskSourceURL != "" {
		primary = tasks.NewGitHubIssueSource(cfg.TaskSourceURL, cfg.GitHubToken, &http.Client{Timeout: cfg.DeliveryTimeout})
	}
	cache := tasks.NewCache(primary, fallback)
	bgCtx, bgCancel := context.WithCancel(context.Background())
	if err := cache.Refresh(bgCtx); err != nil {
		log.Fatalf("failed to populate task cache at startup: %v", err)
	}
	cache.Start(bgCtx, cfg.RefreshInterval)
	projector := tasks.NewProjector(cache, store, cfg.BoardURL)

	// C5: federation server.
	followers, err := server.NewFollowerStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open follower store: %v", err)
	}

	webhookSecret, err := loadOrGenerateWebhookSecret(cfg.WebhookSecretPath)
	if err != nil {
		log.Fatalf("failed to load webhook secret: %v", err)
	}

	metrics := server.NewMetrics()
	delivery := server.NewDelivery(&http.Client{Timeout: cfg.DeliveryTimeout}, signer, cfg.BoardURL, metrics)
	resolver := server.NewHTTPActorResolver(&http.Client{Timeout: cfg.DeliveryTimeout})

	srv := server.New(server.Deps{
		Store:       store,
		Projector:   projector,
		Followers:   followers,
		Delivery:    delivery,
		Verifier:    verifier,
		Resolver:    resolver,
		PublicKey:   pubKey,
		IdentityKey: identityPub,
		BoardURL:    cfg.BoardURL,
		ActorName:  cfg.ActorName,
		WebhookKey: webhookSecret,
		Metrics:    metrics,
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv,
	}

	go func() {
		log.Printf("listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	bgCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	log.Println("stopped")
}

// loadOrGenerateWebhookSecret loads the HMAC webhook secret from path,
// stored as 32-byte hex text, generating and persisting a fresh value if
// absent (MkdirAll 0700, WriteFile 0600).
func loadOrGenerateWebhookSecret(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return hex.DecodeString(string(bytes.TrimSpace(data)))
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}
