package signature

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"
)

func createValidKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func createValidVerifyInfo(t *testing.T, priv *rsa.PrivateKey, keyID, method, path, host string, body []byte, now time.Time) RequestInfo {
	t.Helper()
	signer := NewRSASigner(priv, keyID)
	hdrs, err := signer.Sign(method, path, host, body, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := http.Header{}
	h.Set("Date", hdrs.Date)
	h.Set("Digest", hdrs.Digest)
	h.Set("Host", host)
	return RequestInfo{
		Method:          method,
		RequestURI:      path,
		Host:            host,
		Headers:         h,
		Body:            body,
		SignatureHeader: hdrs.Signature,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv := createValidKeyPair(t)
	pub, err := PublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("public key PEM: %v", err)
	}

	cache := NewKeyCache()
	fetch := func(ctx context.Context, keyID string) (string, error) { return pub, nil }
	v := NewVerifier(cache, fetch, false)

	body := []byte(`{"type":"Announce"}`)
	info := createValidVerifyInfo(t, priv, "https://quasi.example/quasi-board#main-key", "POST", "/quasi-board/inbox", "quasi.example", body, time.Now())

	if err := v.Verify(context.Background(), info); err != nil {
		t.Fatalf("expected verification to succeed, got %v", err)
	}
}

func TestVerifyRejectsTamperedHeader(t *testing.T) {
	priv := createValidKeyPair(t)
	pub, _ := PublicKeyPEM(&priv.PublicKey)
	cache := NewKeyCache()
	fetch := func(ctx context.Context, keyID string) (string, error) { return pub, nil }
	v := NewVerifier(cache, fetch, false)

	body := []byte(`{"type":"Announce"}`)
	info := createValidVerifyInfo(t, priv, "https://quasi.example/quasi-board#main-key", "POST", "/quasi-board/inbox", "quasi.example", body, time.Now())

	info.Host = "attacker.example"
	if err := v.Verify(context.Background(), info); err == nil {
		t.Fatalf("expected verification to fail after tampering with host")
	}
}

func TestVerifyRejectsDigestMismatch(t *testing.T) {
	priv := createValidKeyPair(t)
	pub, _ := PublicKeyPEM(&priv.PublicKey)
	cache := NewKeyCache()
	fetch := func(ctx context.Context, keyID string) (string, error) { return pub, nil }
	v := NewVerifier(cache, fetch, false)

	body := []byte(`{"type":"Announce"}`)
	info := createValidVerifyInfo(t, priv, "k", "POST", "/quasi-board/inbox", "quasi.example", body, time.Now())
	info.Body = []byte(`{"type":"tampered"}`)

	if err := v.Verify(context.Background(), info); err != ErrDigestMismatch {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestVerifyRejectsStaleDate(t *testing.T) {
	priv := createValidKeyPair(t)
	pub, _ := PublicKeyPEM(&priv.PublicKey)
	cache := NewKeyCache()
	fetch := func(ctx context.Context, keyID string) (string, error) { return pub, nil }
	v := NewVerifier(cache, fetch, false)

	body := []byte(`{"type":"Announce"}`)
	info := createValidVerifyInfo(t, priv, "k", "POST", "/quasi-board/inbox", "quasi.example", body, time.Now().Add(-1*time.Hour))

	if err := v.Verify(context.Background(), info); err != ErrClockSkew {
		t.Fatalf("expected ErrClockSkew, got %v", err)
	}
}

func TestStubModeAlwaysRefuses(t *testing.T) {
	priv := createValidKeyPair(t)
	pub, _ := PublicKeyPEM(&priv.PublicKey)
	cache := NewKeyCache()
	fetch := func(ctx context.Context, keyID string) (string, error) { return pub, nil }
	v := NewVerifier(cache, fetch, true)

	body := []byte(`{"type":"Announce"}`)
	info := createValidVerifyInfo(t, priv, "k", "POST", "/quasi-board/inbox", "quasi.example", body, time.Now())

	if err := v.Verify(context.Background(), info); err != ErrStubSignature {
		t.Fatalf("expected ErrStubSignature in stub mode, got %v", err)
	}
}

func TestStubSignerNotReal(t *testing.T) {
	s := NewStubSigner("k")
	if s.Real() {
		t.Fatalf("expected stub signer to report Real() == false")
	}
	hdrs, err := s.Sign("POST", "/x", "host", []byte("body"), time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if hdrs.Signature == "" || hdrs.Date == "" || hdrs.Digest == "" {
		t.Fatalf("expected syntactically complete headers, got %+v", hdrs)
	}
}

func TestKeyCacheEvict(t *testing.T) {
	c := NewKeyCache()
	c.Put("k", "pem-data")
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected cache hit")
	}
	c.Evict("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected cache miss after eviction")
	}
}
