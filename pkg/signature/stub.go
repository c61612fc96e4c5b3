package signature

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// StubSigner is the degraded-capability fallback used when no RSA key
// material is available. It emits syntactically valid but cryptographically
// meaningless signatures, flagged by Real() == false. Spec.md §4.3 requires
// that stub signatures never be accepted as verified — enforced on the
// Verifier side, not here.
type StubSigner struct {
	keyID string
}

// NewStubSigner constructs a stub signer for keyID.
func NewStubSigner(keyID string) *StubSigner {
	return &StubSigner{keyID: keyID}
}

func (s *StubSigner) Real() bool    { return false }
func (s *StubSigner) KeyID() string { return s.keyID }

// Sign produces headers with the correct shape (a real Digest and Date) but
// a random, unverifiable signature value.
func (s *StubSigner) Sign(method, path, host string, body []byte, now time.Time) (Headers, error) {
	date := now.UTC().Format(DateLayout)
	digest := Digest(body)

	junk := make([]byte, 256)
	if _, err := rand.Read(junk); err != nil {
		return Headers{}, err
	}

	return Headers{
		Signature: SignatureHeaderValue(s.keyID, base64.StdEncoding.EncodeToString(junk)),
		Date:      date,
		Digest:    digest,
	}, nil
}
