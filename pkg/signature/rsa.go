package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// KeySizeBits is the RSA key size used for the actor keypair.
const KeySizeBits = 2048

// RSASigner signs outbound requests with RSA-SHA256 PKCS#1 v1.5.
type RSASigner struct {
	priv  *rsa.PrivateKey
	keyID string
}

// NewRSASigner wraps an existing RSA private key for signing under keyID.
func NewRSASigner(priv *rsa.PrivateKey, keyID string) *RSASigner {
	return &RSASigner{priv: priv, keyID: keyID}
}

func (s *RSASigner) Real() bool    { return true }
func (s *RSASigner) KeyID() string { return s.keyID }

// Sign implements Signer.
func (s *RSASigner) Sign(method, path, host string, body []byte, now time.Time) (Headers, error) {
	date := now.UTC().Format(DateLayout)
	digest := Digest(body)
	input := signatureString(SigningInput{Method: method, Path: path, Host: host, Date: date, Digest: digest})

	hashed := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, crypto.SHA256, hashed[:])
	if err != nil {
		return Headers{}, fmt.Errorf("signature: sign: %w", err)
	}

	return Headers{
		Signature: SignatureHeaderValue(s.keyID, base64.StdEncoding.EncodeToString(sig)),
		Date:      date,
		Digest:    digest,
	}, nil
}

// PublicKey returns the RSA public key paired with this signer.
func (s *RSASigner) PublicKey() *rsa.PublicKey { return &s.priv.PublicKey }

// GenerateOrLoadRSAKeyPair loads the actor's RSA keypair from
// dataDir/private_key.pem and dataDir/public_key.pem, generating and
// persisting a fresh 2048-bit keypair if absent (MkdirAll 0700,
// WriteFile 0600).
func GenerateOrLoadRSAKeyPair(dataDir string) (*rsa.PrivateKey, error) {
	privPath := filepath.Join(dataDir, "private_key.pem")
	pubPath := filepath.Join(dataDir, "public_key.pem")

	if data, err := os.ReadFile(privPath); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("signature: invalid PEM in %s", privPath)
		}
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signature: parse private key: %w", err)
		}
		return priv, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("signature: read private key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("signature: create data dir: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, KeySizeBits)
	if err != nil {
		return nil, fmt.Errorf("signature: generate key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("signature: write private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signature: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("signature: write public key: %w", err)
	}

	return priv, nil
}

// PublicKeyPEM renders an RSA public key as a PKIX PEM block, for embedding
// in the actor document.
func PublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM parses a PKIX PEM-encoded RSA public key, as fetched
// from a remote actor's publicKeyPem field.
func ParsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("signature: invalid public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signature: parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signature: public key is not RSA")
	}
	return pub, nil
}
