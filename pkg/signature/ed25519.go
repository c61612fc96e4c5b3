package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// GenerateOrLoadEd25519Key loads the actor's identity key from
// dataDir/identity_key.pem, generating and persisting a fresh Ed25519
// keypair if absent. Unlike the RSA key, this key signs nothing on the
// wire — it exists so the actor document can publish a stable,
// algorithm-agnostic identity proof (an assertionMethod) separate from
// the HTTP-signature key, which a verifier can rotate independently.
func GenerateOrLoadEd25519Key(dataDir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	path := filepath.Join(dataDir, "identity_key.pem")

	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, nil, fmt.Errorf("signature: identity key: invalid PEM in %s", path)
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("signature: identity key: parse: %w", err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("signature: identity key: %s does not hold an Ed25519 key", path)
		}
		return priv.Public().(ed25519.PublicKey), priv, nil
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("signature: identity key: read %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: identity key: generate: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: identity key: marshal: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("signature: identity key: mkdir: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, nil, fmt.Errorf("signature: identity key: write %s: %w", path, err)
	}
	return pub, priv, nil
}

// ed25519Multicodec is the varint prefix (0xed, 0x01) identifying an
// Ed25519 public key in the multicodec registry, as consumed by
// publicKeyMultibase / did:key identifiers.
var ed25519Multicodec = []byte{0xed, 0x01}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// EncodeMultibaseEd25519 renders pub as a base58btc multibase string
// ("z"-prefixed) of the multicodec-tagged key bytes, the form used by
// publicKeyMultibase in an actor's assertionMethod.
func EncodeMultibaseEd25519(pub ed25519.PublicKey) string {
	return "z" + base58Encode(append(append([]byte{}, ed25519Multicodec...), pub...))
}

// base58Encode implements base58btc (Bitcoin-style) encoding. No suitable
// third-party base58/multibase library is available, so this is a small
// hand-rolled big.Int-based encoder used only for this one identifier.
func base58Encode(input []byte) string {
	x := new(big.Int).SetBytes(input)
	base := big.NewInt(58)
	zero := big.NewInt(0)
	mod := new(big.Int)

	var out []byte
	for x.Cmp(zero) > 0 {
		x.DivMod(x, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range input {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
