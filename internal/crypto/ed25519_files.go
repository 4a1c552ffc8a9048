package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeyPair is a signing key together with its published identity.
type KeyPair struct {
	ID      string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

func NewKeyPair(priv ed25519.PrivateKey) KeyPair {
	pub := priv.Public().(ed25519.PublicKey)
	return KeyPair{ID: KeyID(pub), Private: priv, Public: pub}
}

func (k KeyPair) KeyID() string { return k.ID }

func (k KeyPair) SignEd25519(digest []byte) ([]byte, error) {
	return SignEd25519(k.Private, digest)
}

// LoadKeyPair reads an Ed25519 signing key from path. The file may hold a
// 64-byte private key or a 32-byte seed, either raw or encoded as hex or
// base64 (optionally prefixed "hex:" or "base64:").
func LoadKeyPair(path string) (KeyPair, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, err
	}
	data, err := decodeBytes(raw)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%s: %w", path, err)
	}

	switch len(data) {
	case ed25519.PrivateKeySize:
		return NewKeyPair(ed25519.PrivateKey(data)), nil
	case ed25519.SeedSize:
		return NewKeyPair(ed25519.NewKeyFromSeed(data)), nil
	default:
		return KeyPair{}, fmt.Errorf("%s: unsupported private key length: %d", path, len(data))
	}
}

func decodeBytes(raw []byte) ([]byte, error) {
	trim := strings.TrimSpace(string(raw))
	if trim == "" {
		return nil, fmt.Errorf("empty key file")
	}
	if strings.HasPrefix(trim, "base64:") {
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(trim, "base64:"))
	}
	if strings.HasPrefix(trim, "hex:") {
		return hex.DecodeString(strings.TrimPrefix(trim, "hex:"))
	}

	// binary key files
	if len(raw) == ed25519.PrivateKeySize || len(raw) == ed25519.SeedSize {
		return raw, nil
	}

	if out, err := hex.DecodeString(trim); err == nil {
		return out, nil
	}
	if out, err := base64.StdEncoding.DecodeString(trim); err == nil {
		return out, nil
	}
	if out, err := base64.RawURLEncoding.DecodeString(trim); err == nil {
		return out, nil
	}
	return nil, fmt.Errorf("unrecognized key encoding")
}
