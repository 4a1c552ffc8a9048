package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func DigestBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return "sha256:" + DigestHex(data)
}

// SignEd25519 signs a SHA-256 digest.
func SignEd25519(privateKey ed25519.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, ErrInvalidDigestLen
	}
	return ed25519.Sign(privateKey, digest), nil
}

func VerifyEd25519(publicKey ed25519.PublicKey, digest, sig []byte) (bool, error) {
	if len(digest) != sha256.Size {
		return false, ErrInvalidDigestLen
	}
	return ed25519.Verify(publicKey, digest, sig), nil
}

// Signed is a canonical document with its digest and signature.
type Signed struct {
	Body      []byte
	DigestHex string
	KeyID     string
	Sig       []byte
}

// ID is the content address of the signed body.
func (s Signed) ID() string {
	return "sha256:" + s.DigestHex
}

// Signer signs SHA-256 digests. KeyPair is the in-process implementation.
type Signer interface {
	KeyID() string
	SignEd25519(digest []byte) ([]byte, error)
}

// SignDocument canonicalizes v and signs the digest of the canonical bytes.
func SignDocument(signer Signer, v any) (Signed, error) {
	body, err := Canonicalize(v)
	if err != nil {
		return Signed{}, err
	}
	digest := DigestBytes(body)
	sig, err := signer.SignEd25519(digest)
	if err != nil {
		return Signed{}, err
	}
	return Signed{Body: body, DigestHex: hex.EncodeToString(digest), KeyID: signer.KeyID(), Sig: sig}, nil
}

// VerifyDocument checks that body hashes to digestHex and that sig is a valid
// signature of that digest.
func VerifyDocument(pub ed25519.PublicKey, body []byte, digestHex string, sig []byte) error {
	digest := DigestBytes(body)
	if !strings.EqualFold(hex.EncodeToString(digest), strings.TrimPrefix(digestHex, "sha256:")) {
		return ErrDigestMismatch
	}
	ok, err := VerifyEd25519(pub, digest, sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}
