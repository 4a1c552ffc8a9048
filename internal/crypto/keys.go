package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
)

// KeyPairFromSeed derives an Ed25519 keypair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, ErrInvalidSeedSize
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return privateKey, publicKey, nil
}

// GenerateKeyPair returns a fresh random keypair.
func GenerateKeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// KeyID names a public key by the first 16 hex characters of its digest.
func KeyID(pub ed25519.PublicKey) string {
	return "ed25519:" + DigestHex(pub)[:16]
}
