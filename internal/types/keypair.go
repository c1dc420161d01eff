package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Keypair is an Ed25519 signing key together with its public key.
type Keypair struct {
	private ed25519.PrivateKey
	Pubkey  Pubkey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	kp := &Keypair{private: priv}
	copy(kp.Pubkey[:], pub)
	return kp, nil
}

// KeypairFromSeed derives a keypair deterministically from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &Keypair{private: priv}
	copy(kp.Pubkey[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Sign signs message with the private key.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}
