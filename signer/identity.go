// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package signer holds the rollup signing identity and the dual-signature
// machinery binding it to a base-chain account.
package signer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"golang.org/x/crypto/blake2b"

	"github.com/intech-id/collexi-rollup/rolluptypes"
)

// ErrInvalidKey is returned for malformed signing material.
var ErrInvalidKey = errors.New("invalid signing key material")

// MinSeedBytes is the minimum entropy accepted by NewIdentityFromSeed.
const MinSeedBytes = 32

// seedDomain separates the key derivation from any other blake2b use of the
// same seed bytes.
var seedDomain = []byte("collexi-key-v1")

// Identity is a rollup signing identity: a deterministic signature scheme
// keypair plus its public-key-hash fingerprint.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewIdentityFromSeed derives an identity deterministically from seed bytes,
// typically a base-chain signature over the account challenge message.
func NewIdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) < MinSeedBytes {
		return nil, fmt.Errorf("%w: seed must be at least %d bytes, got %d", ErrInvalidKey, MinSeedBytes, len(seed))
	}
	kdf, err := blake2b.New256(seedDomain)
	if err != nil {
		return nil, err
	}
	kdf.Write(seed)
	return NewIdentityFromKey(kdf.Sum(nil))
}

// NewIdentityFromKey wraps a raw 32-byte private scalar.
func NewIdentityFromKey(raw []byte) (*Identity, error) {
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(raw))
	}
	priv := ed25519.NewKeyFromSeed(raw)
	return &Identity{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the raw 32-byte public key.
func (id *Identity) PublicKey() []byte {
	out := make([]byte, len(id.pub))
	copy(out, id.pub)
	return out
}

// PublicKeyHash is the 20-byte fingerprint registered on-chain for this
// identity: the low 20 bytes of keccak256 over the public key.
func (id *Identity) PublicKeyHash() rolluptypes.PubKeyHash {
	var pkh rolluptypes.PubKeyHash
	copy(pkh[:], crypto.Keccak256(id.pub)[12:])
	return pkh
}

// Sign signs exactly the payload bytes produced by the operation codec,
// never a caller-chosen digest. Signatures are deterministic: identical
// payload and key yield identical bytes.
func (id *Identity) Sign(payload []byte) *rolluptypes.Signature {
	return &rolluptypes.Signature{
		PubKey:    id.PublicKey(),
		Signature: ed25519.Sign(id.priv, payload),
	}
}

// Verify checks a signature produced by Sign.
func Verify(sig *rolluptypes.Signature, payload []byte) bool {
	if sig == nil || len(sig.PubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(sig.PubKey), payload, sig.Signature)
}
