// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package signer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/intech-id/collexi-rollup/rolluptypes"
)

// ChallengeMessage is the fixed text whose base-chain signature seeds the
// rollup identity. Changing it orphans every derived key.
const ChallengeMessage = "Access colexi account.\n\nOnly sign this message for a trusted client!"

// IdentityFromEthSigner derives the rollup identity from a base-chain
// signature over the fixed challenge, binding the two identities together.
func IdentityFromEthSigner(ctx context.Context, s EthSigner) (*Identity, error) {
	sig, err := s.SignText(ctx, []byte(ChallengeMessage))
	if err != nil {
		return nil, err
	}
	return NewIdentityFromSeed(sig)
}

// SignatureMode classifies how an account authenticates its base-chain
// signatures.
type SignatureMode int

const (
	// ModeUnknown means the account has not been probed yet.
	ModeUnknown SignatureMode = iota
	// ModeStandard means a raw personal signature recovers to the account
	// address.
	ModeStandard
	// ModeContractBased means recovery does not match: the account is a
	// contract wallet whose own on-chain validation checks signatures at
	// execution time. Never verified locally.
	ModeContractBased
)

// DualSigner produces the two signatures each rollup operation needs: the
// rollup-native one over the canonical payload and the base-chain personal
// one over a human-readable summary. The account's signature mode is probed
// once per session and cached.
type DualSigner struct {
	identity *Identity
	eth      EthSigner

	mu   sync.Mutex
	mode SignatureMode
}

func NewDualSigner(identity *Identity, eth EthSigner) *DualSigner {
	return &DualSigner{identity: identity, eth: eth}
}

func (d *DualSigner) Identity() *Identity {
	return d.identity
}

func (d *DualSigner) EthAddress() common.Address {
	return d.eth.Address()
}

// Mode returns the cached classification.
func (d *DualSigner) Mode() SignatureMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SignPayload signs the canonical operation bytes with the rollup key.
func (d *DualSigner) SignPayload(payload []byte) *rolluptypes.Signature {
	return d.identity.Sign(payload)
}

// EthSign signs the operation summary with the base-chain key and returns
// the signature to attach, or nil for a contract-based account. The first
// call classifies the account by recovering the signer address; later calls
// reuse the classification without probing again.
func (d *DualSigner) EthSign(ctx context.Context, summary string) ([]byte, error) {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	if mode == ModeContractBased {
		return nil, nil
	}

	sig, err := d.eth.SignText(ctx, []byte(summary))
	if err != nil {
		return nil, err
	}
	if mode == ModeStandard {
		return sig, nil
	}

	recovered, err := RecoverTextSigner(sig, []byte(summary))
	if err != nil {
		return nil, err
	}
	if recovered == d.eth.Address() {
		mode = ModeStandard
	} else {
		// Contract wallets sign through their owner key; on-chain
		// validation is the account's own business.
		mode = ModeContractBased
		sig = nil
		log.Debug("account classified as contract-based signer",
			"account", d.eth.Address(), "recovered", recovered)
	}
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
	return sig, nil
}
