// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// EthSigner signs human-readable personal messages with a base-chain key.
// Implementations may be in-process keys or external signing devices; the
// text is never a binary payload so a device can display it.
type EthSigner interface {
	Address() common.Address
	// SignText returns a 65-byte [R||S||V] signature over the EIP-191
	// personal-message hash of text, with V in {27, 28}.
	SignText(ctx context.Context, text []byte) ([]byte, error)
}

// PrivateKeyEthSigner is the in-process EthSigner.
type PrivateKeyEthSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewPrivateKeyEthSigner(key *ecdsa.PrivateKey) *PrivateKeyEthSigner {
	return &PrivateKeyEthSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewEthSignerFromHex parses a hex private key, with or without 0x prefix.
func NewEthSignerFromHex(hexKey string) (*PrivateKeyEthSigner, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewPrivateKeyEthSigner(key), nil
}

func (s *PrivateKeyEthSigner) Address() common.Address {
	return s.address
}

func (s *PrivateKeyEthSigner) SignText(_ context.Context, text []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(text), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "personal sign")
	}
	sig[64] += 27
	return sig, nil
}

// TransactOpts builds base-chain transact opts bound to this key. Nonce and
// value are left for the caller to fill per transaction.
func (s *PrivateKeyEthSigner) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "keyed transactor")
	}
	return opts, nil
}

// RecoverTextSigner recovers the address that produced a SignText signature
// over text.
func RecoverTextSigner(signature, text []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(text), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover personal signature")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
