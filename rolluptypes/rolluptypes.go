// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package rolluptypes defines the rollup data model and its deterministic
// binary encodings: account and token indices, the two textual address forms,
// the signable operation variants and their fixed-width byte layouts, and the
// pubdata layouts shared with the base-chain ledger contract.
package rolluptypes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/intech-id/collexi-rollup/params"
)

var (
	// ErrFormat is returned for malformed wire bytes.
	ErrFormat = errors.New("malformed operation bytes")
	// ErrAddressFormat is returned for a textual address with a wrong prefix,
	// bad hex or a payload that is not exactly 20 bytes.
	ErrAddressFormat = errors.New("malformed address")
	// ErrValueOutOfRange is returned when an account id, token id or similar
	// index does not fit its wire width.
	ErrValueOutOfRange = errors.New("value out of range")
)

// AccountID is a rollup account index assigned by the operator, < 2^24.
// An account that has never been assigned an id is represented by a nil
// *AccountID, never by zero.
type AccountID uint32

// NewAccountID validates the bounds of an account index.
func NewAccountID(v int64) (AccountID, error) {
	if v < 0 || v > params.MaxAccountID {
		return 0, fmt.Errorf("%w: account id %d", ErrValueOutOfRange, v)
	}
	return AccountID(v), nil
}

func (id AccountID) Check() error {
	if id > params.MaxAccountID {
		return fmt.Errorf("%w: account id %d", ErrValueOutOfRange, id)
	}
	return nil
}

// Bytes returns the 3-byte big-endian wire form: the top byte of the 4-byte
// value is dropped.
func (id AccountID) Bytes() []byte {
	return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
}

func accountIDFromBytes(b []byte) AccountID {
	return AccountID(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
}

// TokenID is a token index, 0 (the base-chain native asset) through 4095.
type TokenID uint16

// NewTokenID validates the bounds of a token index.
func NewTokenID(v int64) (TokenID, error) {
	if v < 0 || v > params.MaxTokenID {
		return 0, fmt.Errorf("%w: token id %d", ErrValueOutOfRange, v)
	}
	return TokenID(v), nil
}

func (id TokenID) Check() error {
	if id > params.MaxTokenID {
		return fmt.Errorf("%w: token id %d", ErrValueOutOfRange, id)
	}
	return nil
}

func (id TokenID) Bytes() []byte {
	return []byte{byte(id >> 8), byte(id)}
}

// Nonce is an account transaction counter.
type Nonce uint32

func (n Nonce) Bytes() []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// TxHash identifies a submitted rollup operation. Its textual form carries a
// "sync-tx:" prefix to keep it distinct from base-chain transaction hashes.
type TxHash [32]byte

const txHashPrefix = "sync-tx:"

func (h TxHash) String() string {
	return txHashPrefix + hex.EncodeToString(h[:])
}

// TxHashFromString parses the "sync-tx:"-prefixed form.
func TxHashFromString(s string) (TxHash, error) {
	var h TxHash
	if !strings.HasPrefix(s, txHashPrefix) {
		return h, fmt.Errorf("%w: tx hash must start with %q", ErrFormat, txHashPrefix)
	}
	raw, err := hex.DecodeString(s[len(txHashPrefix):])
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("%w: tx hash must be %d bytes, got %d", ErrFormat, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h TxHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *TxHash) UnmarshalText(text []byte) error {
	parsed, err := TxHashFromString(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// PubKeyHash is the 20-byte fingerprint of a rollup signing key. It shares
// its width with a base-chain address but is a different role: the textual
// form carries a "sync:" prefix and the two are never coerced.
type PubKeyHash [20]byte

const pubKeyHashPrefix = "sync:"

func (pkh PubKeyHash) String() string {
	return pubKeyHashPrefix + hex.EncodeToString(pkh[:])
}

func (pkh PubKeyHash) IsZero() bool {
	return pkh == PubKeyHash{}
}

// PubKeyHashFromString parses the "sync:"-prefixed form.
func PubKeyHashFromString(s string) (PubKeyHash, error) {
	var pkh PubKeyHash
	if !strings.HasPrefix(s, pubKeyHashPrefix) {
		return pkh, fmt.Errorf("%w: pubkey hash must start with %q", ErrAddressFormat, pubKeyHashPrefix)
	}
	raw, err := hex.DecodeString(s[len(pubKeyHashPrefix):])
	if err != nil {
		return pkh, fmt.Errorf("%w: %v", ErrAddressFormat, err)
	}
	return PubKeyHashFromBytes(raw)
}

// PubKeyHashFromBytes validates the exact 20-byte length.
func PubKeyHashFromBytes(raw []byte) (PubKeyHash, error) {
	var pkh PubKeyHash
	if len(raw) != len(pkh) {
		return pkh, fmt.Errorf("%w: pubkey hash must be %d bytes, got %d", ErrAddressFormat, len(pkh), len(raw))
	}
	copy(pkh[:], raw)
	return pkh, nil
}

func (pkh PubKeyHash) MarshalText() ([]byte, error) {
	return []byte(pkh.String()), nil
}

func (pkh *PubKeyHash) UnmarshalText(text []byte) error {
	parsed, err := PubKeyHashFromString(string(text))
	if err != nil {
		return err
	}
	*pkh = parsed
	return nil
}

// SerializeAnyAddress extracts the 20-byte payload of either textual address
// form: a base-chain "0x..." address or a rollup "sync:..." pubkey hash.
// Both roles serialize identically on the wire.
func SerializeAnyAddress(s string) ([]byte, error) {
	var payload string
	switch {
	case strings.HasPrefix(s, "0x"):
		payload = s[2:]
	case strings.HasPrefix(s, pubKeyHashPrefix):
		payload = s[len(pubKeyHashPrefix):]
	default:
		return nil, fmt.Errorf("%w: unknown prefix in %q", ErrAddressFormat, s)
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressFormat, err)
	}
	if len(raw) != params.AddressBytes {
		return nil, fmt.Errorf("%w: address must be %d bytes, got %d", ErrAddressFormat, params.AddressBytes, len(raw))
	}
	return raw, nil
}

// Signature is a rollup-native signature over an operation's signed bytes,
// carrying the signer's public key for operator-side verification.
type Signature struct {
	PubKey    []byte `json:"pubKey"`
	Signature []byte `json:"signature"`
}

func (s *Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PubKey    string `json:"pubKey"`
		Signature string `json:"signature"`
	}{
		PubKey:    hex.EncodeToString(s.PubKey),
		Signature: hex.EncodeToString(s.Signature),
	})
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw struct {
		PubKey    string `json:"pubKey"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if s.PubKey, err = hex.DecodeString(raw.PubKey); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if s.Signature, err = hex.DecodeString(raw.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return nil
}

func lowerHexAddress(addr common.Address) string {
	return "0x" + hex.EncodeToString(addr[:])
}
