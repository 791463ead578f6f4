// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package rolluptypes

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/intech-id/collexi-rollup/params"
	"github.com/intech-id/collexi-rollup/util/packing"
)

// Operation is the closed union of signable rollup operations. Every variant
// serializes to a fixed-width payload that is signed as-is, never hashed
// first, so the signed bytes stay auditable.
type Operation interface {
	TxType() uint8
	// SignedBytes produces the canonical payload to sign and submit. It
	// fails before any network interaction if a field is out of range or an
	// amount is not packable.
	SignedBytes() ([]byte, error)
	isOperation()
}

// Byte lengths of the signed payloads.
const (
	TransferSignedBytesLen = params.TxTypeBytes + params.AccountIDBytes + 2*params.AddressBytes +
		params.TokenIDBytes + params.PackedAmountBytes + params.PackedFeeBytes + params.NonceBytes
	WithdrawSignedBytesLen = params.TxTypeBytes + params.AccountIDBytes + 2*params.AddressBytes +
		params.TokenIDBytes + params.BalanceBytes + params.PackedFeeBytes + params.NonceBytes
	CloseSignedBytesLen = params.TxTypeBytes + params.AddressBytes + params.NonceBytes
	ChangePubKeySignedBytesLen = params.TxTypeBytes + params.AccountIDBytes + params.AddressBytes +
		params.PubKeyHashBytes + params.NonceBytes
)

// Transfer moves a packed amount between two rollup accounts.
type Transfer struct {
	AccountID AccountID
	From      common.Address
	To        common.Address
	TokenID   TokenID
	Amount    *big.Int
	Fee       *big.Int
	Nonce     Nonce
	Signature *Signature
}

func (t *Transfer) TxType() uint8 { return params.TxTypeTransfer }
func (t *Transfer) isOperation() {}

func (t *Transfer) SignedBytes() ([]byte, error) {
	if err := t.AccountID.Check(); err != nil {
		return nil, err
	}
	if err := t.TokenID.Check(); err != nil {
		return nil, err
	}
	amount, err := packing.PackAmount(t.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := packing.PackFee(t.Fee)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, TransferSignedBytesLen)
	out = append(out, params.TxTypeTransfer)
	out = append(out, t.AccountID.Bytes()...)
	out = append(out, t.From.Bytes()...)
	out = append(out, t.To.Bytes()...)
	out = append(out, t.TokenID.Bytes()...)
	out = append(out, amount...)
	out = append(out, fee...)
	out = append(out, t.Nonce.Bytes()...)
	return out, nil
}

// EthereumSignMessage is the human-readable summary signed by the account's
// base-chain key. It is kept legible for external signing devices.
func (t *Transfer) EthereumSignMessage() string {
	return fmt.Sprintf("Transfer %d\nTo: %s\nNonce: %d\nAccount Id: %d",
		t.TokenID, lowerHexAddress(t.To), t.Nonce, t.AccountID)
}

// DeserializeTransfer inverts Transfer.SignedBytes. The signature is not part
// of the wire form.
func DeserializeTransfer(data []byte) (*Transfer, error) {
	if len(data) != TransferSignedBytesLen {
		return nil, fmt.Errorf("%w: transfer must be %d bytes, got %d", ErrFormat, TransferSignedBytesLen, len(data))
	}
	if data[0] != params.TxTypeTransfer {
		return nil, fmt.Errorf("%w: wrong transfer tag 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	t := &Transfer{}
	t.AccountID = accountIDFromBytes(r.take(params.AccountIDBytes))
	t.From = common.BytesToAddress(r.take(params.AddressBytes))
	t.To = common.BytesToAddress(r.take(params.AddressBytes))
	t.TokenID = tokenIDFromBytes(r.take(params.TokenIDBytes))
	amount, err := packing.UnpackAmount(r.take(params.PackedAmountBytes))
	if err != nil {
		return nil, err
	}
	t.Amount = amount
	fee, err := packing.UnpackFee(r.take(params.PackedFeeBytes))
	if err != nil {
		return nil, err
	}
	t.Fee = fee
	t.Nonce = nonceFromBytes(r.take(params.NonceBytes))
	return t, nil
}

func (t *Transfer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string     `json:"type"`
		AccountID AccountID  `json:"accountId"`
		From      string     `json:"from"`
		To        string     `json:"to"`
		Token     TokenID    `json:"token"`
		Amount    string     `json:"amount"`
		Fee       string     `json:"fee"`
		Nonce     Nonce      `json:"nonce"`
		Signature *Signature `json:"signature"`
	}{
		Type:      "Transfer",
		AccountID: t.AccountID,
		From:      lowerHexAddress(t.From),
		To:        lowerHexAddress(t.To),
		Token:     t.TokenID,
		Amount:    t.Amount.String(),
		Fee:       t.Fee.String(),
		Nonce:     t.Nonce,
		Signature: t.Signature,
	})
}

// Withdraw moves funds from a rollup account to a base-chain address. The
// amount travels full-width so the ledger contract can release it exactly.
type Withdraw struct {
	AccountID AccountID
	From      common.Address
	To        common.Address
	TokenID   TokenID
	Amount    *big.Int
	Fee       *big.Int
	Nonce     Nonce
	Signature *Signature
}

func (w *Withdraw) TxType() uint8 { return params.TxTypeWithdraw }
func (w *Withdraw) isOperation() {}

func (w *Withdraw) SignedBytes() ([]byte, error) {
	if err := w.AccountID.Check(); err != nil {
		return nil, err
	}
	if err := w.TokenID.Check(); err != nil {
		return nil, err
	}
	amount, err := fullWidthAmount(w.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := packing.PackFee(w.Fee)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, WithdrawSignedBytesLen)
	out = append(out, params.TxTypeWithdraw)
	out = append(out, w.AccountID.Bytes()...)
	out = append(out, w.From.Bytes()...)
	out = append(out, w.To.Bytes()...)
	out = append(out, w.TokenID.Bytes()...)
	out = append(out, amount...)
	out = append(out, fee...)
	out = append(out, w.Nonce.Bytes()...)
	return out, nil
}

func (w *Withdraw) EthereumSignMessage() string {
	return fmt.Sprintf("Withdraw %d\nTo: %s\nNonce: %d\nAccount Id: %d",
		w.TokenID, lowerHexAddress(w.To), w.Nonce, w.AccountID)
}

// DeserializeWithdraw inverts Withdraw.SignedBytes.
func DeserializeWithdraw(data []byte) (*Withdraw, error) {
	if len(data) != WithdrawSignedBytesLen {
		return nil, fmt.Errorf("%w: withdraw must be %d bytes, got %d", ErrFormat, WithdrawSignedBytesLen, len(data))
	}
	if data[0] != params.TxTypeWithdraw {
		return nil, fmt.Errorf("%w: wrong withdraw tag 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	w := &Withdraw{}
	w.AccountID = accountIDFromBytes(r.take(params.AccountIDBytes))
	w.From = common.BytesToAddress(r.take(params.AddressBytes))
	w.To = common.BytesToAddress(r.take(params.AddressBytes))
	w.TokenID = tokenIDFromBytes(r.take(params.TokenIDBytes))
	w.Amount = new(big.Int).SetBytes(r.take(params.BalanceBytes))
	fee, err := packing.UnpackFee(r.take(params.PackedFeeBytes))
	if err != nil {
		return nil, err
	}
	w.Fee = fee
	w.Nonce = nonceFromBytes(r.take(params.NonceBytes))
	return w, nil
}

func (w *Withdraw) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string     `json:"type"`
		AccountID AccountID  `json:"accountId"`
		From      string     `json:"from"`
		To        string     `json:"to"`
		Token     TokenID    `json:"token"`
		Amount    string     `json:"amount"`
		Fee       string     `json:"fee"`
		Nonce     Nonce      `json:"nonce"`
		Signature *Signature `json:"signature"`
	}{
		Type:      "Withdraw",
		AccountID: w.AccountID,
		From:      lowerHexAddress(w.From),
		To:        lowerHexAddress(w.To),
		Token:     w.TokenID,
		Amount:    w.Amount.String(),
		Fee:       w.Fee.String(),
		Nonce:     w.Nonce,
		Signature: w.Signature,
	})
}

// Close releases an empty account. The operator currently rejects it, but it
// remains part of the wire format.
type Close struct {
	Account   common.Address
	Nonce     Nonce
	Signature *Signature
}

func (c *Close) TxType() uint8 { return params.TxTypeClose }
func (c *Close) isOperation() {}

func (c *Close) SignedBytes() ([]byte, error) {
	out := make([]byte, 0, CloseSignedBytesLen)
	out = append(out, params.TxTypeClose)
	out = append(out, c.Account.Bytes()...)
	out = append(out, c.Nonce.Bytes()...)
	return out, nil
}

// DeserializeClose inverts Close.SignedBytes.
func DeserializeClose(data []byte) (*Close, error) {
	if len(data) != CloseSignedBytesLen {
		return nil, fmt.Errorf("%w: close must be %d bytes, got %d", ErrFormat, CloseSignedBytesLen, len(data))
	}
	if data[0] != params.TxTypeClose {
		return nil, fmt.Errorf("%w: wrong close tag 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	c := &Close{}
	c.Account = common.BytesToAddress(r.take(params.AddressBytes))
	c.Nonce = nonceFromBytes(r.take(params.NonceBytes))
	return c, nil
}

func (c *Close) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string     `json:"type"`
		Account   string     `json:"account"`
		Nonce     Nonce      `json:"nonce"`
		Signature *Signature `json:"signature"`
	}{
		Type:      "Close",
		Account:   lowerHexAddress(c.Account),
		Nonce:     c.Nonce,
		Signature: c.Signature,
	})
}

// ChangePubKey binds a new rollup signing key to an account. The base-chain
// signature over the registration message authorizes the binding; for
// contract-based accounts it is omitted and the on-chain route is used.
type ChangePubKey struct {
	AccountID    AccountID
	Account      common.Address
	NewPkHash    PubKeyHash
	Nonce        Nonce
	Signature    *Signature
	EthSignature []byte
}

func (c *ChangePubKey) TxType() uint8 { return params.TxTypeChangePubKey }
func (c *ChangePubKey) isOperation() {}

func (c *ChangePubKey) SignedBytes() ([]byte, error) {
	if err := c.AccountID.Check(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, ChangePubKeySignedBytesLen)
	out = append(out, params.TxTypeChangePubKey)
	out = append(out, c.AccountID.Bytes()...)
	out = append(out, c.Account.Bytes()...)
	out = append(out, c.NewPkHash[:]...)
	out = append(out, c.Nonce.Bytes()...)
	return out, nil
}

// DeserializeChangePubKey inverts ChangePubKey.SignedBytes.
func DeserializeChangePubKey(data []byte) (*ChangePubKey, error) {
	if len(data) != ChangePubKeySignedBytesLen {
		return nil, fmt.Errorf("%w: change pubkey must be %d bytes, got %d", ErrFormat, ChangePubKeySignedBytesLen, len(data))
	}
	if data[0] != params.TxTypeChangePubKey {
		return nil, fmt.Errorf("%w: wrong change pubkey tag 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	c := &ChangePubKey{}
	c.AccountID = accountIDFromBytes(r.take(params.AccountIDBytes))
	c.Account = common.BytesToAddress(r.take(params.AddressBytes))
	pkh, err := PubKeyHashFromBytes(r.take(params.PubKeyHashBytes))
	if err != nil {
		return nil, err
	}
	c.NewPkHash = pkh
	c.Nonce = nonceFromBytes(r.take(params.NonceBytes))
	return c, nil
}

func (c *ChangePubKey) MarshalJSON() ([]byte, error) {
	var ethSig *string
	if len(c.EthSignature) > 0 {
		s := "0x" + common.Bytes2Hex(c.EthSignature)
		ethSig = &s
	}
	return json.Marshal(struct {
		Type         string     `json:"type"`
		AccountID    AccountID  `json:"accountId"`
		Account      string     `json:"account"`
		NewPkHash    PubKeyHash `json:"newPkHash"`
		Nonce        Nonce      `json:"nonce"`
		Signature    *Signature `json:"signature"`
		EthSignature *string    `json:"ethSignature"`
	}{
		Type:         "ChangePubKey",
		AccountID:    c.AccountID,
		Account:      lowerHexAddress(c.Account),
		NewPkHash:    c.NewPkHash,
		Nonce:        c.Nonce,
		Signature:    c.Signature,
		EthSignature: ethSig,
	})
}

// RegistrationMessage is the fixed base-chain message authorizing a pubkey
// binding. Its length is pinned at 150 bytes; the ledger contract checks the
// exact bytes.
func RegistrationMessage(accountID AccountID, nonce Nonce, newPkHash PubKeyHash) ([]byte, error) {
	if err := accountID.Check(); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf(
		"Register colexi pubkey:\n\n%x\nnonce: 0x%x\naccount id: 0x%x\n\nOnly sign this message for a trusted client!",
		newPkHash[:], nonce.Bytes(), accountID.Bytes())
	const registrationMessageLen = 150
	if len(msg) != registrationMessageLen {
		return nil, fmt.Errorf("%w: registration message is %d bytes, want %d", ErrFormat, len(msg), registrationMessageLen)
	}
	return []byte(msg), nil
}

func fullWidthAmount(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrValueOutOfRange)
	}
	u, overflow := uint256.FromBig(amount)
	if overflow || u.BitLen() > params.BalanceBits {
		return nil, fmt.Errorf("%w: amount %v exceeds %d bits", ErrValueOutOfRange, amount, params.BalanceBits)
	}
	return u.PaddedBytes(params.BalanceBytes), nil
}

func tokenIDFromBytes(b []byte) TokenID {
	return TokenID(uint16(b[0])<<8 | uint16(b[1]))
}

func nonceFromBytes(b []byte) Nonce {
	return Nonce(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

type byteReader struct {
	data []byte
	off  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

// take is only used after an exact top-level length check.
func (r *byteReader) take(n int) []byte {
	chunk := r.data[r.off : r.off+n]
	r.off += n
	return chunk
}
