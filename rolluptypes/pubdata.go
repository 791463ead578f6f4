// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package rolluptypes

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/intech-id/collexi-rollup/params"
	"github.com/intech-id/collexi-rollup/util/packing"
)

// Pubdata is the canonical binary payload describing an operation's effect,
// zero-padded to whole 8-byte chunks. The layouts here must stay byte-for-byte
// symmetric with the ledger contract's decoder.

func padToChunks(data []byte, chunks int) []byte {
	out := make([]byte, chunks*params.ChunkBytes)
	copy(out, data)
	return out
}

func checkPubdataLen(data []byte, chunks int, what string) error {
	if len(data) != chunks*params.ChunkBytes {
		return fmt.Errorf("%w: %s pubdata must be %d bytes, got %d", ErrFormat, what, chunks*params.ChunkBytes, len(data))
	}
	return nil
}

// DepositPubdata lays out a deposit: opcode · account id · token · owner.
// The account id is unassigned at enqueue time and ignored by consumers.
func DepositPubdata(accountID AccountID, tokenID TokenID, to common.Address) ([]byte, error) {
	if err := accountID.Check(); err != nil {
		return nil, err
	}
	if err := tokenID.Check(); err != nil {
		return nil, err
	}
	data := make([]byte, 0, params.DepositChunks*params.ChunkBytes)
	data = append(data, params.OpCodeDeposit)
	data = append(data, accountID.Bytes()...)
	data = append(data, tokenID.Bytes()...)
	data = append(data, to.Bytes()...)
	return padToChunks(data, params.DepositChunks), nil
}

// ParseDepositPubdata decodes block pubdata for a deposit.
func ParseDepositPubdata(data []byte) (AccountID, TokenID, common.Address, error) {
	if err := checkPubdataLen(data, params.DepositChunks, "deposit"); err != nil {
		return 0, 0, common.Address{}, err
	}
	if data[0] != params.OpCodeDeposit {
		return 0, 0, common.Address{}, fmt.Errorf("%w: wrong deposit op code 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	accountID := accountIDFromBytes(r.take(params.AccountIDBytes))
	tokenID := tokenIDFromBytes(r.take(params.TokenIDBytes))
	to := common.BytesToAddress(r.take(params.AddressBytes))
	return accountID, tokenID, to, nil
}

// FullExitPubdata lays out a full exit: opcode · account id · owner. The
// withdrawn amount is filled in during rollup processing and is not part of
// the enqueued payload.
func FullExitPubdata(accountID AccountID, owner common.Address) ([]byte, error) {
	if err := accountID.Check(); err != nil {
		return nil, err
	}
	data := make([]byte, 0, params.FullExitChunks*params.ChunkBytes)
	data = append(data, params.OpCodeFullExit)
	data = append(data, accountID.Bytes()...)
	data = append(data, owner.Bytes()...)
	return padToChunks(data, params.FullExitChunks), nil
}

// ParseFullExitPubdata decodes block pubdata for a full exit.
func ParseFullExitPubdata(data []byte) (AccountID, common.Address, error) {
	if err := checkPubdataLen(data, params.FullExitChunks, "full exit"); err != nil {
		return 0, common.Address{}, err
	}
	if data[0] != params.OpCodeFullExit {
		return 0, common.Address{}, fmt.Errorf("%w: wrong full exit op code 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	accountID := accountIDFromBytes(r.take(params.AccountIDBytes))
	owner := common.BytesToAddress(r.take(params.AddressBytes))
	return accountID, owner, nil
}

// PartialExitPubdata lays out an operator-processed withdraw:
// opcode · account id · token · packed fee · base-chain recipient.
func PartialExitPubdata(accountID AccountID, tokenID TokenID, fee []byte, to common.Address) ([]byte, error) {
	if err := accountID.Check(); err != nil {
		return nil, err
	}
	if err := tokenID.Check(); err != nil {
		return nil, err
	}
	if len(fee) != params.PackedFeeBytes {
		return nil, fmt.Errorf("%w: packed fee must be %d bytes, got %d", ErrFormat, params.PackedFeeBytes, len(fee))
	}
	data := make([]byte, 0, params.PartialExitChunks*params.ChunkBytes)
	data = append(data, params.OpCodePartialExit)
	data = append(data, accountID.Bytes()...)
	data = append(data, tokenID.Bytes()...)
	data = append(data, fee...)
	data = append(data, to.Bytes()...)
	return padToChunks(data, params.PartialExitChunks), nil
}

// ParsePartialExitPubdata decodes block pubdata for a withdraw.
func ParsePartialExitPubdata(data []byte) (*Withdraw, error) {
	if err := checkPubdataLen(data, params.PartialExitChunks, "partial exit"); err != nil {
		return nil, err
	}
	if data[0] != params.OpCodePartialExit {
		return nil, fmt.Errorf("%w: wrong partial exit op code 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	w := &Withdraw{}
	w.AccountID = accountIDFromBytes(r.take(params.AccountIDBytes))
	w.TokenID = tokenIDFromBytes(r.take(params.TokenIDBytes))
	fee, err := packing.UnpackFee(r.take(params.PackedFeeBytes))
	if err != nil {
		return nil, err
	}
	w.Fee = fee
	w.To = common.BytesToAddress(r.take(params.AddressBytes))
	return w, nil
}

// TransferPubdata lays out an intra-rollup transfer between two known
// accounts: opcode · from id · token · to id · packed fee.
func TransferPubdata(from AccountID, tokenID TokenID, to AccountID, fee []byte) ([]byte, error) {
	if err := from.Check(); err != nil {
		return nil, err
	}
	if err := to.Check(); err != nil {
		return nil, err
	}
	if err := tokenID.Check(); err != nil {
		return nil, err
	}
	if len(fee) != params.PackedFeeBytes {
		return nil, fmt.Errorf("%w: packed fee must be %d bytes, got %d", ErrFormat, params.PackedFeeBytes, len(fee))
	}
	data := make([]byte, 0, params.TransferChunks*params.ChunkBytes)
	data = append(data, params.OpCodeTransfer)
	data = append(data, from.Bytes()...)
	data = append(data, tokenID.Bytes()...)
	data = append(data, to.Bytes()...)
	data = append(data, fee...)
	return padToChunks(data, params.TransferChunks), nil
}

// ChangePubKeyPubdata lays out a key registration:
// opcode · account id · new pubkey hash · account address · nonce.
func ChangePubKeyPubdata(op *ChangePubKey) ([]byte, error) {
	if err := op.AccountID.Check(); err != nil {
		return nil, err
	}
	data := make([]byte, 0, params.ChangePubKeyChunks*params.ChunkBytes)
	data = append(data, params.OpCodeChangePubKey)
	data = append(data, op.AccountID.Bytes()...)
	data = append(data, op.NewPkHash[:]...)
	data = append(data, op.Account.Bytes()...)
	data = append(data, op.Nonce.Bytes()...)
	return padToChunks(data, params.ChangePubKeyChunks), nil
}

// ParseChangePubKeyPubdata decodes block pubdata for a key registration.
func ParseChangePubKeyPubdata(data []byte) (*ChangePubKey, error) {
	if err := checkPubdataLen(data, params.ChangePubKeyChunks, "change pubkey"); err != nil {
		return nil, err
	}
	if data[0] != params.OpCodeChangePubKey {
		return nil, fmt.Errorf("%w: wrong change pubkey op code 0x%02x", ErrFormat, data[0])
	}
	r := newByteReader(data[1:])
	op := &ChangePubKey{}
	op.AccountID = accountIDFromBytes(r.take(params.AccountIDBytes))
	pkh, err := PubKeyHashFromBytes(r.take(params.PubKeyHashBytes))
	if err != nil {
		return nil, err
	}
	op.NewPkHash = pkh
	op.Account = common.BytesToAddress(r.take(params.AddressBytes))
	op.Nonce = nonceFromBytes(r.take(params.NonceBytes))
	return op, nil
}
