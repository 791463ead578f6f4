// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package params holds the protocol constants shared by the rollup operator,
// the base-chain ledger contract and this client. Every byte layout in the
// codec packages is derived from the widths below; changing any of them is a
// wire-format break.
package params

const (
	// AccountIDBits is the width of a rollup account index. The top byte of
	// a big-endian uint32 is dropped on the wire.
	AccountIDBits = 24
	// TokenIDBits is the width of a token index in pubdata.
	TokenIDBits = 16
	// NonceBits is the width of an account nonce.
	NonceBits = 32
	// BalanceBits is the width of a full (non-packed) balance.
	BalanceBits = 128
	// AddressBits is the width of both base-chain addresses and rollup
	// public key hashes.
	AddressBits = 160
	// PubKeyHashBits equals AddressBits; the two encodings share a 20-byte
	// payload but are never interchangeable.
	PubKeyHashBits = 160

	AccountIDBytes  = AccountIDBits / 8
	TokenIDBytes    = TokenIDBits / 8
	NonceBytes      = NonceBits / 8
	BalanceBytes    = BalanceBits / 8
	AddressBytes    = AddressBits / 8
	PubKeyHashBytes = PubKeyHashBits / 8
	TxTypeBytes     = 1
)

const (
	// MaxAccountID is the largest account index the operator may assign.
	MaxAccountID = 1<<AccountIDBits - 1
	// MaxTokenID is the largest supported token index.
	MaxTokenID = 4095
	// EthTokenID is the reserved index of the base-chain native asset.
	EthTokenID = 0
)

// Amounts and fees travel as lossy fixed-point numbers: a base-10 exponent in
// the high bits and a mantissa in the low bits, big-endian.
const (
	AmountExponentBits = 5
	AmountMantissaBits = 35
	FeeExponentBits    = 5
	FeeMantissaBits    = 11
	PackedExponentBase = 10

	PackedAmountBytes = (AmountExponentBits + AmountMantissaBits) / 8
	PackedFeeBytes    = (FeeExponentBits + FeeMantissaBits) / 8
)

// Transaction type tags, the first byte of every signed payload.
const (
	TxTypeTransfer     = 5
	TxTypeWithdraw     = 3
	TxTypeClose        = 4
	TxTypeChangePubKey = 7
)

// Pubdata operation codes emitted by the ledger contract and the operator.
const (
	OpCodeNoop          = 0x00
	OpCodeDeposit       = 0x01
	OpCodeTransferToNew = 0x02
	OpCodePartialExit   = 0x03
	OpCodeClose         = 0x04
	OpCodeTransfer      = 0x05
	OpCodeFullExit      = 0x06
	OpCodeChangePubKey  = 0x07
)

// ChunkBytes is the pubdata chunk size; every operation's pubdata is
// zero-padded to a whole number of chunks.
const ChunkBytes = 8

// Pubdata chunk counts per operation.
const (
	NoopChunks          = 1
	DepositChunks       = 6
	TransferToNewChunks = 5
	PartialExitChunks   = 6
	CloseChunks         = 1
	TransferChunks      = 2
	FullExitChunks      = 6
	ChangePubKeyChunks  = 6
)
