// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package rolluptypes

import (
	"github.com/ethereum/go-ethereum/common"
)

// The operator reports operation progress through read-only snapshots. They
// are never mutated locally, only re-fetched or re-subscribed.

// BlockInfo locates an executed operation within a rollup block and carries
// its finalization milestones.
type BlockInfo struct {
	BlockNumber int64 `json:"blockNumber"`
	Committed   bool  `json:"committed"`
	Verified    bool  `json:"verified"`
}

// TransactionReceipt is the operator's view of a rollup-native operation.
type TransactionReceipt struct {
	Executed   bool       `json:"executed"`
	Success    *bool      `json:"success"`
	FailReason *string    `json:"failReason"`
	Block      *BlockInfo `json:"block"`
}

// Committed reports whether the transaction is included in a committed block.
func (r *TransactionReceipt) Committed() bool {
	return r.Executed && r.Block != nil && r.Block.Committed
}

// Verified reports whether the transaction's block is proven and final.
func (r *TransactionReceipt) Verified() bool {
	return r.Executed && r.Block != nil && r.Block.Verified
}

// Failed reports whether the operator rejected the executed transaction.
func (r *TransactionReceipt) Failed() bool {
	return r.Executed && r.Success != nil && !*r.Success
}

// PriorityOpReceipt is the operator's view of a priority operation, keyed by
// its queue serial id.
type PriorityOpReceipt struct {
	Executed bool       `json:"executed"`
	Block    *BlockInfo `json:"block"`
}

func (r *PriorityOpReceipt) Committed() bool {
	return r.Executed && r.Block != nil && r.Block.Committed
}

func (r *PriorityOpReceipt) Verified() bool {
	return r.Executed && r.Block != nil && r.Block.Verified
}

// AccountState is one side (committed or verified) of an account snapshot.
// Balances are decimal strings keyed by token symbol.
type AccountState struct {
	Nonce      Nonce             `json:"nonce"`
	Balances   map[string]string `json:"balances"`
	PubKeyHash PubKeyHash        `json:"pubKeyHash"`
}

// AccountInfo is the operator's account snapshot. ID is nil until the
// operator has assigned one; zero is a valid assigned id.
type AccountInfo struct {
	Address   common.Address `json:"address"`
	ID        *AccountID     `json:"id"`
	Committed AccountState   `json:"committed"`
	Verified  AccountState   `json:"verified"`
}

// Token is one entry of the operator's token registry.
type Token struct {
	ID       TokenID        `json:"id"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// ContractAddress is the deployed ledger contract pair.
type ContractAddress struct {
	MainContract common.Address `json:"mainContract"`
	GovContract  common.Address `json:"govContract"`
}
