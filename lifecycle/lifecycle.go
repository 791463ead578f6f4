// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package lifecycle tracks operations across their settlement milestones.
//
// Two machines cover the two entry paths. A priority operation starts as a
// base-chain transaction and advances Sent, Mined, Committed, Verified. A
// rollup transaction is born on the operator and advances Sent, Committed,
// Verified. Both can fall into Failed, which is absorbing: every later await
// re-raises the stored error without touching the network.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/intech-id/collexi-rollup/provider"
	"github.com/intech-id/collexi-rollup/rolluptypes"
)

// ErrProtocolMismatch means a mined enqueue transaction produced no priority
// request event: the contract this client talks to does not speak the
// expected protocol. Not retryable.
var ErrProtocolMismatch = errors.New("mined transaction emitted no priority request: contract protocol mismatch")

// ExecutionError is an operator rejection of a rollup-side operation,
// carrying the operator's reason verbatim when one was given.
type ExecutionError struct {
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("rollup execution failed: %s", e.Reason)
}

// State is a settlement milestone. States only ever advance.
type State int

const (
	StateSent State = iota
	StateMined
	StateCommitted
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "SENT"
	case StateMined:
		return "MINED"
	case StateCommitted:
		return "COMMITTED"
	case StateVerified:
		return "VERIFIED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TxStatusSource resolves rollup transaction milestones. *provider.Client
// satisfies it.
type TxStatusSource interface {
	AwaitTxMilestone(ctx context.Context, hash rolluptypes.TxHash, milestone provider.Milestone) (*rolluptypes.TransactionReceipt, error)
}

// EthOpStatusSource resolves priority operation milestones by queue serial
// id. *provider.Client satisfies it.
type EthOpStatusSource interface {
	AwaitEthOpMilestone(ctx context.Context, serialID uint64, milestone provider.Milestone) (*rolluptypes.PriorityOpReceipt, error)
}

// ReceiptWaiter is the base-chain side a priority operation needs: receipt
// settlement and event extraction. *ledger.Client satisfies it.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	PriorityRequestFromLogs(receipt *types.Receipt) (*rolluptypes.PriorityRequest, error)
}

// PriorityOperation tracks one enqueue transaction from broadcast through
// rollup finality. Safe for concurrent awaits; every milestone resolves at
// most once and later awaits return the cached result.
type PriorityOperation struct {
	mu     sync.Mutex
	ledger ReceiptWaiter
	status EthOpStatusSource

	tx      *types.Transaction
	state   State
	receipt *types.Receipt
	request *rolluptypes.PriorityRequest
	rollup  *rolluptypes.PriorityOpReceipt
	err     error
}

func NewPriorityOperation(tx *types.Transaction, ledger ReceiptWaiter, status EthOpStatusSource) *PriorityOperation {
	return &PriorityOperation{
		ledger: ledger,
		status: status,
		tx:     tx,
		state:  StateSent,
	}
}

// BaseTx is the enqueue transaction as broadcast.
func (op *PriorityOperation) BaseTx() *types.Transaction {
	return op.tx
}

func (op *PriorityOperation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// SerialID is the queue position assigned at enqueue time. It binds once,
// when the transaction is mined.
func (op *PriorityOperation) SerialID() (uint64, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.request == nil {
		return 0, false
	}
	return op.request.SerialID, true
}

func (op *PriorityOperation) fail(err error) error {
	op.state = StateFailed
	op.err = err
	return err
}

// AwaitMined blocks until the enqueue transaction settles on the base chain
// and its priority request is extracted.
func (op *PriorityOperation) AwaitMined(ctx context.Context) (*rolluptypes.PriorityRequest, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.err != nil {
		return nil, op.err
	}
	if op.state >= StateMined {
		return op.request, nil
	}
	receipt, err := op.ledger.WaitMined(ctx, op.tx)
	if err != nil {
		// transient: the wait can be retried, so the state does not move
		return nil, err
	}
	op.receipt = receipt
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, op.fail(errors.Errorf("enqueue transaction %v reverted on the base chain", op.tx.Hash()))
	}
	request, err := op.ledger.PriorityRequestFromLogs(receipt)
	if err != nil {
		return nil, op.fail(errors.Wrapf(ErrProtocolMismatch, "transaction %v", op.tx.Hash()))
	}
	log.Debug("priority operation mined", "tx", op.tx.Hash(), "serialId", request.SerialID)
	op.request = request
	op.state = StateMined
	return request, nil
}

func (op *PriorityOperation) awaitRollup(ctx context.Context, milestone provider.Milestone, target State) (*rolluptypes.PriorityOpReceipt, error) {
	if _, err := op.AwaitMined(ctx); err != nil {
		return nil, err
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.err != nil {
		return nil, op.err
	}
	if op.state >= target {
		return op.rollup, nil
	}
	receipt, err := op.status.AwaitEthOpMilestone(ctx, op.request.SerialID, milestone)
	if err != nil {
		return nil, err
	}
	op.rollup = receipt
	if !receipt.Executed {
		return nil, op.fail(&ExecutionError{
			Reason: fmt.Sprintf("priority operation %d not executed", op.request.SerialID),
		})
	}
	op.state = target
	return receipt, nil
}

// AwaitCommitted blocks until the operation is included in a committed
// rollup block, mining the enqueue transaction first if needed.
func (op *PriorityOperation) AwaitCommitted(ctx context.Context) (*rolluptypes.PriorityOpReceipt, error) {
	return op.awaitRollup(ctx, provider.MilestoneCommit, StateCommitted)
}

// AwaitVerified blocks until the operation's block is proven.
func (op *PriorityOperation) AwaitVerified(ctx context.Context) (*rolluptypes.PriorityOpReceipt, error) {
	return op.awaitRollup(ctx, provider.MilestoneVerify, StateVerified)
}

// RollupTransaction tracks one operator-submitted operation through commit
// and verification.
type RollupTransaction struct {
	mu     sync.Mutex
	status TxStatusSource

	hash    rolluptypes.TxHash
	state   State
	receipt *rolluptypes.TransactionReceipt
	err     error
}

func NewRollupTransaction(hash rolluptypes.TxHash, status TxStatusSource) *RollupTransaction {
	return &RollupTransaction{
		status: status,
		hash:   hash,
		state:  StateSent,
	}
}

func (tx *RollupTransaction) Hash() rolluptypes.TxHash {
	return tx.hash
}

func (tx *RollupTransaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *RollupTransaction) await(ctx context.Context, milestone provider.Milestone, target State) (*rolluptypes.TransactionReceipt, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.err != nil {
		return nil, tx.err
	}
	if tx.state >= target {
		return tx.receipt, nil
	}
	receipt, err := tx.status.AwaitTxMilestone(ctx, tx.hash, milestone)
	if err != nil {
		return nil, err
	}
	tx.receipt = receipt
	if receipt.Failed() {
		reason := "unknown"
		if receipt.FailReason != nil {
			reason = *receipt.FailReason
		}
		tx.state = StateFailed
		tx.err = &ExecutionError{Reason: reason}
		return nil, tx.err
	}
	tx.state = target
	return receipt, nil
}

// AwaitCommitted blocks until the transaction is included in a committed
// rollup block, or the operator rejects it.
func (tx *RollupTransaction) AwaitCommitted(ctx context.Context) (*rolluptypes.TransactionReceipt, error) {
	return tx.await(ctx, provider.MilestoneCommit, StateCommitted)
}

// AwaitVerified blocks until the transaction's block is proven.
func (tx *RollupTransaction) AwaitVerified(ctx context.Context) (*rolluptypes.TransactionReceipt, error) {
	return tx.await(ctx, provider.MilestoneVerify, StateVerified)
}
