// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package lifecycle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/intech-id/collexi-rollup/ledger"
	"github.com/intech-id/collexi-rollup/provider"
	"github.com/intech-id/collexi-rollup/rolluptypes"
)

type fakeLedger struct {
	waitCalls  int
	parseCalls int
	receipt    *types.Receipt
	request    *rolluptypes.PriorityRequest
	parseErr   error
}

func (f *fakeLedger) WaitMined(context.Context, *types.Transaction) (*types.Receipt, error) {
	f.waitCalls++
	return f.receipt, nil
}

func (f *fakeLedger) PriorityRequestFromLogs(*types.Receipt) (*rolluptypes.PriorityRequest, error) {
	f.parseCalls++
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.request, nil
}

type fakeEthOpStatus struct {
	calls    int
	receipts map[provider.Milestone]*rolluptypes.PriorityOpReceipt
}

func (f *fakeEthOpStatus) AwaitEthOpMilestone(_ context.Context, _ uint64, milestone provider.Milestone) (*rolluptypes.PriorityOpReceipt, error) {
	f.calls++
	return f.receipts[milestone], nil
}

type fakeTxStatus struct {
	calls   int
	receipt *rolluptypes.TransactionReceipt
}

func (f *fakeTxStatus) AwaitTxMilestone(context.Context, rolluptypes.TxHash, provider.Milestone) (*rolluptypes.TransactionReceipt, error) {
	f.calls++
	return f.receipt, nil
}

func enqueueTx() *types.Transaction {
	return types.NewTransaction(0, common.Address{}, big.NewInt(0), 21000, big.NewInt(1), nil)
}

func TestPriorityOperationHappyPath(t *testing.T) {
	led := &fakeLedger{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		request: &rolluptypes.PriorityRequest{SerialID: 7},
	}
	status := &fakeEthOpStatus{receipts: map[provider.Milestone]*rolluptypes.PriorityOpReceipt{
		provider.MilestoneCommit: {Executed: true, Block: &rolluptypes.BlockInfo{BlockNumber: 1, Committed: true}},
		provider.MilestoneVerify: {Executed: true, Block: &rolluptypes.BlockInfo{BlockNumber: 1, Committed: true, Verified: true}},
	}}
	op := NewPriorityOperation(enqueueTx(), led, status)
	require.Equal(t, StateSent, op.State())
	_, bound := op.SerialID()
	require.False(t, bound)

	request, err := op.AwaitMined(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), request.SerialID)
	require.Equal(t, StateMined, op.State())
	serial, bound := op.SerialID()
	require.True(t, bound)
	require.Equal(t, uint64(7), serial)

	committed, err := op.AwaitCommitted(context.Background())
	require.NoError(t, err)
	require.True(t, committed.Committed())
	require.Equal(t, StateCommitted, op.State())

	verified, err := op.AwaitVerified(context.Background())
	require.NoError(t, err)
	require.True(t, verified.Verified())
	require.Equal(t, StateVerified, op.State())

	// milestones resolve once
	require.Equal(t, 1, led.waitCalls)
	require.Equal(t, 2, status.calls)
	_, err = op.AwaitCommitted(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, status.calls)
}

func TestPriorityOperationProtocolMismatchIsSticky(t *testing.T) {
	led := &fakeLedger{
		receipt:  &types.Receipt{Status: types.ReceiptStatusSuccessful},
		parseErr: ledger.ErrNoPriorityRequest,
	}
	status := &fakeEthOpStatus{}
	op := NewPriorityOperation(enqueueTx(), led, status)

	_, err := op.AwaitMined(context.Background())
	require.ErrorIs(t, err, ErrProtocolMismatch)
	require.Equal(t, StateFailed, op.State())

	// repeat awaits re-raise without touching either chain
	_, err = op.AwaitVerified(context.Background())
	require.ErrorIs(t, err, ErrProtocolMismatch)
	require.Equal(t, 1, led.waitCalls)
	require.Equal(t, 1, led.parseCalls)
	require.Zero(t, status.calls)
}

func TestPriorityOperationRevertedEnqueue(t *testing.T) {
	led := &fakeLedger{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	op := NewPriorityOperation(enqueueTx(), led, &fakeEthOpStatus{})

	_, err := op.AwaitMined(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, op.State())
	require.Zero(t, led.parseCalls)

	_, again := op.AwaitMined(context.Background())
	require.Equal(t, err, again)
	require.Equal(t, 1, led.waitCalls)
}

func TestPriorityOperationNotExecutedIsSticky(t *testing.T) {
	led := &fakeLedger{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		request: &rolluptypes.PriorityRequest{SerialID: 7},
	}
	status := &fakeEthOpStatus{receipts: map[provider.Milestone]*rolluptypes.PriorityOpReceipt{
		provider.MilestoneCommit: {Executed: false},
	}}
	op := NewPriorityOperation(enqueueTx(), led, status)

	_, err := op.AwaitCommitted(context.Background())
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, StateFailed, op.State())

	// repeat awaits re-raise without touching the operator
	_, err = op.AwaitVerified(context.Background())
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 1, status.calls)
}

func TestRollupTransactionHappyPath(t *testing.T) {
	status := &fakeTxStatus{receipt: &rolluptypes.TransactionReceipt{
		Executed: true,
		Block:    &rolluptypes.BlockInfo{BlockNumber: 3, Committed: true, Verified: true},
	}}
	tx := NewRollupTransaction(rolluptypes.TxHash{}, status)

	receipt, err := tx.AwaitCommitted(context.Background())
	require.NoError(t, err)
	require.True(t, receipt.Committed())
	require.Equal(t, StateCommitted, tx.State())

	_, err = tx.AwaitVerified(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateVerified, tx.State())
	require.Equal(t, 2, status.calls)

	// cached after the milestone is reached
	_, err = tx.AwaitCommitted(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, status.calls)
}

func TestRollupTransactionExecutionFailureIsSticky(t *testing.T) {
	success := false
	reason := "insufficient balance"
	status := &fakeTxStatus{receipt: &rolluptypes.TransactionReceipt{
		Executed:   true,
		Success:    &success,
		FailReason: &reason,
	}}
	tx := NewRollupTransaction(rolluptypes.TxHash{}, status)

	_, err := tx.AwaitCommitted(context.Background())
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, reason, execErr.Reason)
	require.Equal(t, StateFailed, tx.State())

	_, err = tx.AwaitVerified(context.Background())
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 1, status.calls)
}
