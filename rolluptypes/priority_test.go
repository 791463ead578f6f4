// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package rolluptypes

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/intech-id/collexi-rollup/params"
)

func encodePriorityRequestLog(t *testing.T, serialID uint64, opType uint8, pubData []byte) *types.Log {
	t.Helper()
	data, err := priorityRequestArguments.Pack(
		testFrom, serialID, opType, pubData, big.NewInt(1000))
	require.NoError(t, err)
	return &types.Log{
		Topics: []common.Hash{PriorityRequestEventID},
		Data:   data,
		TxHash: common.HexToHash("0xdeadbeef"),
	}
}

func depositQueuePubdata(tokenID TokenID, to common.Address) []byte {
	data := make([]byte, 0, params.AccountIDBytes+params.TokenIDBytes+params.AddressBytes)
	data = append(data, AccountID(0).Bytes()...) // unassigned at enqueue time
	data = append(data, tokenID.Bytes()...)
	data = append(data, to.Bytes()...)
	return data
}

func TestParsePriorityRequestDeposit(t *testing.T) {
	l := encodePriorityRequestLog(t, 99, params.OpCodeDeposit, depositQueuePubdata(3, testTo))
	req, err := ParsePriorityRequestLog(l)
	require.NoError(t, err)
	require.Equal(t, uint64(99), req.SerialID)
	require.Equal(t, testFrom, req.Sender)
	require.Equal(t, uint64(1000), req.DeadlineBlock)

	deposit, ok := req.Data.(Deposit)
	require.True(t, ok)
	require.Equal(t, TokenID(3), deposit.TokenID)
	require.Equal(t, testTo, deposit.To)
	require.Equal(t, testFrom, deposit.From)
}

func TestParsePriorityRequestFullExit(t *testing.T) {
	pubData := make([]byte, 0, params.AccountIDBytes+params.AddressBytes)
	pubData = append(pubData, AccountID(123).Bytes()...)
	pubData = append(pubData, testFrom.Bytes()...)

	l := encodePriorityRequestLog(t, 7, params.OpCodeFullExit, pubData)
	req, err := ParsePriorityRequestLog(l)
	require.NoError(t, err)

	exit, ok := req.Data.(FullExit)
	require.True(t, ok)
	require.Equal(t, AccountID(123), exit.AccountID)
	require.Equal(t, testFrom, exit.EthAddress)
}

func TestParsePriorityRequestRejects(t *testing.T) {
	// Foreign event topic.
	_, err := ParsePriorityRequestLog(&types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	require.ErrorIs(t, err, ErrFormat)

	// Unknown op type.
	l := encodePriorityRequestLog(t, 1, params.OpCodeTransfer, depositQueuePubdata(0, testTo))
	_, err = ParsePriorityRequestLog(l)
	require.ErrorIs(t, err, ErrFormat)

	// Truncated pubdata.
	l = encodePriorityRequestLog(t, 1, params.OpCodeDeposit, depositQueuePubdata(0, testTo)[:10])
	_, err = ParsePriorityRequestLog(l)
	require.ErrorIs(t, err, ErrFormat)
}
