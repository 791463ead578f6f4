// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package rolluptypes

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/intech-id/collexi-rollup/params"
)

// Deposit is a base-chain-originated move of funds into a rollup account.
type Deposit struct {
	From    common.Address
	TokenID TokenID
	To      common.Address
}

// FullExit is a base-chain-originated forced withdrawal of an account's
// whole balance. The amount is determined during rollup processing.
type FullExit struct {
	AccountID  AccountID
	EthAddress common.Address
}

// PriorityOpData is the closed union of priority operation payloads.
type PriorityOpData interface {
	OpCode() uint8
	isPriorityOpData()
}

func (Deposit) OpCode() uint8     { return params.OpCodeDeposit }
func (Deposit) isPriorityOpData() {}

func (FullExit) OpCode() uint8     { return params.OpCodeFullExit }
func (FullExit) isPriorityOpData() {}

// PriorityRequest is one entry of the ledger contract's priority queue, as
// announced by its enqueue event.
type PriorityRequest struct {
	Sender        common.Address
	SerialID      uint64
	Data          PriorityOpData
	DeadlineBlock uint64
	EthHash       common.Hash
}

// PriorityRequestEventSignature is the enqueue event emitted by the ledger
// contract; all arguments are non-indexed.
const PriorityRequestEventSignature = "NewPriorityRequest(address,uint64,uint8,bytes,uint256)"

// PriorityRequestEventID is the topic hash of the enqueue event.
var PriorityRequestEventID = crypto.Keccak256Hash([]byte(PriorityRequestEventSignature))

var priorityRequestArguments = abi.Arguments{
	{Name: "sender", Type: mustNewABIType("address")},
	{Name: "serialId", Type: mustNewABIType("uint64")},
	{Name: "opType", Type: mustNewABIType("uint8")},
	{Name: "pubData", Type: mustNewABIType("bytes")},
	{Name: "expirationBlock", Type: mustNewABIType("uint256")},
}

func mustNewABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ParsePriorityRequestLog decodes one enqueue event. It returns ErrFormat
// when the log is not a priority request or its pubdata does not decode.
func ParsePriorityRequestLog(l *types.Log) (*PriorityRequest, error) {
	if len(l.Topics) == 0 || l.Topics[0] != PriorityRequestEventID {
		return nil, fmt.Errorf("%w: not a priority request event", ErrFormat)
	}
	values, err := priorityRequestArguments.UnpackValues(l.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: priority request event data: %v", ErrFormat, err)
	}
	sender, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: priority request sender", ErrFormat)
	}
	serialID, ok := values[1].(uint64)
	if !ok {
		return nil, fmt.Errorf("%w: priority request serial id", ErrFormat)
	}
	opType, ok := values[2].(uint8)
	if !ok {
		return nil, fmt.Errorf("%w: priority request op type", ErrFormat)
	}
	pubData, ok := values[3].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: priority request pubdata", ErrFormat)
	}
	expiration, ok := values[4].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: priority request expiration", ErrFormat)
	}
	data, err := parseQueuePubdata(pubData, opType, sender)
	if err != nil {
		return nil, err
	}
	return &PriorityRequest{
		Sender:        sender,
		SerialID:      serialID,
		Data:          data,
		DeadlineBlock: expiration.Uint64(),
		EthHash:       l.TxHash,
	}, nil
}

// parseQueuePubdata decodes the unpadded pubdata carried by the enqueue
// event. The deposit account id is ignored (unassigned at enqueue time);
// the full exit amount is absent entirely.
func parseQueuePubdata(pubData []byte, opType uint8, sender common.Address) (PriorityOpData, error) {
	switch opType {
	case params.OpCodeDeposit:
		want := params.AccountIDBytes + params.TokenIDBytes + params.AddressBytes
		if len(pubData) != want {
			return nil, fmt.Errorf("%w: deposit queue pubdata must be %d bytes, got %d", ErrFormat, want, len(pubData))
		}
		r := newByteReader(pubData)
		_ = r.take(params.AccountIDBytes)
		tokenID := tokenIDFromBytes(r.take(params.TokenIDBytes))
		to := common.BytesToAddress(r.take(params.AddressBytes))
		return Deposit{From: sender, TokenID: tokenID, To: to}, nil
	case params.OpCodeFullExit:
		want := params.AccountIDBytes + params.AddressBytes
		if len(pubData) != want {
			return nil, fmt.Errorf("%w: full exit queue pubdata must be %d bytes, got %d", ErrFormat, want, len(pubData))
		}
		r := newByteReader(pubData)
		accountID := accountIDFromBytes(r.take(params.AccountIDBytes))
		owner := common.BytesToAddress(r.take(params.AddressBytes))
		return FullExit{AccountID: accountID, EthAddress: owner}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported priority op type %d", ErrFormat, opType)
	}
}
