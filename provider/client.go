// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/intech-id/collexi-rollup/rolluptypes"
)

// Milestone is a finalization stage notification topic: commit means the
// operation is in a committed block, verify means the block is proven.
type Milestone string

const (
	MilestoneCommit Milestone = "COMMIT"
	MilestoneVerify Milestone = "VERIFY"
)

// Client wraps the transport with the operator's typed API surface.
type Client struct {
	transport    Interface
	pollInterval time.Duration
}

// NewClient builds a typed client. pollInterval is used when the transport
// cannot subscribe; zero selects the default.
func NewClient(transport Interface, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultConfig.PollInterval
	}
	return &Client{transport: transport, pollInterval: pollInterval}
}

func (c *Client) Transport() Interface {
	return c.transport
}

func (c *Client) Close() {
	c.transport.Close()
}

// SubmitTx submits a signed operation, with the optional base-chain
// signature over its summary, and returns the operator-assigned hash.
func (c *Client) SubmitTx(ctx context.Context, op rolluptypes.Operation, ethSignature []byte) (rolluptypes.TxHash, error) {
	var sigArg interface{}
	if len(ethSignature) > 0 {
		sigArg = "0x" + common.Bytes2Hex(ethSignature)
	}
	var hash rolluptypes.TxHash
	if err := c.transport.CallContext(ctx, &hash, "tx_submit", op, sigArg); err != nil {
		return rolluptypes.TxHash{}, err
	}
	return hash, nil
}

func (c *Client) ContractAddress(ctx context.Context) (*rolluptypes.ContractAddress, error) {
	var resp rolluptypes.ContractAddress
	if err := c.transport.CallContext(ctx, &resp, "contract_address"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tokens returns the operator's token registry keyed by symbol.
func (c *Client) Tokens(ctx context.Context) (map[string]rolluptypes.Token, error) {
	var resp map[string]rolluptypes.Token
	if err := c.transport.CallContext(ctx, &resp, "tokens"); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) AccountInfo(ctx context.Context, address common.Address) (*rolluptypes.AccountInfo, error) {
	var resp rolluptypes.AccountInfo
	if err := c.transport.CallContext(ctx, &resp, "account_info", address); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TxInfo(ctx context.Context, hash rolluptypes.TxHash) (*rolluptypes.TransactionReceipt, error) {
	var resp rolluptypes.TransactionReceipt
	if err := c.transport.CallContext(ctx, &resp, "tx_info", hash.String()); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) EthOpInfo(ctx context.Context, serialID uint64) (*rolluptypes.PriorityOpReceipt, error) {
	var resp rolluptypes.PriorityOpReceipt
	if err := c.transport.CallContext(ctx, &resp, "ethop_info", serialID); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmationsForEthOpAmount is the number of base-chain confirmations the
// operator requires before accepting a priority operation.
func (c *Client) ConfirmationsForEthOpAmount(ctx context.Context) (uint64, error) {
	var resp uint64
	if err := c.transport.CallContext(ctx, &resp, "get_confirmations_for_eth_op_amount"); err != nil {
		return 0, err
	}
	return resp, nil
}

// TransactionFee quotes the operator fee for an operation kind. tokenLike is
// a symbol or a base-chain token address.
func (c *Client) TransactionFee(ctx context.Context, txType string, amount *big.Int, tokenLike string) (*big.Int, error) {
	var resp string
	if err := c.transport.CallContext(ctx, &resp, "get_tx_fee", txType, amount.String(), tokenLike); err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(resp, 10)
	if !ok {
		return nil, errors.Errorf("operator returned unparsable fee %q", resp)
	}
	return fee, nil
}

// AwaitTxMilestone blocks until the transaction reaches the milestone (or is
// rejected, which also resolves the receipt). Push when the transport can
// subscribe, otherwise a fixed-interval poll of tx_info.
func (c *Client) AwaitTxMilestone(ctx context.Context, hash rolluptypes.TxHash, milestone Milestone) (*rolluptypes.TransactionReceipt, error) {
	if c.transport.SupportsSubscriptions() {
		sub, err := c.transport.Subscribe(ctx, "tx", hash.String(), string(milestone))
		if err != nil {
			return nil, err
		}
		raw, err := sub.Await(ctx)
		if err != nil {
			return nil, err
		}
		var receipt rolluptypes.TransactionReceipt
		if err := json.Unmarshal(raw, &receipt); err != nil {
			return nil, fmt.Errorf("%w: tx status notification: %v", rolluptypes.ErrFormat, err)
		}
		return &receipt, nil
	}
	return awaitByPolling(ctx, c.pollInterval, func(ctx context.Context) (*rolluptypes.TransactionReceipt, bool, error) {
		receipt, err := c.TxInfo(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		return receipt, txMilestoneReached(receipt, milestone), nil
	})
}

// AwaitEthOpMilestone is AwaitTxMilestone for priority operations, keyed by
// queue serial id.
func (c *Client) AwaitEthOpMilestone(ctx context.Context, serialID uint64, milestone Milestone) (*rolluptypes.PriorityOpReceipt, error) {
	if c.transport.SupportsSubscriptions() {
		sub, err := c.transport.Subscribe(ctx, "ethop", serialID, string(milestone))
		if err != nil {
			return nil, err
		}
		raw, err := sub.Await(ctx)
		if err != nil {
			return nil, err
		}
		var receipt rolluptypes.PriorityOpReceipt
		if err := json.Unmarshal(raw, &receipt); err != nil {
			return nil, fmt.Errorf("%w: priority op status notification: %v", rolluptypes.ErrFormat, err)
		}
		return &receipt, nil
	}
	return awaitByPolling(ctx, c.pollInterval, func(ctx context.Context) (*rolluptypes.PriorityOpReceipt, bool, error) {
		receipt, err := c.EthOpInfo(ctx, serialID)
		if err != nil {
			return nil, false, err
		}
		return receipt, ethOpMilestoneReached(receipt, milestone), nil
	})
}

func txMilestoneReached(receipt *rolluptypes.TransactionReceipt, milestone Milestone) bool {
	if receipt.Failed() {
		return true
	}
	if milestone == MilestoneVerify {
		return receipt.Verified()
	}
	return receipt.Committed()
}

func ethOpMilestoneReached(receipt *rolluptypes.PriorityOpReceipt, milestone Milestone) bool {
	if milestone == MilestoneVerify {
		return receipt.Verified()
	}
	return receipt.Committed()
}

// awaitByPolling re-queries at a fixed interval. Polling is unbounded by
// default; settlement time is chain-dependent, so deadlines belong to the
// caller's context. The timer never outlives a cancelled wait.
func awaitByPolling[T any](ctx context.Context, interval time.Duration, fetch func(context.Context) (T, bool, error)) (T, error) {
	var zero T
	for {
		result, done, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return result, nil
		}
		log.Trace("milestone not reached, polling again", "interval", interval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
