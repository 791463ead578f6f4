// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package ledger is the base-chain side of the rollup: the queueing contract
// that accepts deposits, full-exit requests and signing-key pre-authorization,
// and the minimal ERC-20 surface the deposit flow needs.
package ledger

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/intech-id/collexi-rollup/rolluptypes"
)

var ErrNoPriorityRequest = errors.New("no priority request logged by transaction")

const rollupABIJSON = `[
	{"type":"function","name":"depositETH","stateMutability":"payable","inputs":[{"name":"_to","type":"address"}],"outputs":[]},
	{"type":"function","name":"depositERC20","stateMutability":"nonpayable","inputs":[{"name":"_token","type":"address"},{"name":"_amount","type":"uint104"},{"name":"_to","type":"address"}],"outputs":[]},
	{"type":"function","name":"fullExit","stateMutability":"nonpayable","inputs":[{"name":"_accountId","type":"uint24"},{"name":"_token","type":"address"}],"outputs":[]},
	{"type":"function","name":"setAuthPubkeyHash","stateMutability":"nonpayable","inputs":[{"name":"_pubkeyHash","type":"bytes"},{"name":"_nonce","type":"uint32"}],"outputs":[]},
	{"type":"function","name":"authFacts","stateMutability":"view","inputs":[{"name":"","type":"address"},{"name":"","type":"uint32"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"event","name":"NewPriorityRequest","anonymous":false,"inputs":[{"name":"sender","type":"address","indexed":false},{"name":"serialId","type":"uint64","indexed":false},{"name":"opType","type":"uint8","indexed":false},{"name":"pubData","type":"bytes","indexed":false},{"name":"expirationBlock","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	rollupABI = mustParseABI(rollupABIJSON)
	erc20ABI  = mustParseABI(erc20ABIJSON)
)

func mustParseABI(jsonABI string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Backend is the slice of the base-chain client the ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client binds the rollup contract at a fixed address on a base chain.
// Transaction entry points take an explicit nonce so callers can chain
// dependent transactions (approve then deposit) without racing the pending
// pool.
type Client struct {
	backend      Backend
	address      common.Address
	contract     *bind.BoundContract
	opts         *bind.TransactOpts
	pollInterval time.Duration
}

func NewClient(backend Backend, contractAddress common.Address, opts *bind.TransactOpts, pollInterval time.Duration) *Client {
	return &Client{
		backend:      backend,
		address:      contractAddress,
		contract:     bind.NewBoundContract(contractAddress, rollupABI, backend, backend, backend),
		opts:         opts,
		pollInterval: pollInterval,
	}
}

// ContractAddress is the rollup contract this client is bound to.
func (c *Client) ContractAddress() common.Address {
	return c.address
}

// Sender is the base-chain account transactions are signed with.
func (c *Client) Sender() common.Address {
	return c.opts.From
}

// PendingNonce is the sender's next base-chain nonce including pending
// transactions, for callers chaining dependent transactions.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.opts.From)
	if err != nil {
		return 0, errors.Wrap(err, "pending nonce")
	}
	return nonce, nil
}

func (c *Client) transactOpts(ctx context.Context, nonce *big.Int, value *big.Int) *bind.TransactOpts {
	opts := *c.opts
	opts.Context = ctx
	opts.Nonce = nonce
	opts.Value = value
	return &opts
}

// DepositETH queues a native-token deposit credited to the given rollup
// address. A nil nonce lets the backend pick the pending nonce.
func (c *Client) DepositETH(ctx context.Context, to common.Address, amount *big.Int, nonce *big.Int) (*types.Transaction, error) {
	tx, err := c.contract.Transact(c.transactOpts(ctx, nonce, amount), "depositETH", to)
	if err != nil {
		return nil, errors.Wrap(err, "depositETH")
	}
	return tx, nil
}

// DepositERC20 queues a token deposit. The contract pulls amount from the
// sender, so an allowance must already be in place.
func (c *Client) DepositERC20(ctx context.Context, token common.Address, amount *big.Int, to common.Address, nonce *big.Int) (*types.Transaction, error) {
	tx, err := c.contract.Transact(c.transactOpts(ctx, nonce, nil), "depositERC20", token, amount, to)
	if err != nil {
		return nil, errors.Wrap(err, "depositERC20")
	}
	return tx, nil
}

// RequestFullExit queues a forced withdrawal of the account's whole balance
// in the given token.
func (c *Client) RequestFullExit(ctx context.Context, accountID rolluptypes.AccountID, token common.Address, nonce *big.Int) (*types.Transaction, error) {
	if err := accountID.Check(); err != nil {
		return nil, err
	}
	tx, err := c.contract.Transact(c.transactOpts(ctx, nonce, nil), "fullExit", big.NewInt(int64(accountID)), token)
	if err != nil {
		return nil, errors.Wrap(err, "fullExit")
	}
	return tx, nil
}

// SetAuthPubkeyHash pre-authorizes a rollup signing key on chain, for
// accounts whose owner cannot produce personal-message signatures.
func (c *Client) SetAuthPubkeyHash(ctx context.Context, pubKeyHash rolluptypes.PubKeyHash, accountNonce rolluptypes.Nonce, nonce *big.Int) (*types.Transaction, error) {
	tx, err := c.contract.Transact(c.transactOpts(ctx, nonce, nil), "setAuthPubkeyHash", pubKeyHash[:], uint32(accountNonce))
	if err != nil {
		return nil, errors.Wrap(err, "setAuthPubkeyHash")
	}
	return tx, nil
}

// AuthFact reads the recorded pre-authorization for (account, nonce): the
// hash of the authorized signing key, or zero if none was set.
func (c *Client) AuthFact(ctx context.Context, account common.Address, accountNonce rolluptypes.Nonce) ([32]byte, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "authFacts", account, uint32(accountNonce))
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "authFacts")
	}
	fact, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, errors.Errorf("authFacts returned %T, want bytes32", out[0])
	}
	return fact, nil
}

func (c *Client) erc20At(token common.Address) *bind.BoundContract {
	return bind.NewBoundContract(token, erc20ABI, c.backend, c.backend, c.backend)
}

// Allowance is what the rollup contract may currently pull from owner in the
// given token.
func (c *Client) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	err := c.erc20At(token).Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, c.address)
	if err != nil {
		return nil, errors.Wrap(err, "allowance")
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("allowance returned %T, want *big.Int", out[0])
	}
	return allowance, nil
}

// ApproveDeposits grants the rollup contract an allowance of amount in the
// given token.
func (c *Client) ApproveDeposits(ctx context.Context, token common.Address, amount *big.Int, nonce *big.Int) (*types.Transaction, error) {
	tx, err := c.erc20At(token).Transact(c.transactOpts(ctx, nonce, nil), "approve", c.address, amount)
	if err != nil {
		return nil, errors.Wrap(err, "approve")
	}
	return tx, nil
}

func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	err := c.erc20At(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner)
	if err != nil {
		return nil, errors.Wrap(err, "balanceOf")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("balanceOf returned %T, want *big.Int", out[0])
	}
	return balance, nil
}

// WaitMined polls for the transaction's receipt. Settlement has no protocol
// deadline, so bounding the wait is the caller's job via ctx.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PriorityRequestFromLogs scans a receipt for the first NewPriorityRequest
// emitted by the rollup contract. Logs from other contracts and unrelated
// rollup events are skipped, not errors; a receipt with none at all is
// ErrNoPriorityRequest.
func (c *Client) PriorityRequestFromLogs(receipt *types.Receipt) (*rolluptypes.PriorityRequest, error) {
	for _, entry := range receipt.Logs {
		if entry.Address != c.address {
			continue
		}
		if len(entry.Topics) == 0 || entry.Topics[0] != rolluptypes.PriorityRequestEventID {
			continue
		}
		request, err := rolluptypes.ParsePriorityRequestLog(entry)
		if err != nil {
			return nil, err
		}
		return request, nil
	}
	return nil, ErrNoPriorityRequest
}
