// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package wallet orchestrates one account session against an operator and a
// base chain: token deposits and forced exits through the ledger contract,
// native transfers and withdrawals through the operator, and signing-key
// registration through either route.
package wallet

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/intech-id/collexi-rollup/ledger"
	"github.com/intech-id/collexi-rollup/lifecycle"
	"github.com/intech-id/collexi-rollup/params"
	"github.com/intech-id/collexi-rollup/provider"
	"github.com/intech-id/collexi-rollup/rolluptypes"
	"github.com/intech-id/collexi-rollup/signer"
	"github.com/intech-id/collexi-rollup/util/containers"
	"github.com/intech-id/collexi-rollup/util/packing"
)

var (
	// ErrAccountUnresolved means the operator has not assigned an account id
	// yet: the address has never received funds on the rollup.
	ErrAccountUnresolved = errors.New("account has no id assigned by the operator yet")
	// ErrRedundantOperation means the requested change is already in effect.
	ErrRedundantOperation = errors.New("operation is redundant: requested state already in effect")
	// ErrUnknownToken means the operator's registry has no such token.
	ErrUnknownToken = errors.New("token not in operator registry")
	// ErrNoLedger means the session was opened without a base-chain endpoint
	// and a base-chain operation was requested.
	ErrNoLedger = errors.New("wallet has no base-chain connection")
)

// Allowances below the threshold trigger a re-approval; approving the full
// uint256 range makes one approval last for the life of the token.
var (
	approveThreshold = new(big.Int).Lsh(big.NewInt(1), 255)
	approveAmount    = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

type Config struct {
	Provider     provider.Config `koanf:"provider"`
	BaseChainURL string          `koanf:"base-chain-url"`
	FeeTolerance float64         `koanf:"fee-tolerance"`
	MinePoll     time.Duration   `koanf:"mine-poll"`
}

var DefaultConfig = Config{
	Provider:     provider.DefaultConfig,
	BaseChainURL: "",
	FeeTolerance: packing.DefaultFeeTolerance,
	MinePoll:     3 * time.Second,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	provider.ConfigAddOptions(prefix+".provider", f)
	f.String(prefix+".base-chain-url", DefaultConfig.BaseChainURL, "base chain rpc url (empty disables deposits and exits)")
	f.Float64(prefix+".fee-tolerance", DefaultConfig.FeeTolerance, "max relative fee change allowed by packing")
	f.Duration(prefix+".mine-poll", DefaultConfig.MinePoll, "base-chain receipt poll interval")
}

// Wallet is one account session. All caches are session-scoped: the token
// registry and contract addresses are resolved once at connect time, the
// account id on first use.
type Wallet struct {
	config    Config
	signer    *signer.DualSigner
	operator  *provider.Client
	ledger    *ledger.Client
	address   common.Address
	contracts *rolluptypes.ContractAddress
	tokens    map[string]rolluptypes.Token

	accountMu sync.Mutex
	accountID *containers.Promise[rolluptypes.AccountID]
}

// Connect dials the operator (and the base chain if configured) and opens a
// session for the identity pair.
func Connect(ctx context.Context, config Config, identity *signer.Identity, ethSigner signer.EthSigner) (*Wallet, error) {
	transport, err := provider.Dial(ctx, config.Provider)
	if err != nil {
		return nil, err
	}
	operator := provider.NewClient(transport, transport.PollInterval())

	w, err := New(ctx, config, identity, ethSigner, operator, nil)
	if err != nil {
		transport.Close()
		return nil, err
	}
	if config.BaseChainURL != "" {
		if err := w.connectBaseChain(ctx, ethSigner); err != nil {
			transport.Close()
			return nil, err
		}
	}
	return w, nil
}

// New opens a session over already-constructed clients. A nil ledgerClient
// leaves base-chain operations unavailable.
func New(ctx context.Context, config Config, identity *signer.Identity, ethSigner signer.EthSigner, operator *provider.Client, ledgerClient *ledger.Client) (*Wallet, error) {
	if config.FeeTolerance <= 0 {
		config.FeeTolerance = packing.DefaultFeeTolerance
	}
	contracts, err := operator.ContractAddress(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving contract addresses")
	}
	tokens, err := operator.Tokens(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving token registry")
	}
	return &Wallet{
		config:    config,
		signer:    signer.NewDualSigner(identity, ethSigner),
		operator:  operator,
		ledger:    ledgerClient,
		address:   ethSigner.Address(),
		contracts: contracts,
		tokens:    tokens,
	}, nil
}

func (w *Wallet) connectBaseChain(ctx context.Context, ethSigner signer.EthSigner) error {
	keyed, ok := ethSigner.(interface {
		TransactOpts(chainID *big.Int) (*bind.TransactOpts, error)
	})
	if !ok {
		return errors.New("base-chain operations need an in-process key")
	}
	client, err := ethclient.DialContext(ctx, w.config.BaseChainURL)
	if err != nil {
		return errors.Wrap(err, "dialing base chain")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return errors.Wrap(err, "base chain id")
	}
	opts, err := keyed.TransactOpts(chainID)
	if err != nil {
		client.Close()
		return err
	}
	w.ledger = ledger.NewClient(client, w.contracts.MainContract, opts, w.config.MinePoll)
	return nil
}

// Close drops the session. Pending lifecycle trackers keep their cached
// state but can no longer make progress.
func (w *Wallet) Close() {
	w.operator.Close()
}

// Address is the base-chain address that owns this rollup account.
func (w *Wallet) Address() common.Address {
	return w.address
}

// PubKeyHash identifies the session's rollup signing key.
func (w *Wallet) PubKeyHash() rolluptypes.PubKeyHash {
	return w.signer.Identity().PublicKeyHash()
}

// Provider exposes the operator client for raw queries.
func (w *Wallet) Provider() *provider.Client {
	return w.operator
}

// Token resolves a registry entry by symbol or 0x address.
func (w *Wallet) Token(tokenLike string) (rolluptypes.Token, error) {
	if token, ok := w.tokens[tokenLike]; ok {
		return token, nil
	}
	if strings.HasPrefix(tokenLike, "0x") && common.IsHexAddress(tokenLike) {
		address := common.HexToAddress(tokenLike)
		for _, token := range w.tokens {
			if token.Address == address {
				return token, nil
			}
		}
	}
	return rolluptypes.Token{}, errors.Wrap(ErrUnknownToken, tokenLike)
}

// AccountID resolves the operator-assigned id, waiting on an in-flight
// resolution if one exists. At most one account_info query runs at a time;
// a successful resolution is cached for the session, a failed one clears
// the slot so the next call retries.
func (w *Wallet) AccountID(ctx context.Context) (rolluptypes.AccountID, error) {
	w.accountMu.Lock()
	if promise := w.accountID; promise != nil {
		w.accountMu.Unlock()
		return promise.Await(ctx)
	}
	promise := containers.NewPromise[rolluptypes.AccountID]()
	w.accountID = promise
	w.accountMu.Unlock()

	id, err := w.fetchAccountID(ctx)
	if err != nil {
		w.accountMu.Lock()
		w.accountID = nil
		w.accountMu.Unlock()
		promise.ProduceError(err)
		return 0, err
	}
	promise.Produce(id)
	return id, nil
}

func (w *Wallet) fetchAccountID(ctx context.Context) (rolluptypes.AccountID, error) {
	info, err := w.operator.AccountInfo(ctx, w.address)
	if err != nil {
		return 0, err
	}
	if info.ID == nil {
		return 0, errors.Wrapf(ErrAccountUnresolved, "address %v", w.address)
	}
	return *info.ID, nil
}

func (w *Wallet) committedState(ctx context.Context) (*rolluptypes.AccountState, error) {
	info, err := w.operator.AccountInfo(ctx, w.address)
	if err != nil {
		return nil, err
	}
	return &info.Committed, nil
}

// TransactionFee quotes the operator fee for an operation kind against a
// token symbol or address.
func (w *Wallet) TransactionFee(ctx context.Context, txType string, amount *big.Int, tokenLike string) (*big.Int, error) {
	return w.operator.TransactionFee(ctx, txType, amount, tokenLike)
}

type DepositParams struct {
	Token  string
	Amount *big.Int
	To     common.Address

	// ApproveForever grants an effectively unlimited allowance once, so later
	// deposits of the same token skip the approval transaction. Off, the
	// allowance is topped up to the exact deposit amount.
	ApproveForever bool
}

// Deposit moves funds from the base chain into a rollup account. The native
// token goes straight to the ledger contract; other tokens get an allowance
// check first, with the approve and deposit nonces threaded locally so the
// two transactions never race.
func (w *Wallet) Deposit(ctx context.Context, p DepositParams) (*lifecycle.PriorityOperation, error) {
	if w.ledger == nil {
		return nil, ErrNoLedger
	}
	token, err := w.Token(p.Token)
	if err != nil {
		return nil, err
	}
	if token.ID == params.EthTokenID {
		tx, err := w.ledger.DepositETH(ctx, p.To, p.Amount, nil)
		if err != nil {
			return nil, err
		}
		return lifecycle.NewPriorityOperation(tx, w.ledger, w.operator), nil
	}

	allowance, err := w.ledger.Allowance(ctx, token.Address, w.address)
	if err != nil {
		return nil, err
	}
	required, grant := p.Amount, p.Amount
	if p.ApproveForever {
		required, grant = approveThreshold, approveAmount
	}
	var depositNonce *big.Int
	if allowance.Cmp(required) < 0 {
		pending, err := w.ledger.PendingNonce(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := w.ledger.ApproveDeposits(ctx, token.Address, grant, new(big.Int).SetUint64(pending)); err != nil {
			return nil, err
		}
		log.Debug("approved rollup deposits", "token", token.Symbol, "nonce", pending)
		depositNonce = new(big.Int).SetUint64(pending + 1)
	}
	tx, err := w.ledger.DepositERC20(ctx, token.Address, p.Amount, p.To, depositNonce)
	if err != nil {
		return nil, err
	}
	return lifecycle.NewPriorityOperation(tx, w.ledger, w.operator), nil
}

// FullExit requests a forced withdrawal of the account's whole balance in
// one token, bypassing the operator.
func (w *Wallet) FullExit(ctx context.Context, tokenLike string) (*lifecycle.PriorityOperation, error) {
	if w.ledger == nil {
		return nil, ErrNoLedger
	}
	token, err := w.Token(tokenLike)
	if err != nil {
		return nil, err
	}
	accountID, err := w.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := w.ledger.RequestFullExit(ctx, accountID, token.Address, nil)
	if err != nil {
		return nil, err
	}
	return lifecycle.NewPriorityOperation(tx, w.ledger, w.operator), nil
}

type TransferParams struct {
	To     common.Address
	Token  string
	Amount *big.Int
	Fee    *big.Int
}

// Transfer moves funds between rollup accounts. The amount must be exactly
// packable; the fee is adjusted to the closest packable value within the
// configured tolerance.
func (w *Wallet) Transfer(ctx context.Context, p TransferParams) (*lifecycle.RollupTransaction, error) {
	token, err := w.Token(p.Token)
	if err != nil {
		return nil, err
	}
	if !packing.IsAmountPackable(p.Amount) {
		return nil, errors.Wrapf(packing.ErrNotPackable, "transfer amount %v", p.Amount)
	}
	fee, err := w.packableFee(p.Fee)
	if err != nil {
		return nil, err
	}
	accountID, err := w.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	state, err := w.committedState(ctx)
	if err != nil {
		return nil, err
	}
	op := &rolluptypes.Transfer{
		AccountID: accountID,
		From:      w.address,
		To:        p.To,
		TokenID:   token.ID,
		Amount:    p.Amount,
		Fee:       fee,
		Nonce:     state.Nonce,
	}
	return w.signAndSubmit(ctx, op, op.EthereumSignMessage())
}

type WithdrawParams struct {
	To     common.Address
	Token  string
	Amount *big.Int
	Fee    *big.Int
}

// Withdraw moves funds from the rollup to a base-chain address through the
// operator. The amount travels full-width, so any 128-bit value goes; only
// the fee must pack.
func (w *Wallet) Withdraw(ctx context.Context, p WithdrawParams) (*lifecycle.RollupTransaction, error) {
	token, err := w.Token(p.Token)
	if err != nil {
		return nil, err
	}
	fee, err := w.packableFee(p.Fee)
	if err != nil {
		return nil, err
	}
	accountID, err := w.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	state, err := w.committedState(ctx)
	if err != nil {
		return nil, err
	}
	op := &rolluptypes.Withdraw{
		AccountID: accountID,
		From:      w.address,
		To:        p.To,
		TokenID:   token.ID,
		Amount:    p.Amount,
		Fee:       fee,
		Nonce:     state.Nonce,
	}
	return w.signAndSubmit(ctx, op, op.EthereumSignMessage())
}

func (w *Wallet) packableFee(fee *big.Int) (*big.Int, error) {
	if _, err := packing.PackFeeWithTolerance(fee, w.config.FeeTolerance); err != nil {
		return nil, err
	}
	return packing.ClosestPackableFee(fee)
}

// signAndSubmit attaches the rollup signature, collects the base-chain
// signature over summary when one is wanted, and submits. An empty summary
// means the operation carries no submit-level base-chain signature.
func (w *Wallet) signAndSubmit(ctx context.Context, op rolluptypes.Operation, summary string) (*lifecycle.RollupTransaction, error) {
	payload, err := op.SignedBytes()
	if err != nil {
		return nil, err
	}
	var ethSig []byte
	if summary != "" {
		ethSig, err = w.signer.EthSign(ctx, summary)
		if err != nil {
			return nil, err
		}
	}
	sig := w.signer.SignPayload(payload)
	switch typed := op.(type) {
	case *rolluptypes.Transfer:
		typed.Signature = sig
	case *rolluptypes.Withdraw:
		typed.Signature = sig
	case *rolluptypes.ChangePubKey:
		typed.Signature = sig
	case *rolluptypes.Close:
		typed.Signature = sig
	}
	hash, err := w.operator.SubmitTx(ctx, op, ethSig)
	if err != nil {
		return nil, err
	}
	log.Info("submitted rollup operation", "type", op.TxType(), "hash", hash)
	return lifecycle.NewRollupTransaction(hash, w.operator), nil
}

type SigningKeyParams struct {
	// OnChain forces the ledger-contract pre-authorization route even for
	// accounts that could sign the registration message directly.
	OnChain bool
}

// SetSigningKey binds the session's rollup key to the account. Standard
// accounts sign the registration message with their base-chain key;
// contract-based accounts (or OnChain callers) pre-authorize the key hash
// through the ledger contract first.
func (w *Wallet) SetSigningKey(ctx context.Context, p SigningKeyParams) (*lifecycle.RollupTransaction, error) {
	pkh := w.PubKeyHash()
	state, err := w.committedState(ctx)
	if err != nil {
		return nil, err
	}
	if state.PubKeyHash == pkh {
		return nil, errors.Wrapf(ErrRedundantOperation, "signing key %v already set", pkh)
	}
	accountID, err := w.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	nonce := state.Nonce

	var ethSig []byte
	if !p.OnChain {
		message, err := rolluptypes.RegistrationMessage(accountID, nonce, pkh)
		if err != nil {
			return nil, err
		}
		// contract-based accounts come back with a nil signature and fall
		// through to the on-chain route
		ethSig, err = w.signer.EthSign(ctx, string(message))
		if err != nil {
			return nil, err
		}
	}
	if ethSig == nil {
		if err := w.preauthorizeKey(ctx, pkh, nonce); err != nil {
			return nil, err
		}
	}

	op := &rolluptypes.ChangePubKey{
		AccountID:    accountID,
		Account:      w.address,
		NewPkHash:    pkh,
		Nonce:        nonce,
		EthSignature: ethSig,
	}
	return w.signAndSubmit(ctx, op, "")
}

// preauthorizeKey records the key binding on the ledger contract and waits
// for it to settle, so the operator sees the auth fact when the ChangePubKey
// operation arrives.
func (w *Wallet) preauthorizeKey(ctx context.Context, pkh rolluptypes.PubKeyHash, nonce rolluptypes.Nonce) error {
	if w.ledger == nil {
		return ErrNoLedger
	}
	fact, err := w.ledger.AuthFact(ctx, w.address, nonce)
	if err != nil {
		return err
	}
	if fact == crypto.Keccak256Hash(pkh[:]) {
		log.Debug("signing key already pre-authorized", "pubKeyHash", pkh, "nonce", nonce)
		return nil
	}
	tx, err := w.ledger.SetAuthPubkeyHash(ctx, pkh, nonce, nil)
	if err != nil {
		return err
	}
	receipt, err := w.ledger.WaitMined(ctx, tx)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Errorf("signing key pre-authorization reverted, tx %v", tx.Hash())
	}
	log.Debug("signing key pre-authorized on chain", "pubKeyHash", pkh, "nonce", nonce)
	return nil
}
