package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtding233/wager-backend/internal/token"
)

// tokenABI covers the admin-controlled token contract methods used here.
const tokenABI = `[
 {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"adminTransfer","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const (
	defaultGasLimit = 200_000
	defaultDecimals = 18
)

var ErrReverted = errors.New("transaction reverted")

// EthConfig configures the on-chain ledger.
type EthConfig struct {
	RPCURL          string
	ContractAddress string
	AdminKeyHex     string
	GasLimit        uint64
	// WaitMined blocks each operation until its receipt is available.
	WaitMined   bool
	MineTimeout time.Duration
}

type boundContract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// chainBackend is the slice of ethclient.Client used after signing.
type chainBackend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Eth settles against an ERC-20 style contract whose admin may mint and
// move balances. Transactions are signed locally and broadcast separately
// so a broadcast failure can be reported as ambiguous with its hash.
type Eth struct {
	contract boundContract
	backend  chainBackend
	auth     *bind.TransactOpts
	token    token.Token
	gasLimit uint64
	wait     func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	timeout  time.Duration
	log      *logrus.Entry

	nonceMu sync.Mutex
	nonce   *uint64 // next nonce; nil means fetch from the node
}

// DialEth connects to the node and loads the token's decimals.
func DialEth(ctx context.Context, cfg EthConfig, log *logrus.Entry) (*Eth, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, pkgerrors.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial %s", cfg.RPCURL)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "chain id")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminKeyHex, "0x"))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "admin key")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "transactor")
	}
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "token abi")
	}
	bc := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client)

	e := newEth(bc, client, auth, cfg, log)
	if cfg.WaitMined {
		e.wait = func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return bind.WaitMined(ctx, client, tx)
		}
	}
	e.token.Decimals = e.loadDecimals(ctx)
	log.WithFields(logrus.Fields{
		"contract": cfg.ContractAddress,
		"admin":    auth.From.Hex(),
		"chain_id": chainID.String(),
		"decimals": e.token.Decimals,
	}).Info("eth ledger connected")
	return e, nil
}

func newEth(c boundContract, b chainBackend, auth *bind.TransactOpts, cfg EthConfig, log *logrus.Entry) *Eth {
	e := &Eth{
		contract: c,
		backend:  b,
		auth:     auth,
		token:    token.Token{Decimals: defaultDecimals},
		gasLimit: cfg.GasLimit,
		timeout:  cfg.MineTimeout,
		log:      log,
	}
	if e.gasLimit == 0 {
		e.gasLimit = defaultGasLimit
	}
	if e.timeout == 0 {
		e.timeout = 2 * time.Minute
	}
	return e
}

// Admin is the signing account, used as the default house address.
func (e *Eth) Admin() string { return strings.ToLower(e.auth.From.Hex()) }

// Token reports the unit scale in use.
func (e *Eth) Token() token.Token { return e.token }

func (e *Eth) loadDecimals(ctx context.Context) int32 {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil || len(out) == 0 {
		e.log.WithError(err).Warn("decimals() unavailable, assuming 18")
		return defaultDecimals
	}
	if d, ok := out[0].(uint8); ok {
		return int32(d)
	}
	return defaultDecimals
}

func (e *Eth) nextNonce(ctx context.Context) (uint64, error) {
	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()
	if e.nonce == nil {
		n, err := e.backend.PendingNonceAt(ctx, e.auth.From)
		if err != nil {
			return 0, err
		}
		e.nonce = &n
	}
	n := *e.nonce
	*e.nonce = n + 1
	return n, nil
}

// resetNonce forgets the local counter after a gap-creating failure.
func (e *Eth) resetNonce() {
	e.nonceMu.Lock()
	e.nonce = nil
	e.nonceMu.Unlock()
}

func (e *Eth) transact(ctx context.Context, op Op, method string, params ...interface{}) (string, error) {
	nonce, err := e.nextNonce(ctx)
	if err != nil {
		return "", &Error{Op: op, Err: pkgerrors.Wrap(err, "pending nonce")}
	}
	opts := *e.auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasLimit = e.gasLimit
	opts.NoSend = true

	tx, err := e.contract.Transact(&opts, method, params...)
	if err != nil {
		e.resetNonce()
		return "", &Error{Op: op, Err: pkgerrors.Wrapf(err, "build %s", method)}
	}
	ref := tx.Hash().Hex()
	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		e.resetNonce()
		return "", &Error{Op: op, Ambiguous: true, TxRef: ref, Err: pkgerrors.Wrapf(err, "send %s", method)}
	}
	if e.wait == nil {
		return ref, nil
	}

	wctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	receipt, err := e.wait(wctx, tx)
	if err != nil {
		return "", &Error{Op: op, Ambiguous: true, TxRef: ref, Err: pkgerrors.Wrap(err, "wait mined")}
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return "", &Error{Op: op, TxRef: ref, Err: ErrReverted}
	}
	return ref, nil
}

func (e *Eth) Credit(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	units, err := e.token.ToBase(amount)
	if err != nil {
		return "", &Error{Op: OpCredit, Err: err}
	}
	return e.transact(ctx, OpCredit, "mint", common.HexToAddress(to), units)
}

func (e *Eth) Debit(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	units, err := e.token.ToBase(amount)
	if err != nil {
		return "", &Error{Op: OpDebit, Err: err}
	}
	return e.transact(ctx, OpDebit, "adminTransfer", common.HexToAddress(from), common.HexToAddress(to), units)
}

func (e *Eth) BalanceOf(ctx context.Context, addr string) (decimal.Decimal, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(addr)); err != nil {
		return decimal.Zero, &Error{Op: OpBalance, Err: err}
	}
	if len(out) == 0 {
		return decimal.Zero, &Error{Op: OpBalance, Err: fmt.Errorf("empty balanceOf result")}
	}
	units, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, &Error{Op: OpBalance, Err: fmt.Errorf("unexpected balanceOf type %T", out[0])}
	}
	return e.token.FromBase(units), nil
}
