// Package deploy sends contract-creation transactions and waits for them
// to be mined.
package deploy

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Deployment errors
var (
	ErrDeploymentReverted = errors.New("contract deployment reverted")
	ErrChainIDMismatch    = errors.New("chain id mismatch")
	ErrEmptyBytecode      = errors.New("empty creation bytecode")
)

// gasBufferPercent is added on top of the node's gas estimate
const gasBufferPercent = 20

// ChainIDReader reports the chain id of the connected node
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Backend is the subset of ethclient.Client the deployer needs
type Backend interface {
	bind.DeployBackend
	ChainIDReader
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Result describes a mined deployment
type Result struct {
	Address           common.Address
	TxHash            common.Hash
	BlockNumber       uint64
	Deployer          common.Address
	ChainID           *big.Int
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Deployer signs and sends contract creations from one account
type Deployer struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	logger   *slog.Logger
}

// Option configures a Deployer
type Option func(*Deployer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// WithGasLimit skips estimation and uses a fixed gas limit
func WithGasLimit(limit uint64) Option {
	return func(d *Deployer) {
		d.gasLimit = limit
	}
}

// New creates a deployer signing with key for chainID
func New(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) *Deployer {
	d := &Deployer{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// From returns the deploying account
func (d *Deployer) From() common.Address {
	return d.from
}

// Deploy sends bytecode followed by the ABI-encoded constructor args and
// blocks until the transaction is mined
func (d *Deployer) Deploy(ctx context.Context, bytecode []byte, args []byte) (*Result, error) {
	if len(bytecode) == 0 {
		return nil, ErrEmptyBytecode
	}

	data := make([]byte, 0, len(bytecode)+len(args))
	data = append(data, bytecode...)
	data = append(data, args...)

	nonce, err := d.backend.PendingNonceAt(ctx, d.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	fees, err := d.suggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := d.gasLimit
	if gasLimit == 0 {
		estimate, err := d.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      d.from,
			To:        nil, // Contract creation
			GasPrice:  fees.gasPrice,
			GasFeeCap: fees.feeCap,
			GasTipCap: fees.tipCap,
			Value:     big.NewInt(0),
			Data:      data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = estimate * (100 + gasBufferPercent) / 100
	}

	tx := fees.newTx(d.chainID, nonce, gasLimit, data)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(d.chainID), d.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := d.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	d.logger.Info("deployment transaction sent",
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
	)

	receipt, err := bind.WaitMined(ctx, d.backend, signedTx)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrDeploymentReverted, signedTx.Hash().Hex())
	}

	result := &Result{
		Address:           receipt.ContractAddress,
		TxHash:            signedTx.Hash(),
		Deployer:          d.from,
		ChainID:           new(big.Int).Set(d.chainID),
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if result.EffectiveGasPrice == nil {
		result.EffectiveGasPrice = fees.effectivePrice()
	}

	d.logger.Info("contract deployed",
		slog.String("address", result.Address.Hex()),
		slog.Uint64("block", result.BlockNumber),
		slog.Uint64("gas_used", result.GasUsed),
	)

	return result, nil
}

// feeParams holds either legacy or EIP-1559 pricing
type feeParams struct {
	gasPrice *big.Int // legacy
	tipCap   *big.Int // EIP-1559
	feeCap   *big.Int // EIP-1559
}

// suggestFees uses EIP-1559 pricing when the latest header carries a base
// fee, else the legacy gas price
func (d *Deployer) suggestFees(ctx context.Context) (*feeParams, error) {
	head, err := d.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get latest header: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := d.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		return &feeParams{gasPrice: gasPrice}, nil
	}

	tip, err := d.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return &feeParams{tipCap: tip, feeCap: feeCap}, nil
}

func (f *feeParams) newTx(chainID *big.Int, nonce, gasLimit uint64, data []byte) *types.Transaction {
	if f.gasPrice != nil {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: f.gasPrice,
			Gas:      gasLimit,
			Value:    big.NewInt(0),
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: f.tipCap,
		GasFeeCap: f.feeCap,
		Gas:       gasLimit,
		Value:     big.NewInt(0),
		Data:      data,
	})
}

func (f *feeParams) effectivePrice() *big.Int {
	if f.gasPrice != nil {
		return f.gasPrice
	}
	return f.feeCap
}

// CheckChainID returns the node's chain id, failing with ErrChainIDMismatch
// when expected is non-zero and differs
func CheckChainID(ctx context.Context, reader ChainIDReader, expected int64) (*big.Int, error) {
	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if expected != 0 && chainID.Cmp(big.NewInt(expected)) != 0 {
		return nil, fmt.Errorf("%w: network expects %d, endpoint reports %s", ErrChainIDMismatch, expected, chainID)
	}
	return chainID, nil
}
