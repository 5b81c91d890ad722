// Package deploytest provides an in-process EVM chain for tests.
package deploytest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// ChainID of the simulated backend
const ChainID = 1337

// Contract bytecode that returns 10 bytes of runtime code storing 42
const (
	CreationCode = "0x600a600c600039600a6000f3602a60005260206000f3"
	RuntimeCode  = "0x602a60005260206000f3"
	// RevertingCode reverts in its constructor
	RevertingCode = "0x60006000fd"
)

// Chain is a funded simulated chain that mines a block for every sent
// transaction
type Chain struct {
	simulated.Client

	Backend *simulated.Backend
	Key     *ecdsa.PrivateKey
	Address common.Address

	mu    sync.Mutex
	sends int
}

// NewChain starts a simulated backend with one funded account
func NewChain(t testing.TB) *Chain {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	balance := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	backend := simulated.NewBackend(types.GenesisAlloc{
		addr: {Balance: balance},
	})
	t.Cleanup(func() { _ = backend.Close() })

	return &Chain{
		Client:  backend.Client(),
		Backend: backend,
		Key:     key,
		Address: addr,
	}
}

// SendTransaction sends tx and commits a block containing it
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	c.Backend.Commit()

	c.mu.Lock()
	c.sends++
	c.mu.Unlock()
	return nil
}

// Sends returns the number of transactions sent through the chain
func (c *Chain) Sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

// KeyHex returns the funded account's private key as hex without 0x
func (c *Chain) KeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(c.Key))
}
