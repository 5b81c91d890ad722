package deploy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verideploy/internal/deploy/deploytest"
)

func TestDeploy(t *testing.T) {
	chain := deploytest.NewChain(t)
	ctx := context.Background()

	d := New(chain, chain.Key, big.NewInt(deploytest.ChainID))
	assert.Equal(t, chain.Address, d.From())

	result, err := d.Deploy(ctx, hexutil.MustDecode(deploytest.CreationCode), nil)
	require.NoError(t, err)

	assert.NotEqual(t, common.Address{}, result.Address)
	assert.Equal(t, chain.Address, result.Deployer)
	assert.Equal(t, int64(deploytest.ChainID), result.ChainID.Int64())
	assert.Greater(t, result.GasUsed, uint64(0))
	assert.Greater(t, result.BlockNumber, uint64(0))
	require.NotNil(t, result.EffectiveGasPrice)
	assert.Equal(t, 1, chain.Sends())

	code, err := chain.CodeAt(ctx, result.Address, nil)
	require.NoError(t, err)
	assert.Equal(t, hexutil.MustDecode(deploytest.RuntimeCode), code)

	// Second deployment uses the next nonce and a new address
	second, err := d.Deploy(ctx, hexutil.MustDecode(deploytest.CreationCode), nil)
	require.NoError(t, err)
	assert.NotEqual(t, result.Address, second.Address)
}

func TestDeploy_Reverted(t *testing.T) {
	chain := deploytest.NewChain(t)

	d := New(chain, chain.Key, big.NewInt(deploytest.ChainID), WithGasLimit(100_000))
	_, err := d.Deploy(context.Background(), hexutil.MustDecode(deploytest.RevertingCode), nil)
	assert.ErrorIs(t, err, ErrDeploymentReverted)
}

func TestDeploy_EstimateFails(t *testing.T) {
	chain := deploytest.NewChain(t)

	d := New(chain, chain.Key, big.NewInt(deploytest.ChainID))
	_, err := d.Deploy(context.Background(), hexutil.MustDecode(deploytest.RevertingCode), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estimate gas")
	assert.Equal(t, 0, chain.Sends())
}

func TestDeploy_EmptyBytecode(t *testing.T) {
	chain := deploytest.NewChain(t)

	d := New(chain, chain.Key, big.NewInt(deploytest.ChainID))
	_, err := d.Deploy(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyBytecode)
}

type staticChainID struct {
	id  *big.Int
	err error
}

func (s staticChainID) ChainID(ctx context.Context) (*big.Int, error) {
	return s.id, s.err
}

func TestCheckChainID(t *testing.T) {
	tests := []struct {
		name     string
		reader   ChainIDReader
		expected int64
		wantErr  error
	}{
		{name: "match", reader: staticChainID{id: big.NewInt(59140)}, expected: 59140},
		{name: "unset accepts any", reader: staticChainID{id: big.NewInt(1)}, expected: 0},
		{name: "mismatch", reader: staticChainID{id: big.NewInt(1)}, expected: 59140, wantErr: ErrChainIDMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckChainID(context.Background(), tt.reader, tt.expected)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	boom := errors.New("connection refused")
	_, err := CheckChainID(context.Background(), staticChainID{err: boom}, 1)
	assert.ErrorIs(t, err, boom)

	chain := deploytest.NewChain(t)
	id, err := CheckChainID(context.Background(), chain, deploytest.ChainID)
	require.NoError(t, err)
	assert.Equal(t, int64(deploytest.ChainID), id.Int64())
}
