// Package evm checks deployed EVM bytecode against compiled artifacts.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verideploy/internal/chains"
)

// CodeReader fetches the code stored at an address. ethclient.Client
// satisfies it.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// GetDeployedBytecode fetches the latest code at address
func GetDeployedBytecode(ctx context.Context, reader CodeReader, address common.Address) ([]byte, error) {
	code, err := reader.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getCode %s: %w", address.Hex(), err)
	}
	return code, nil
}

// CheckDeployment compares the code at address with the artifact's
// deployed bytecode
func CheckDeployment(ctx context.Context, reader CodeReader, address common.Address, artifact *chains.Artifact) (*chains.VerifyResult, error) {
	expected, err := artifact.RuntimeCode()
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", artifact.Name, err)
	}

	deployed, err := GetDeployedBytecode(ctx, reader, address)
	if err != nil {
		return nil, err
	}

	return CompareBytecode(deployed, expected), nil
}
