package evm

import (
	"github.com/pendergraft/verideploy/internal/chains"
	"github.com/pendergraft/verideploy/internal/chains/evm/foundry"
	"github.com/pendergraft/verideploy/internal/chains/evm/hardhat"
)

// NewFoundryBuilder creates a new Foundry builder
func NewFoundryBuilder() chains.Builder {
	return foundry.New()
}

// NewHardhatBuilder creates a new Hardhat builder
func NewHardhatBuilder() chains.Builder {
	return hardhat.New()
}

// DefaultRegistry returns a registry with all built-in builders. Hardhat is
// checked first since mixed projects usually deploy from Hardhat artifacts.
func DefaultRegistry() *chains.Registry {
	return chains.NewRegistry(NewHardhatBuilder(), NewFoundryBuilder())
}
