// Package chains provides the artifact model and the Builder interface
// implemented by each supported build tool (Foundry, Hardhat).
package chains

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact errors
var (
	ErrNoBuilder         = errors.New("no supported builder detected")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrAmbiguousArtifact = errors.New("contract name is ambiguous")
	ErrNoBytecode        = errors.New("contract has no bytecode (likely an interface or abstract contract)")
	ErrUnlinkedLibraries = errors.New("bytecode contains unlinked library placeholders")
	ErrBuildInfoNotFound = errors.New("build-info not found")
	ErrCompilerMismatch  = errors.New("compiler version mismatch")
)

// Builder parses artifacts from a specific build tool
type Builder interface {
	// Metadata
	Name() string        // "foundry", "hardhat"
	DisplayName() string // "Foundry", "Hardhat"

	// Detection
	Detect(dir string) (bool, error)
	ConfigFile() string // "foundry.toml", "hardhat.config.js"

	// Artifact handling
	Discover(dir string, opts DiscoverOptions) ([]string, error)
	Parse(artifactPath string) (*Artifact, error)
	FindArtifact(dir string, contractName string) (string, error)
	GetVerificationInput(dir string, contractName string, sourcePath string) (*VerificationInput, error)
}

// DiscoverOptions configures artifact discovery
type DiscoverOptions struct {
	// Contracts to include (empty = all)
	Contracts []string
	// Patterns to exclude (e.g., "Test*", "Mock*")
	Exclude []string
	// Source path patterns to exclude
	ExcludePaths []string
	// Contracts outside the project sources to include anyway
	IncludeDependencies []string
}

// VerifyResult contains bytecode comparison results
type VerifyResult struct {
	Match     bool   // Whether the bytecode matches
	MatchType string // "full", "partial", "none"
	Message   string // Human-readable explanation
}

// Artifact is a compiled EVM contract
type Artifact struct {
	Name             string          `json:"name"`
	Builder          string          `json:"builder"`
	SourcePath       string          `json:"sourcePath"`
	License          string          `json:"license,omitempty"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode"`
	Compiler         Compiler        `json:"compiler"`
}

// Compiler contains compiler details
type Compiler struct {
	Version    string          `json:"version"` // "0.8.9+commit.e5eed63a"
	Optimizer  OptimizerConfig `json:"optimizer"`
	EVMVersion string          `json:"evmVersion"` // "london", "paris"
	ViaIR      bool            `json:"viaIR"`
}

// OptimizerConfig contains optimizer settings
type OptimizerConfig struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// VerificationInput is everything an explorer needs to recompile a contract
type VerificationInput struct {
	StandardJSON    []byte            // Solidity standard JSON input
	SolcVersion     string            // "0.8.9"
	SolcLongVersion string            // "0.8.9+commit.e5eed63a"
	Metadata        string            // compiler metadata JSON for the contract
	Sources         map[string]string // source path -> content
}

// CompilerVersion returns the version in the "v0.8.9+commit.e5eed63a" form
// block explorers expect
func (v *VerificationInput) CompilerVersion() string {
	if v.SolcLongVersion == "" {
		return ""
	}
	return "v" + strings.TrimPrefix(v.SolcLongVersion, "v")
}

// FullyQualifiedName returns "path/to/Source.sol:Name"
func (a *Artifact) FullyQualifiedName() string {
	if a.SourcePath == "" {
		return a.Name
	}
	return a.SourcePath + ":" + a.Name
}

// CreationCode decodes the creation bytecode
func (a *Artifact) CreationCode() ([]byte, error) {
	return decodeBytecode(a.Bytecode)
}

// RuntimeCode decodes the deployed (runtime) bytecode
func (a *Artifact) RuntimeCode() ([]byte, error) {
	return decodeBytecode(a.DeployedBytecode)
}

func decodeBytecode(code string) ([]byte, error) {
	if code == "" || code == "0x" {
		return nil, ErrNoBytecode
	}
	if strings.Contains(code, "__") {
		return nil, ErrUnlinkedLibraries
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	b, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("decoding bytecode: %w", err)
	}
	return b, nil
}

// Registry holds the available builders in detection order
type Registry struct {
	builders []Builder
}

// NewRegistry creates a new builder registry
func NewRegistry(builders ...Builder) *Registry {
	return &Registry{builders: builders}
}

// Get retrieves a builder by name
func (r *Registry) Get(name string) (Builder, bool) {
	for _, b := range r.builders {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// List returns all registered builders
func (r *Registry) List() []Builder {
	return r.builders
}

// Detect returns the first builder that recognizes dir
func (r *Registry) Detect(dir string) (Builder, error) {
	for _, b := range r.builders {
		detected, err := b.Detect(dir)
		if err != nil {
			continue
		}
		if detected {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoBuilder, dir)
}

// Resolve returns the named builder, or detects one when name is empty
func (r *Registry) Resolve(name, dir string) (Builder, error) {
	if name == "" {
		return r.Detect(dir)
	}
	b, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown builder %q", ErrNoBuilder, name)
	}
	return b, nil
}

// Includes reports whether contractName passes the include and exclude
// name filters
func (o DiscoverOptions) Includes(contractName string) bool {
	if len(o.Contracts) > 0 && !slices.Contains(o.Contracts, contractName) {
		return false
	}
	for _, pattern := range o.Exclude {
		// "Test" matches "MyContractTest", "Mock" matches "MockToken"
		if strings.HasSuffix(contractName, pattern) || strings.HasPrefix(contractName, pattern) {
			return false
		}
		if matched, _ := filepath.Match(pattern, contractName); matched {
			return false
		}
	}
	return true
}

// ExcludesPath reports whether sourcePath matches an excluded path pattern
func (o DiscoverOptions) ExcludesPath(sourcePath string) bool {
	for _, pattern := range o.ExcludePaths {
		if strings.Contains(sourcePath, pattern) {
			return true
		}
		if matched, _ := filepath.Match(pattern, sourcePath); matched {
			return true
		}
	}
	return false
}

// IsIncludedDependency checks if a contract name is listed as a dependency
// (case-insensitive)
func (o DiscoverOptions) IsIncludedDependency(contractName string) bool {
	for _, d := range o.IncludeDependencies {
		if strings.EqualFold(d, contractName) {
			return true
		}
	}
	return false
}
