// Package hardhat provides the Hardhat builder for EVM contracts.
//
// Hardhat writes one artifact per contract to
// artifacts/{sourceName}/{Contract}.json next to a {Contract}.dbg.json file
// pointing at the build-info that produced it.
package hardhat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/verideploy/internal/chains"
)

// ConfigFiles are the config names Hardhat accepts, in lookup order
var ConfigFiles = []string{"hardhat.config.js", "hardhat.config.ts", "hardhat.config.cjs", "hardhat.config.mjs"}

const (
	artifactsDir = "artifacts"
	sourcesDir   = "contracts/"
)

// Builder implements chains.Builder for Hardhat projects
type Builder struct{}

// New creates a new Hardhat builder
func New() *Builder {
	return &Builder{}
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "hardhat"
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Hardhat"
}

// ConfigFile returns the default config file name
func (b *Builder) ConfigFile() string {
	return ConfigFiles[0]
}

// Detect checks for any of the Hardhat config files
func (b *Builder) Detect(dir string) (bool, error) {
	for _, name := range ConfigFiles {
		_, err := os.Stat(filepath.Join(dir, name))
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
	}
	return false, nil
}

// Artifact is the hh-sol-artifact-1 file format
type Artifact struct {
	Format           string          `json:"_format"`
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode"`
}

// debugFile is the hh-sol-dbg-1 file written next to each artifact
type debugFile struct {
	BuildInfo string `json:"buildInfo"` // relative to the dbg file
}

// contractMetadata is the subset of solc metadata used to fill compiler details
type contractMetadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Settings struct {
		EVMVersion string `json:"evmVersion"`
		ViaIR      bool   `json:"viaIR"`
		Optimizer  struct {
			Enabled bool `json:"enabled"`
			Runs    int  `json:"runs"`
		} `json:"optimizer"`
	} `json:"settings"`
	Sources map[string]struct {
		License string `json:"license"`
	} `json:"sources"`
}

// walkArtifacts calls fn for every contract artifact under artifacts/,
// skipping build-info and dbg files
func walkArtifacts(root string, fn func(path, contractName string)) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".dbg.json") {
			return nil
		}
		if !strings.HasSuffix(filepath.Dir(path), ".sol") {
			return nil
		}
		fn(path, strings.TrimSuffix(name, ".json"))
		return nil
	})
}

func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}
	return &a, nil
}

func artifactsRoot(dir string) (string, error) {
	root := filepath.Join(dir, artifactsDir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return "", fmt.Errorf("artifacts directory not found - run 'npx hardhat compile' first")
	}
	return root, nil
}

// Discover finds contract artifacts. Only sources under contracts/ are
// returned unless listed in opts.IncludeDependencies.
func (b *Builder) Discover(dir string, opts chains.DiscoverOptions) ([]string, error) {
	root, err := artifactsRoot(dir)
	if err != nil {
		return nil, err
	}

	var artifacts []string
	seen := make(map[string]bool)

	err = walkArtifacts(root, func(path, contractName string) {
		if seen[contractName] || !opts.Includes(contractName) {
			return
		}
		a, err := readArtifact(path)
		if err != nil || a.Bytecode == "" || a.Bytecode == "0x" {
			return
		}
		if opts.ExcludesPath(a.SourceName) {
			return
		}
		if !strings.HasPrefix(a.SourceName, sourcesDir) && !opts.IsIncludedDependency(contractName) {
			return
		}
		seen[contractName] = true
		artifacts = append(artifacts, path)
	})

	return artifacts, err
}

// FindArtifact locates the artifact for contractName, optionally fully
// qualified as "contracts/Token.sol:Token"
func (b *Builder) FindArtifact(dir string, contractName string) (string, error) {
	root, err := artifactsRoot(dir)
	if err != nil {
		return "", err
	}

	sourcePath, name := contractName, contractName
	if i := strings.LastIndex(contractName, ":"); i >= 0 {
		sourcePath, name = contractName[:i], contractName[i+1:]
		path := filepath.Join(root, filepath.FromSlash(sourcePath), name+".json")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, contractName)
		}
		return path, nil
	}

	var matches []string
	err = walkArtifacts(root, func(path, found string) {
		if found == name {
			matches = append(matches, path)
		}
	})
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s in %s", chains.ErrArtifactNotFound, contractName, root)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d artifacts, use contracts/To.sol:%s", chains.ErrAmbiguousArtifact, name, len(matches), name)
	}
}

// Parse parses a Hardhat artifact. Compiler details come from the linked
// build-info when present.
func (b *Builder) Parse(artifactPath string) (*chains.Artifact, error) {
	raw, err := readArtifact(artifactPath)
	if err != nil {
		return nil, err
	}
	if raw.Bytecode == "" || raw.Bytecode == "0x" {
		return nil, chains.ErrNoBytecode
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(artifactPath), ".json")
	}

	artifact := &chains.Artifact{
		Name:             name,
		Builder:          b.Name(),
		SourcePath:       raw.SourceName,
		ABI:              raw.ABI,
		Bytecode:         raw.Bytecode,
		DeployedBytecode: raw.DeployedBytecode,
	}

	bi, err := buildInfoFor(artifactPath)
	if err != nil {
		return artifact, nil // Non-fatal, continue without compiler details
	}

	var meta contractMetadata
	if m := bi.ContractMetadata(raw.SourceName, name); m != "" && json.Unmarshal([]byte(m), &meta) == nil {
		artifact.Compiler = chains.Compiler{
			Version:    meta.Compiler.Version,
			EVMVersion: meta.Settings.EVMVersion,
			ViaIR:      meta.Settings.ViaIR,
			Optimizer: chains.OptimizerConfig{
				Enabled: meta.Settings.Optimizer.Enabled,
				Runs:    meta.Settings.Optimizer.Runs,
			},
		}
		artifact.License = meta.Sources[raw.SourceName].License
	}
	if artifact.Compiler.Version == "" {
		artifact.Compiler.Version = bi.SolcLongVersion
	}

	return artifact, nil
}

// buildInfoFor follows the dbg file next to artifactPath
func buildInfoFor(artifactPath string) (*chains.BuildInfo, error) {
	dbgPath := strings.TrimSuffix(artifactPath, ".json") + ".dbg.json"
	data, err := os.ReadFile(dbgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrBuildInfoNotFound, err)
	}

	var dbg debugFile
	if err := json.Unmarshal(data, &dbg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", dbgPath, err)
	}
	if dbg.BuildInfo == "" {
		return nil, fmt.Errorf("%w: %s has no buildInfo", chains.ErrBuildInfoNotFound, dbgPath)
	}

	path := filepath.Join(filepath.Dir(dbgPath), filepath.FromSlash(dbg.BuildInfo))
	bi, err := chains.ReadBuildInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrBuildInfoNotFound, err)
	}
	return bi, nil
}

// GetVerificationInput returns the standard JSON input from the build-info
// that compiled the contract
func (b *Builder) GetVerificationInput(dir string, contractName string, sourcePath string) (*chains.VerificationInput, error) {
	query := contractName
	if sourcePath != "" {
		query = sourcePath + ":" + contractName
	}

	artifactPath, err := b.FindArtifact(dir, query)
	if err != nil {
		return nil, err
	}
	raw, err := readArtifact(artifactPath)
	if err != nil {
		return nil, err
	}
	if sourcePath == "" {
		sourcePath = raw.SourceName
	}
	if raw.ContractName != "" {
		contractName = raw.ContractName
	}

	bi, err := buildInfoFor(artifactPath)
	if err != nil {
		return nil, err
	}
	if !bi.HasContract(sourcePath, contractName) {
		return nil, fmt.Errorf("%w: build-info %s does not contain %s:%s", chains.ErrBuildInfoNotFound, bi.ID, sourcePath, contractName)
	}
	return bi.VerificationInput(sourcePath, contractName)
}
