// Package foundry provides the Foundry builder for EVM contracts.
package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/verideploy/internal/chains"
)

// Builder implements chains.Builder for Foundry projects
type Builder struct{}

// New creates a new Foundry builder
func New() *Builder {
	return &Builder{}
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "foundry"
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Foundry"
}

// ConfigFile returns the config file name
func (b *Builder) ConfigFile() string {
	return "foundry.toml"
}

// Detect checks if a directory is a Foundry project
func (b *Builder) Detect(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, b.ConfigFile()))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Discover finds contract artifacts under out/. Only contracts from src/
// are returned unless listed in opts.IncludeDependencies.
func (b *Builder) Discover(dir string, opts chains.DiscoverOptions) ([]string, error) {
	outDir := filepath.Join(dir, "out")
	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("out directory not found - run 'forge build' first")
	}

	var artifacts []string
	seen := make(map[string]bool)

	err := walkArtifacts(outDir, func(path, contractName string) {
		if seen[contractName] || !opts.Includes(contractName) {
			return
		}

		raw, meta, err := readArtifact(path)
		if err != nil || meta == nil {
			return // Skip artifacts we can't read
		}
		if raw.Bytecode.Object == "" || raw.Bytecode.Object == "0x" {
			return
		}

		sourcePath := getFirstKey(meta.Settings.CompilationTarget)
		if opts.ExcludesPath(sourcePath) {
			return
		}
		if !strings.HasPrefix(sourcePath, "src/") && !opts.IsIncludedDependency(contractName) {
			return
		}

		seen[contractName] = true
		artifacts = append(artifacts, path)
	})

	return artifacts, err
}

// walkArtifacts calls fn for every out/{Source}.sol/{Contract}.json file
func walkArtifacts(outDir string, fn func(path, contractName string)) error {
	return filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(info.Name(), ".json") || !strings.HasSuffix(filepath.Dir(path), ".sol") {
			return nil
		}
		fn(path, strings.TrimSuffix(info.Name(), ".json"))
		return nil
	})
}

// FindArtifact locates the artifact for contractName. A fully qualified
// name ("src/Token.sol:Token") selects between same-named contracts.
func (b *Builder) FindArtifact(dir string, contractName string) (string, error) {
	sourcePath, name := splitQualifiedName(contractName)

	outDir := filepath.Join(dir, "out")
	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return "", fmt.Errorf("out directory not found - run 'forge build' first")
	}

	var matches []string
	err := walkArtifacts(outDir, func(path, found string) {
		if found != name {
			return
		}
		if sourcePath != "" {
			_, meta, err := readArtifact(path)
			if err != nil || meta == nil || getFirstKey(meta.Settings.CompilationTarget) != sourcePath {
				return
			}
		}
		matches = append(matches, path)
	})
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s in %s", chains.ErrArtifactNotFound, contractName, outDir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d artifacts, use path/To.sol:%s", chains.ErrAmbiguousArtifact, name, len(matches), name)
	}
}

// Parse parses a Foundry artifact file
func (b *Builder) Parse(artifactPath string) (*chains.Artifact, error) {
	raw, metadata, err := readArtifact(artifactPath)
	if err != nil {
		return nil, err
	}

	if raw.Bytecode.Object == "" || raw.Bytecode.Object == "0x" {
		return nil, chains.ErrNoBytecode
	}
	if metadata == nil {
		metadata = &FoundryMetadata{} // Non-fatal, continue without metadata
	}

	return &chains.Artifact{
		Name:             strings.TrimSuffix(filepath.Base(artifactPath), ".json"),
		Builder:          b.Name(),
		SourcePath:       getFirstKey(metadata.Settings.CompilationTarget),
		License:          metadata.Sources.FirstLicense(),
		ABI:              raw.ABI,
		Bytecode:         raw.Bytecode.Object,
		DeployedBytecode: raw.DeployedBytecode.Object,
		Compiler: chains.Compiler{
			Version:    metadata.Compiler.Version,
			EVMVersion: metadata.Settings.EVMVersion,
			ViaIR:      metadata.Settings.ViaIR,
			Optimizer: chains.OptimizerConfig{
				Enabled: metadata.Settings.Optimizer.Enabled,
				Runs:    metadata.Settings.Optimizer.Runs,
			},
		},
	}, nil
}

// readArtifact reads an artifact and its rawMetadata. meta is nil when the
// artifact carries no metadata.
func readArtifact(path string) (*FoundryArtifact, *FoundryMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw FoundryArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}
	if raw.RawMetadata == "" {
		return &raw, nil, nil
	}

	var meta FoundryMetadata
	if err := json.Unmarshal([]byte(raw.RawMetadata), &meta); err != nil {
		return &raw, nil, nil
	}
	return &raw, &meta, nil
}

// GetVerificationInput extracts standard JSON input and the full solc
// version from out/build-info. When sourcePath is set only a build-info
// whose output contains contracts[sourcePath][contractName] is used. If no
// build-info exists (forge build without --build-info), the input is
// rebuilt from the artifact's rawMetadata and the sources on disk.
func (b *Builder) GetVerificationInput(dir string, contractName string, sourcePath string) (*chains.VerificationInput, error) {
	vi, err := b.verificationInputFromBuildInfo(dir, contractName, sourcePath)
	if err == nil {
		return vi, nil
	}
	if !errors.Is(err, chains.ErrBuildInfoNotFound) {
		return nil, err
	}

	artifactPath, findErr := b.FindArtifact(dir, qualifiedName(sourcePath, contractName))
	if findErr != nil {
		return nil, err
	}
	return b.verificationInputFromMetadata(dir, artifactPath)
}

func (b *Builder) verificationInputFromBuildInfo(dir, contractName, sourcePath string) (*chains.VerificationInput, error) {
	buildInfoDir := filepath.Join(dir, "out", "build-info")

	entries, err := os.ReadDir(buildInfoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", chains.ErrBuildInfoNotFound, buildInfoDir)
		}
		return nil, fmt.Errorf("reading build-info directory: %w", err)
	}

	var first *chains.BuildInfo
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		bi, err := chains.ReadBuildInfo(filepath.Join(buildInfoDir, entry.Name()))
		if err != nil {
			continue
		}

		if sourcePath != "" {
			if bi.HasContract(sourcePath, contractName) {
				return bi.VerificationInput(sourcePath, contractName)
			}
			continue
		}
		if first == nil {
			first = bi
		}
	}

	if first != nil {
		return first.VerificationInput(sourcePath, contractName)
	}
	return nil, fmt.Errorf("%w for contract %s", chains.ErrBuildInfoNotFound, contractName)
}

// verificationInputFromMetadata builds a minimal standard JSON input from
// the artifact's rawMetadata containing only the contract's own
// dependencies. It matches the metadata hash in the bytecode.
func (b *Builder) verificationInputFromMetadata(dir, artifactPath string) (*chains.VerificationInput, error) {
	raw, metadata, err := readArtifact(artifactPath)
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: artifact has no rawMetadata", chains.ErrBuildInfoNotFound)
	}

	stdJSON, sources, err := GeneratePerContractStandardJSON(dir, metadata)
	if err != nil {
		return nil, err
	}

	version := metadata.Compiler.Version
	short, _, _ := strings.Cut(version, "+")
	return &chains.VerificationInput{
		StandardJSON:    stdJSON,
		SolcVersion:     short,
		SolcLongVersion: version,
		Metadata:        raw.RawMetadata,
		Sources:         sources,
	}, nil
}

// standardJSONInput is the structure we build for per-contract verification input
type standardJSONInput struct {
	Language string                   `json:"language"`
	Sources  map[string]sourceContent `json:"sources"`
	Settings standardJSONSettings     `json:"settings"`
}

type sourceContent struct {
	Content string `json:"content"`
}

type standardJSONSettings struct {
	Optimizer       optimizerSettings              `json:"optimizer"`
	EVMVersion      string                         `json:"evmVersion,omitempty"`
	ViaIR           bool                           `json:"viaIR,omitempty"`
	Libraries       map[string]map[string]string   `json:"libraries,omitempty"`
	Remappings      []string                       `json:"remappings,omitempty"`
	Metadata        MetadataSettings               `json:"metadata,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type optimizerSettings struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// GeneratePerContractStandardJSON reads every source named in metadata from
// dir and assembles standard JSON input with the recorded settings
func GeneratePerContractStandardJSON(dir string, metadata *FoundryMetadata) ([]byte, map[string]string, error) {
	if len(metadata.Sources) == 0 {
		return nil, nil, fmt.Errorf("metadata has no sources")
	}

	sources := make(map[string]string, len(metadata.Sources))
	input := standardJSONInput{
		Language: metadata.Language,
		Sources:  make(map[string]sourceContent, len(metadata.Sources)),
	}
	if input.Language == "" {
		input.Language = "Solidity"
	}

	for srcPath := range metadata.Sources {
		content, err := os.ReadFile(filepath.Join(dir, srcPath))
		if err != nil {
			return nil, nil, fmt.Errorf("reading source %s: %w", srcPath, err)
		}
		sources[srcPath] = string(content)
		input.Sources[srcPath] = sourceContent{Content: string(content)}
	}

	opt := optimizerSettings(metadata.Settings.Optimizer)
	// runs=0 is correct when the optimizer is disabled
	if opt.Enabled && opt.Runs == 0 {
		opt.Runs = 200
	}

	metaOut := MetadataSettings{BytecodeHash: "ipfs"}
	if m := metadata.Settings.Metadata; m != nil {
		if m.BytecodeHash != "" {
			metaOut.BytecodeHash = m.BytecodeHash
		}
		metaOut.UseLiteralContent = m.UseLiteralContent
		metaOut.AppendCBOR = m.AppendCBOR
	}

	input.Settings = standardJSONSettings{
		Optimizer:  opt,
		EVMVersion: metadata.Settings.EVMVersion,
		ViaIR:      metadata.Settings.ViaIR,
		Libraries:  metadata.Settings.Libraries,
		Remappings: metadata.Settings.Remappings,
		Metadata:   metaOut,
		OutputSelection: map[string]map[string][]string{
			"*": {"*": {"abi", "evm.bytecode", "evm.deployedBytecode", "metadata"}},
		},
	}

	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return data, sources, nil
}

// FoundryArtifact represents the structure of a Foundry artifact JSON file
type FoundryArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         BytecodeObject  `json:"bytecode"`
	DeployedBytecode BytecodeObject  `json:"deployedBytecode"`
	RawMetadata      string          `json:"rawMetadata"`
}

// BytecodeObject represents bytecode in a Foundry artifact
type BytecodeObject struct {
	Object string `json:"object"`
}

// FoundryMetadata represents the parsed rawMetadata field
type FoundryMetadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Language string       `json:"language"`
	Settings SettingsMeta `json:"settings"`
	Sources  SourcesMeta  `json:"sources"`
}

// MetadataSettings contains metadata options for standard JSON
type MetadataSettings struct {
	BytecodeHash      string `json:"bytecodeHash,omitempty"`
	UseLiteralContent bool   `json:"useLiteralContent,omitempty"`
	AppendCBOR        *bool  `json:"appendCBOR,omitempty"`
}

// SettingsMeta contains compiler settings
type SettingsMeta struct {
	CompilationTarget map[string]string            `json:"compilationTarget"`
	EVMVersion        string                       `json:"evmVersion"`
	Libraries         map[string]map[string]string `json:"libraries"` // source path -> library name -> address
	Metadata          *MetadataSettings            `json:"metadata,omitempty"`
	Optimizer         OptimizerMeta                `json:"optimizer"`
	Remappings        []string                     `json:"remappings"`
	ViaIR             bool                         `json:"viaIR"`
}

// OptimizerMeta contains optimizer settings
type OptimizerMeta struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// SourcesMeta contains source file information
type SourcesMeta map[string]SourceMeta

// SourceMeta contains individual source file info
type SourceMeta struct {
	Keccak256 string `json:"keccak256"`
	License   string `json:"license"`
}

// FirstLicense returns the first license found in sources
func (s SourcesMeta) FirstLicense() string {
	for _, src := range s {
		if src.License != "" {
			return src.License
		}
	}
	return ""
}

// getFirstKey returns the first key from a map
func getFirstKey(m map[string]string) string {
	for k := range m {
		return k
	}
	return ""
}

func splitQualifiedName(name string) (sourcePath, contractName string) {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func qualifiedName(sourcePath, contractName string) string {
	if sourcePath == "" {
		return contractName
	}
	return sourcePath + ":" + contractName
}
