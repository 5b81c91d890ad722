package chains

import (
	"encoding/json"
	"fmt"
	"os"
)

// BuildInfo represents a build-info file (hh-sol-build-info-1 format),
// written by both Hardhat and Foundry
type BuildInfo struct {
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`     // Short: "0.8.9"
	SolcLongVersion string          `json:"solcLongVersion"` // Full: "0.8.9+commit.e5eed63a"
	Input           json.RawMessage `json:"input"`           // Standard JSON Input
	Output          json.RawMessage `json:"output"`          // Compilation output
}

// buildInfoOutput is the subset of solc output we read
type buildInfoOutput struct {
	Contracts map[string]map[string]struct {
		Metadata string `json:"metadata"`
	} `json:"contracts"`
}

// buildInfoInput is the subset of the standard JSON input we read
type buildInfoInput struct {
	Sources map[string]struct {
		Content string `json:"content"`
	} `json:"sources"`
}

// ReadBuildInfo reads and parses a build-info file
func ReadBuildInfo(path string) (*BuildInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading build-info: %w", err)
	}

	var bi BuildInfo
	if err := json.Unmarshal(data, &bi); err != nil {
		return nil, fmt.Errorf("parsing build-info %s: %w", path, err)
	}
	return &bi, nil
}

// HasContract reports whether the compilation output contains
// contracts[sourcePath][name]
func (b *BuildInfo) HasContract(sourcePath, name string) bool {
	_, ok := b.contractMetadata(sourcePath, name)
	return ok
}

// ContractMetadata returns the compiler metadata JSON for a contract
func (b *BuildInfo) ContractMetadata(sourcePath, name string) string {
	m, _ := b.contractMetadata(sourcePath, name)
	return m
}

func (b *BuildInfo) contractMetadata(sourcePath, name string) (string, bool) {
	if len(b.Output) == 0 {
		return "", false
	}
	var out buildInfoOutput
	if err := json.Unmarshal(b.Output, &out); err != nil {
		return "", false
	}
	contracts, ok := out.Contracts[sourcePath]
	if !ok {
		return "", false
	}
	c, ok := contracts[name]
	if !ok {
		return "", false
	}
	return c.Metadata, true
}

// Sources returns the source contents embedded in the standard JSON input
func (b *BuildInfo) Sources() (map[string]string, error) {
	var in buildInfoInput
	if err := json.Unmarshal(b.Input, &in); err != nil {
		return nil, fmt.Errorf("parsing standard JSON input: %w", err)
	}
	sources := make(map[string]string, len(in.Sources))
	for path, src := range in.Sources {
		sources[path] = src.Content
	}
	return sources, nil
}

// standardJSONKeys are the only top-level keys solc accepts in standard JSON
// input. Foundry adds others (allowPaths, basePath, includePaths, version).
var standardJSONKeys = map[string]bool{"language": true, "sources": true, "settings": true}

// StandardJSON returns the standard JSON input stripped of keys the
// Solidity compiler rejects
func (b *BuildInfo) StandardJSON() ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b.Input, &m); err != nil {
		return nil, fmt.Errorf("parsing standard JSON input: %w", err)
	}
	for key := range m {
		if !standardJSONKeys[key] {
			delete(m, key)
		}
	}
	return json.Marshal(m)
}

// VerificationInput assembles a VerificationInput for one contract
func (b *BuildInfo) VerificationInput(sourcePath, name string) (*VerificationInput, error) {
	stdJSON, err := b.StandardJSON()
	if err != nil {
		return nil, err
	}
	sources, err := b.Sources()
	if err != nil {
		return nil, err
	}
	return &VerificationInput{
		StandardJSON:    stdJSON,
		SolcVersion:     b.SolcVersion,
		SolcLongVersion: b.SolcLongVersion,
		Metadata:        b.ContractMetadata(sourcePath, name),
		Sources:         sources,
	}, nil
}
