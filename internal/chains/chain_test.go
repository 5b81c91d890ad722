package chains

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuilder struct {
	name     string
	detected bool
}

func (f *fakeBuilder) Name() string                    { return f.name }
func (f *fakeBuilder) DisplayName() string             { return f.name }
func (f *fakeBuilder) ConfigFile() string              { return f.name + ".toml" }
func (f *fakeBuilder) Detect(dir string) (bool, error) { return f.detected, nil }
func (f *fakeBuilder) Discover(dir string, opts DiscoverOptions) ([]string, error) {
	return nil, nil
}
func (f *fakeBuilder) Parse(artifactPath string) (*Artifact, error) { return nil, nil }
func (f *fakeBuilder) FindArtifact(dir, contractName string) (string, error) {
	return "", nil
}
func (f *fakeBuilder) GetVerificationInput(dir, contractName, sourcePath string) (*VerificationInput, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	a := &fakeBuilder{name: "a"}
	b := &fakeBuilder{name: "b", detected: true}
	r := NewRegistry(a, b)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	detected, err := r.Detect(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "b", detected.Name())

	resolved, err := r.Resolve("a", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "a", resolved.Name())

	_, err = r.Resolve("missing", t.TempDir())
	assert.ErrorIs(t, err, ErrNoBuilder)

	_, err = NewRegistry(a).Detect(t.TempDir())
	assert.ErrorIs(t, err, ErrNoBuilder)
}

func TestArtifactCode(t *testing.T) {
	tests := []struct {
		name     string
		bytecode string
		want     []byte
		wantErr  error
	}{
		{name: "prefixed", bytecode: "0x6080", want: []byte{0x60, 0x80}},
		{name: "unprefixed", bytecode: "6080", want: []byte{0x60, 0x80}},
		{name: "empty", bytecode: "0x", wantErr: ErrNoBytecode},
		{name: "unlinked", bytecode: "0x6080__$1234567890abcdef1234567890abcdef12$__", wantErr: ErrUnlinkedLibraries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Artifact{Bytecode: tt.bytecode, DeployedBytecode: tt.bytecode}
			got, err := a.CreationCode()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			runtime, err := a.RuntimeCode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, runtime)
		})
	}

	_, err := (&Artifact{Bytecode: "0xzz"}).CreationCode()
	assert.Error(t, err)
}

func TestFullyQualifiedName(t *testing.T) {
	a := &Artifact{Name: "ContractEvents", SourcePath: "contracts/ContractEvents.sol"}
	assert.Equal(t, "contracts/ContractEvents.sol:ContractEvents", a.FullyQualifiedName())

	assert.Equal(t, "Bare", (&Artifact{Name: "Bare"}).FullyQualifiedName())
}

func TestCompilerVersion(t *testing.T) {
	vi := &VerificationInput{SolcLongVersion: "0.8.9+commit.e5eed63a"}
	assert.Equal(t, "v0.8.9+commit.e5eed63a", vi.CompilerVersion())

	vi = &VerificationInput{SolcLongVersion: "v0.8.9+commit.e5eed63a"}
	assert.Equal(t, "v0.8.9+commit.e5eed63a", vi.CompilerVersion())

	assert.Empty(t, (&VerificationInput{}).CompilerVersion())
}

func TestBuildInfo(t *testing.T) {
	buildInfo := map[string]any{
		"_format":         "hh-sol-build-info-1",
		"id":              "abc123",
		"solcVersion":     "0.8.9",
		"solcLongVersion": "0.8.9+commit.e5eed63a",
		"input": map[string]any{
			"language":   "Solidity",
			"sources":    map[string]any{"contracts/A.sol": map[string]any{"content": "contract A {}"}},
			"settings":   map[string]any{"optimizer": map[string]any{"enabled": false, "runs": 200}},
			"allowPaths": []string{"/tmp"},
			"version":    "0.8.9",
		},
		"output": map[string]any{
			"contracts": map[string]any{
				"contracts/A.sol": map[string]any{
					"A": map[string]any{"metadata": `{"compiler":{"version":"0.8.9+commit.e5eed63a"}}`},
				},
			},
		},
	}
	data, err := json.Marshal(buildInfo)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "abc123.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	bi, err := ReadBuildInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "0.8.9", bi.SolcVersion)

	assert.True(t, bi.HasContract("contracts/A.sol", "A"))
	assert.False(t, bi.HasContract("contracts/A.sol", "B"))
	assert.False(t, bi.HasContract("contracts/B.sol", "A"))

	stdJSON, err := bi.StandardJSON()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(stdJSON, &m))
	assert.Contains(t, m, "language")
	assert.Contains(t, m, "sources")
	assert.Contains(t, m, "settings")
	assert.NotContains(t, m, "allowPaths")
	assert.NotContains(t, m, "version")

	vi, err := bi.VerificationInput("contracts/A.sol", "A")
	require.NoError(t, err)
	assert.Equal(t, "0.8.9+commit.e5eed63a", vi.SolcLongVersion)
	assert.Equal(t, map[string]string{"contracts/A.sol": "contract A {}"}, vi.Sources)
	assert.Contains(t, vi.Metadata, "0.8.9+commit.e5eed63a")

	_, err = ReadBuildInfo(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
