package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verideploy/internal/chains"
)

// withMetadata appends a CBOR map {"solc": version} and its length
func withMetadata(code []byte, version byte) []byte {
	cbor := []byte{0xa1, 0x64, 's', 'o', 'l', 'c', 0x43, 0x00, 0x08, version}
	out := append([]byte{}, code...)
	out = append(out, cbor...)
	return append(out, 0x00, byte(len(cbor)))
}

func TestStripMetadata(t *testing.T) {
	runtime := []byte{0x60, 0x2a, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

	tests := []struct {
		name     string
		bytecode []byte
		want     []byte
	}{
		{
			name:     "bytecode without metadata",
			bytecode: mustHex("608060405234801561001057600080fd5b50"),
			want:     mustHex("608060405234801561001057600080fd5b50"),
		},
		{
			name:     "bytecode with IPFS marker",
			bytecode: mustHex("608060405234801561001057600080fd5b50a264697066735822"),
			want:     mustHex("608060405234801561001057600080fd5b50"),
		},
		{
			name:     "bytecode with trailing CBOR length",
			bytecode: withMetadata(runtime, 0x09),
			want:     runtime,
		},
		{
			name:     "empty",
			bytecode: nil,
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripMetadata(tt.bytecode)
			if hex.EncodeToString(got) != hex.EncodeToString(tt.want) {
				t.Errorf("StripMetadata() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestHasLibraryPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		bytecode string
		want     bool
	}{
		{
			name:     "no placeholders",
			bytecode: "608060405234801561001057600080fd5b50",
			want:     false,
		},
		{
			name:     "with placeholder",
			bytecode: "608060405234801561001057__$1234567890abcdef1234567890abcdef12$__600080fd5b50",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasLibraryPlaceholders([]byte(tt.bytecode)); got != tt.want {
				t.Errorf("HasLibraryPlaceholders() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareBytecode(t *testing.T) {
	runtime := []byte{0x60, 0x2a, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

	tests := []struct {
		name      string
		deployed  []byte
		artifact  []byte
		wantMatch bool
		wantType  string
	}{
		{
			name:      "exact match",
			deployed:  []byte{0x60, 0x80, 0x60, 0x40},
			artifact:  []byte{0x60, 0x80, 0x60, 0x40},
			wantMatch: true,
			wantType:  "full",
		},
		{
			name:      "no match",
			deployed:  []byte{0x60, 0x80, 0x60, 0x40},
			artifact:  []byte{0x60, 0x80, 0x60, 0x50},
			wantMatch: false,
			wantType:  "none",
		},
		{
			name:      "hex-encoded artifact matches",
			deployed:  []byte{0x60, 0x80, 0x60, 0x40},
			artifact:  []byte("0x60806040"),
			wantMatch: true,
			wantType:  "full",
		},
		{
			name:      "metadata differs",
			deployed:  withMetadata(runtime, 0x09),
			artifact:  withMetadata(runtime, 0x0a),
			wantMatch: true,
			wantType:  "partial",
		},
		{
			name:      "no code at address",
			deployed:  nil,
			artifact:  runtime,
			wantMatch: false,
			wantType:  "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CompareBytecode(tt.deployed, tt.artifact)
			if result.Match != tt.wantMatch {
				t.Errorf("CompareBytecode().Match = %v, want %v", result.Match, tt.wantMatch)
			}
			if result.MatchType != tt.wantType {
				t.Errorf("CompareBytecode().MatchType = %v, want %v", result.MatchType, tt.wantType)
			}
		})
	}
}

type fakeCodeReader struct {
	code map[common.Address][]byte
	err  error
}

func (f *fakeCodeReader) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.code[account], nil
}

func TestCheckDeployment(t *testing.T) {
	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	artifact := &chains.Artifact{
		Name:             "ContractEvents",
		Bytecode:         "0x600a600c600039600a6000f3602a60005260206000f3",
		DeployedBytecode: "0x602a60005260206000f3",
	}

	reader := &fakeCodeReader{code: map[common.Address][]byte{addr: mustHex("602a60005260206000f3")}}
	result, err := CheckDeployment(context.Background(), reader, addr, artifact)
	if err != nil {
		t.Fatalf("CheckDeployment() error = %v", err)
	}
	if !result.Match || result.MatchType != "full" {
		t.Errorf("CheckDeployment() = %+v, want full match", result)
	}

	result, err = CheckDeployment(context.Background(), reader, common.HexToAddress("0x01"), artifact)
	if err != nil {
		t.Fatalf("CheckDeployment() error = %v", err)
	}
	if result.Match {
		t.Error("CheckDeployment() matched an empty account")
	}

	boom := errors.New("boom")
	if _, err := CheckDeployment(context.Background(), &fakeCodeReader{err: boom}, addr, artifact); !errors.Is(err, boom) {
		t.Errorf("CheckDeployment() error = %v, want %v", err, boom)
	}

	_, err = CheckDeployment(context.Background(), reader, addr, &chains.Artifact{Name: "IFace", DeployedBytecode: "0x"})
	if !errors.Is(err, chains.ErrNoBytecode) {
		t.Errorf("CheckDeployment() error = %v, want ErrNoBytecode", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"foundry", "hardhat"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("DefaultRegistry() missing %s", name)
		}
	}
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
