package evm

import (
	"bytes"
	"encoding/hex"
	"regexp"

	"github.com/pendergraft/verideploy/internal/chains"
)

// CBOR metadata marker (Solidity >=0.6.0) - "ipfs" in CBOR
var metadataMarker = []byte{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73}

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-f0-9]{34}\$__`)

// StripMetadata removes the CBOR metadata appended to bytecode
func StripMetadata(bytecode []byte) []byte {
	// solc appends the CBOR map followed by its length as two big-endian bytes
	if n := len(bytecode); n >= 2 {
		cborLen := int(bytecode[n-2])<<8 | int(bytecode[n-1])
		start := n - 2 - cborLen
		if cborLen > 0 && start >= 0 && (bytecode[start] == 0xa1 || bytecode[start] == 0xa2 || bytecode[start] == 0xa3) {
			return bytecode[:start]
		}
	}

	// Fall back to the last occurrence of the metadata marker
	idx := bytes.LastIndex(bytecode, metadataMarker)
	if idx == -1 {
		return bytecode // No metadata found
	}
	return bytecode[:idx]
}

// CompareBytecode compares deployed bytecode to artifact bytecode
func CompareBytecode(deployed, artifact []byte) *chains.VerifyResult {
	// Handle hex-encoded bytecode
	if len(artifact) > 2 && artifact[0] == '0' && artifact[1] == 'x' {
		decoded, err := hex.DecodeString(string(artifact[2:]))
		if err == nil {
			artifact = decoded
		}
	}

	if len(deployed) == 0 {
		return &chains.VerifyResult{
			Match:     false,
			MatchType: "none",
			Message:   "No code at address",
		}
	}

	// Try exact match first
	if bytes.Equal(deployed, artifact) {
		return &chains.VerifyResult{
			Match:     true,
			MatchType: "full",
			Message:   "Bytecode matches exactly including metadata",
		}
	}

	// Strip metadata and compare
	if bytes.Equal(StripMetadata(deployed), StripMetadata(artifact)) {
		return &chains.VerifyResult{
			Match:     true,
			MatchType: "partial",
			Message:   "Executable code matches, metadata differs (different source paths, comments, or build environment)",
		}
	}

	return &chains.VerifyResult{
		Match:     false,
		MatchType: "none",
		Message:   "Bytecode does not match (immutable variables also cause differences)",
	}
}

// HasLibraryPlaceholders checks if bytecode contains library placeholders
func HasLibraryPlaceholders(bytecode []byte) bool {
	return libraryPlaceholder.Match(bytecode)
}
