// Package validation provides input validation for verideploy.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Network names: letters, digits, hyphens and underscores, starting with a letter
var networkNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// ValidateNetworkName validates a network profile name
func ValidateNetworkName(name string) error {
	if name == "" {
		return errors.New("network name cannot be empty")
	}
	if !networkNameRegex.MatchString(name) {
		return errors.New("invalid network name: must start with a letter and contain only letters, digits, '-' or '_' (max 64 chars)")
	}
	return nil
}

// ValidateCompilerVersion validates a solc version such as "0.8.9" or
// "v0.8.9+commit.e5eed63a"
func ValidateCompilerVersion(v string) error {
	normalized := NormalizeVersion(v)
	if normalized == "" {
		return errors.New("compiler version cannot be empty")
	}

	// semver library expects version to start with 'v'
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid compiler version: must be in format X.Y.Z or X.Y.Z+commit.<hash>")
	}

	// Ensure we have major.minor.patch (semver.IsValid accepts "v0.8")
	mainPart := strings.SplitN(strings.SplitN(normalized, "+", 2)[0], "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid compiler version: must be in format X.Y.Z (major.minor.patch)")
	}

	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v' and spaces)
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// ShortVersion returns the major.minor.patch part of a compiler version,
// dropping the "+commit..." build suffix
func ShortVersion(v string) string {
	return strings.SplitN(NormalizeVersion(v), "+", 2)[0]
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	n1 := "v" + NormalizeVersion(v1)
	n2 := "v" + NormalizeVersion(v2)
	return semver.Compare(n1, n2)
}

// SameCompiler reports whether two compiler versions name the same release,
// ignoring build metadata such as the commit hash
func SameCompiler(v1, v2 string) bool {
	return CompareVersions(ShortVersion(v1), ShortVersion(v2)) == 0
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}
