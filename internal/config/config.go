// Package config loads the verideploy project configuration: named network
// profiles, explorer settings and optional features.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/pendergraft/verideploy/internal/validation"
)

// Configuration errors
var (
	ErrUnknownNetwork    = errors.New("unknown network")
	ErrMissingEndpoint   = errors.New("missing RPC endpoint")
	ErrMissingCredential = errors.New("missing signing credential")
	ErrInvalidCredential = errors.New("invalid signing credential")
	ErrInvalidConfig     = errors.New("invalid config")
)

// ProjectConfigFiles is the search order for project config files
var ProjectConfigFiles = []string{"verideploy.toml", "deploy.toml"}

// DefaultContract is deployed when no contract is configured
const DefaultContract = "ContractEvents"

// LocalNetwork is the name of the always-available local development network
const LocalNetwork = "localhost"

// Project is the project-level TOML configuration
type Project struct {
	Solidity       string             `toml:"solidity"`
	DefaultNetwork string             `toml:"default_network"`
	Contract       string             `toml:"contract,omitempty"`
	ProjectDir     string             `toml:"project_dir,omitempty"`
	Builder        string             `toml:"builder,omitempty"`
	Networks       map[string]Network `toml:"networks"`
	Etherscan      EtherscanConfig    `toml:"etherscan"`
	Sourcify       SourcifyConfig     `toml:"sourcify"`
	GasReporter    GasReporterConfig  `toml:"gas_reporter"`
	History        HistoryConfig      `toml:"history"`
}

// Network is a named set of connection parameters for one chain
type Network struct {
	Name     string   `toml:"-"`
	URL      string   `toml:"url"`
	Accounts []string `toml:"accounts"`
	ChainID  int64    `toml:"chain_id,omitempty"`
	Currency string   `toml:"currency,omitempty"`
}

// EtherscanConfig holds Etherscan-compatible explorer settings
type EtherscanConfig struct {
	APIKey       string            `toml:"api_key"`
	APIKeys      map[string]string `toml:"api_keys,omitempty"` // network name -> key
	CustomChains []CustomChain     `toml:"custom_chains,omitempty"`
}

// CustomChain registers an explorer for a chain that is not built in
type CustomChain struct {
	Network    string `toml:"network"`
	ChainID    int64  `toml:"chain_id"`
	APIURL     string `toml:"api_url"`
	BrowserURL string `toml:"browser_url"`
}

// SourcifyConfig holds Sourcify settings
type SourcifyConfig struct {
	Enabled    bool   `toml:"enabled"`
	ServerURL  string `toml:"server_url,omitempty"`
	BrowserURL string `toml:"browser_url,omitempty"`
}

// GasReporterConfig toggles the deployment gas report
type GasReporterConfig struct {
	Enabled bool `toml:"enabled"`
}

// HistoryConfig configures the optional deployment ledger
type HistoryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Type        string `toml:"type,omitempty"` // "sqlite" or "postgres"
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	DatabaseURL string `toml:"database_url,omitempty"`
}

// Default returns the built-in project configuration used when no config
// file exists. Credentials and endpoints come from the environment.
func Default() *Project {
	p := &Project{
		Solidity:       "0.8.9",
		DefaultNetwork: LocalNetwork,
		Contract:       DefaultContract,
		Networks: map[string]Network{
			"linea": {
				URL:      "${RPC_URL}",
				Accounts: []string{"${PRIVATE_KEY}"},
				ChainID:  59140,
			},
			"sepolia": {
				URL:      "${RPC}",
				Accounts: []string{"${PRIVATE_KEY}"},
			},
			"polygon": {
				URL:      "https://rpc-mumbai.maticvigil.com",
				Accounts: []string{"${PRIVATE_KEY}"},
				Currency: "MATIC",
			},
		},
		Etherscan:   EtherscanConfig{APIKey: "${API}"},
		Sourcify:    SourcifyConfig{Enabled: true},
		GasReporter: GasReporterConfig{Enabled: true},
	}
	p.finalize()
	return p
}

// Load loads the project config from path, or from the first matching
// ProjectConfigFiles entry when path is empty. It returns the path it was
// loaded from, and os.ErrNotExist when no config file was found.
func Load(path string) (*Project, string, error) {
	if path != "" {
		p, err := LoadFromPath(path)
		if err != nil {
			return nil, path, err
		}
		return p, path, nil
	}

	for _, name := range ProjectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			p, err := LoadFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return p, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// LoadOrDefault behaves like Load but falls back to Default when no config
// file exists. Parse failures are still returned.
func LoadOrDefault(path string) (*Project, string, error) {
	p, loadedFrom, err := Load(path)
	if err != nil {
		if path == "" && errors.Is(err, os.ErrNotExist) {
			return Default(), "", nil
		}
		return nil, loadedFrom, err
	}
	return p, loadedFrom, nil
}

// LoadFromPath loads a project config from a specific path
func LoadFromPath(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Project
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	p.finalize()
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

// validate checks the values a config file may get wrong
func (p *Project) validate() error {
	if p.Solidity != "" {
		if err := validation.ValidateCompilerVersion(p.Solidity); err != nil {
			return fmt.Errorf("%w: solidity: %v", ErrInvalidConfig, err)
		}
	}
	for _, name := range p.NetworkNames() {
		if err := validation.ValidateNetworkName(name); err != nil {
			return fmt.Errorf("%w: network %q: %v", ErrInvalidConfig, name, err)
		}
	}
	if _, ok := p.Networks[p.DefaultNetwork]; !ok {
		return fmt.Errorf("%w: default_network %q is not defined", ErrInvalidConfig, p.DefaultNetwork)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables that are already set are left untouched. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// finalize expands environment references and fills defaults
func (p *Project) finalize() {
	p.Solidity = os.ExpandEnv(p.Solidity)
	p.Contract = os.ExpandEnv(p.Contract)
	p.ProjectDir = os.ExpandEnv(p.ProjectDir)

	if p.Networks == nil {
		p.Networks = make(map[string]Network)
	}
	if _, ok := p.Networks[LocalNetwork]; !ok {
		p.Networks[LocalNetwork] = Network{
			URL:      "http://127.0.0.1:8545",
			Accounts: []string{"${PRIVATE_KEY}"},
		}
	}
	for name, n := range p.Networks {
		n.Name = name
		n.URL = strings.TrimSpace(os.ExpandEnv(n.URL))
		accounts := make([]string, 0, len(n.Accounts))
		for _, a := range n.Accounts {
			// An unset variable expands to "", which is not a credential.
			if a = strings.TrimSpace(os.ExpandEnv(a)); a != "" {
				accounts = append(accounts, a)
			}
		}
		n.Accounts = accounts
		if n.Currency == "" {
			n.Currency = "ETH"
		}
		p.Networks[name] = n
	}

	if p.DefaultNetwork == "" {
		p.DefaultNetwork = LocalNetwork
	}
	if p.ProjectDir == "" {
		p.ProjectDir = "."
	}
	if p.Contract == "" {
		p.Contract = DefaultContract
	}

	p.Etherscan.APIKey = os.ExpandEnv(p.Etherscan.APIKey)
	for name, key := range p.Etherscan.APIKeys {
		p.Etherscan.APIKeys[name] = os.ExpandEnv(key)
	}

	if p.Sourcify.ServerURL == "" {
		p.Sourcify.ServerURL = "https://sourcify.dev/server"
	}
	if p.Sourcify.BrowserURL == "" {
		p.Sourcify.BrowserURL = "https://repo.sourcify.dev"
	}

	p.History.DatabaseURL = os.ExpandEnv(p.History.DatabaseURL)
	if p.History.DatabaseURL == "" {
		p.History.DatabaseURL = os.Getenv("VERIDEPLOY_DATABASE_URL")
	}
	if p.History.Type == "" {
		// A database URL implies postgres
		if p.History.DatabaseURL != "" {
			p.History.Type = "postgres"
		} else {
			p.History.Type = "sqlite"
		}
	}
	if p.History.SQLitePath == "" {
		p.History.SQLitePath = filepath.Join(".verideploy", "deployments.db")
	}
}

// SelectNetwork returns the network name to use: the flag value, then
// VERIDEPLOY_NETWORK, then the configured default.
func (p *Project) SelectNetwork(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("VERIDEPLOY_NETWORK"); env != "" {
		return env
	}
	return p.DefaultNetwork
}

// Network returns the named network profile
func (p *Project) Network(name string) (*Network, error) {
	n, ok := p.Networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownNetwork, name, strings.Join(p.NetworkNames(), ", "))
	}
	return &n, nil
}

// NetworkNames returns the configured network names in sorted order
func (p *Project) NetworkNames() []string {
	names := make([]string, 0, len(p.Networks))
	for name := range p.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExplorerAPIKey returns the explorer API key for a network, preferring a
// per-network key over the shared one.
func (p *Project) ExplorerAPIKey(network string) string {
	if key := p.Etherscan.APIKeys[network]; key != "" {
		return key
	}
	return p.Etherscan.APIKey
}

// Validate checks that the profile can be used for a deployment
func (n *Network) Validate() error {
	if n.URL == "" {
		return fmt.Errorf("%w for network %q", ErrMissingEndpoint, n.Name)
	}
	if len(n.Accounts) == 0 {
		return fmt.Errorf("%w for network %q", ErrMissingCredential, n.Name)
	}
	return nil
}

// PrivateKey parses the first configured account as a hex private key
func (n *Network) PrivateKey() (*ecdsa.PrivateKey, error) {
	if len(n.Accounts) == 0 {
		return nil, fmt.Errorf("%w for network %q", ErrMissingCredential, n.Name)
	}
	return ParsePrivateKey(n.Accounts[0])
}

// ParsePrivateKey parses a hex private key with or without 0x prefix
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return key, nil
}

// Address returns the address of the first account, or the zero address
// when the credential is missing or malformed.
func (n *Network) Address() common.Address {
	key, err := n.PrivateKey()
	if err != nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}
