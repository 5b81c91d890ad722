package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/verideploy/internal/config"
)

// defaultCredential is the key used for every network without its own key
const defaultCredential = "default"

// Credentials stores explorer API keys per network
type Credentials struct {
	Explorers map[string]ExplorerCredential `yaml:"explorers"`
}

// ExplorerCredential stores the API key for one network's explorer
type ExplorerCredential struct {
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"` // Optional name/description
}

func createExplorerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explorer",
		Short: "Explorer API key commands",
	}

	cmd.AddCommand(createExplorerLoginCmd())
	cmd.AddCommand(createExplorerLogoutCmd())
	cmd.AddCommand(createExplorerStatusCmd())

	return cmd
}

func createExplorerLoginCmd() *cobra.Command {
	var networkName string
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an explorer API key",
		Long: `Save an Etherscan-compatible explorer API key.

The key is stored in ~/.verideploy/credentials with secure file
permissions. It is used when the project config sets no key for the
network. Without --network the key applies to every network.

EXAMPLES:
  # Interactive login (prompts for API key)
  verideploy explorer login

  # Key for polygonscan only
  verideploy explorer login --network polygon

  # Non-interactive login (for CI)
  verideploy explorer login --api-key $API
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplorerLogin(cmd.OutOrStdout(), networkName, apiKeyFlag)
		},
	}

	cmd.Flags().StringVar(&networkName, "network", "", "network the key is for (default: all networks)")
	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")

	return cmd
}

func createExplorerLogoutCmd() *cobra.Command {
	var networkName string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear explorer API keys",
		Long: `Remove saved explorer API keys.

EXAMPLES:
  # Remove the key shared by all networks
  verideploy explorer logout

  # Remove the polygon key
  verideploy explorer logout --network polygon

  # Clear all keys
  verideploy explorer logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplorerLogout(cmd.OutOrStdout(), networkName, allFlag)
		},
	}

	cmd.Flags().StringVar(&networkName, "network", "", "network the key is for (default: all networks)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all keys")

	return cmd
}

func createExplorerStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show saved explorer API keys",
		Long: `Show the saved explorer API keys, masked.

EXAMPLES:
  verideploy explorer status
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplorerStatus(cmd.OutOrStdout())
		},
	}

	return cmd
}

func runExplorerLogin(out io.Writer, networkName, apiKeyInput string) error {
	if networkName == "" {
		networkName = defaultCredential
	}

	// Get API key
	apiKey := apiKeyInput
	if apiKey == "" {
		// Prompt for API key
		fmt.Fprintf(out, "Enter explorer API key for %s: ", networkName)

		// Try to read password without echo
		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			byteKey, err := term.ReadPassword(stdinFd)
			fmt.Fprintln(out) // New line after password input
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			apiKey = string(byteKey)
		} else {
			// Non-terminal, read from stdin
			reader := bufio.NewReader(os.Stdin)
			key, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			apiKey = key
		}
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	previous := getCredential(networkName)
	if err := saveCredential(networkName, apiKey); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if previous != "" && previous != apiKey {
		fmt.Fprintf(out, "✅ Replaced explorer API key for %s (key: %s)\n", networkName, maskSecret(apiKey))
	} else {
		fmt.Fprintf(out, "✅ Saved explorer API key for %s (key: %s)\n", networkName, maskSecret(apiKey))
	}
	fmt.Fprintf(out, "   Credentials saved to %s\n", credentialsFilePath())

	return nil
}

func runExplorerLogout(out io.Writer, networkName string, all bool) error {
	if all {
		// Remove all credentials
		path := credentialsFilePath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Fprintln(out, "✅ All explorer API keys cleared")
		return nil
	}

	if networkName == "" {
		networkName = defaultCredential
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(out, "No API key saved for %s\n", networkName)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Explorers[networkName]; !exists {
		fmt.Fprintf(out, "No API key saved for %s\n", networkName)
		return nil
	}

	delete(creds.Explorers, networkName)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(out, "✅ Removed explorer API key for %s\n", networkName)
	return nil
}

func runExplorerStatus(out io.Writer) error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds == nil || len(creds.Explorers) == 0 {
		fmt.Fprintln(out, "No explorer API keys saved")
		fmt.Fprintln(out, "\nRun 'verideploy explorer login' to save one")
		return nil
	}

	names := make([]string, 0, len(creds.Explorers))
	for name := range creds.Explorers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Saved explorer API keys:")
	for _, name := range names {
		cred := creds.Explorers[name]
		if cred.Name != "" {
			fmt.Fprintf(out, "  • %s (%s, key: %s)\n", name, cred.Name, maskSecret(cred.APIKey))
		} else {
			fmt.Fprintf(out, "  • %s (key: %s)\n", name, maskSecret(cred.APIKey))
		}
	}

	return nil
}

// applyStoredCredentials fills explorer keys the project config leaves
// empty from the credentials file. Any configured key, shared or per
// network, wins over every stored key.
func applyStoredCredentials(project *config.Project) {
	creds, err := loadCredentials()
	if err != nil {
		return
	}

	if project.Etherscan.APIKey != "" {
		return
	}
	project.Etherscan.APIKey = creds.Explorers[defaultCredential].APIKey
	for name, cred := range creds.Explorers {
		if name == defaultCredential || cred.APIKey == "" {
			continue
		}
		if project.Etherscan.APIKeys == nil {
			project.Etherscan.APIKeys = make(map[string]string)
		}
		if project.Etherscan.APIKeys[name] == "" {
			project.Etherscan.APIKeys[name] = cred.APIKey
		}
	}
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".verideploy"
	}
	return filepath.Join(home, ".verideploy")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	path := credentialsFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	if creds.Explorers == nil {
		creds.Explorers = make(map[string]ExplorerCredential)
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	dir := credentialsDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	path := credentialsFilePath()
	return os.WriteFile(path, data, 0600) // Secure permissions
}

func saveCredential(networkName, apiKey string) error {
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			creds = &Credentials{Explorers: make(map[string]ExplorerCredential)}
		} else {
			return err
		}
	}

	creds.Explorers[networkName] = ExplorerCredential{APIKey: apiKey}
	return writeCredentials(creds)
}

func getCredential(networkName string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	if cred, ok := creds.Explorers[networkName]; ok {
		return cred.APIKey
	}
	return ""
}
