package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verideploy/internal/config"
)

// defaultConfigTemplate mirrors the built-in network profiles
const defaultConfigTemplate = `# verideploy project configuration
# Values may reference environment variables (${VAR}); a .env file in the
# working directory is loaded first.

solidity = "%s"
default_network = "%s"
contract = "%s"
# builder = "hardhat"   # detected from foundry.toml / hardhat.config.* when unset

[networks.linea]
url = "${RPC_URL}"
accounts = ["${PRIVATE_KEY}"]
chain_id = 59140

[networks.sepolia]
url = "${RPC}"
accounts = ["${PRIVATE_KEY}"]

[networks.polygon]
url = "https://rpc-mumbai.maticvigil.com"
accounts = ["${PRIVATE_KEY}"]
currency = "MATIC"

[etherscan]
api_key = "${API}"
# api_keys = { polygon = "${POLYGONSCAN_API_KEY}" }

# [[etherscan.custom_chains]]
# network = "mychain"
# chain_id = 12345
# api_url = "https://explorer.mychain.example/api"
# browser_url = "https://explorer.mychain.example"

[sourcify]
enabled = true

[gas_reporter]
enabled = true

[history]
enabled = false
# type = "sqlite"       # or "postgres" with database_url / VERIDEPLOY_DATABASE_URL
# sqlite_path = ".verideploy/deployments.db"
`

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var contract string
	var defaultNetwork string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a verideploy.toml configuration file in the current directory.

The generated file declares the linea, sepolia and polygon networks with
their endpoints and credentials taken from the environment.

EXAMPLES:
  # Create config with defaults
  verideploy config init

  # Deploy a different contract to linea by default
  verideploy config init --contract MyToken --default-network linea

  # Overwrite existing config
  verideploy config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), contract, defaultNetwork, force)
		},
	}

	cmd.Flags().StringVar(&contract, "contract", config.DefaultContract, "contract to deploy")
	cmd.Flags().StringVar(&defaultNetwork, "default-network", config.LocalNetwork, "network used when --network is not given")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the effective configuration and where it was loaded from.

Secrets (private keys, API keys) are masked.

EXAMPLES:
  verideploy config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}

	return cmd
}

func runConfigInit(out io.Writer, contract, defaultNetwork string, force bool) error {
	configPath := config.ProjectConfigFiles[0]

	// Check if any config file already exists
	for _, name := range config.ProjectConfigFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}

	content := fmt.Sprintf(defaultConfigTemplate, config.Default().Solidity, defaultNetwork, contract)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Put RPC_URL, RPC, PRIVATE_KEY and API in .env")
	fmt.Fprintln(out, "  2. Run 'verideploy networks' to check the profiles")
	fmt.Fprintln(out, "  3. Run 'verideploy run --network <name>' to deploy and verify")

	return nil
}

func runConfigShow(out io.Writer) error {
	fmt.Fprintln(out, "Configuration sources (in order of precedence):")
	fmt.Fprintln(out)

	// 1. Command line flags
	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "   --config, --network, --log-level, --log-format, --metrics-file")
	fmt.Fprintln(out)

	// 2. Environment variables
	fmt.Fprintln(out, "2. Environment variables (and .env)")
	for _, name := range []string{"VERIDEPLOY_NETWORK", "RPC_URL", "RPC", "PRIVATE_KEY", "API", "VERIDEPLOY_DATABASE_URL"} {
		value := os.Getenv(name)
		switch {
		case value == "":
			value = "(not set)"
		case name == "PRIVATE_KEY" || name == "API" || name == "VERIDEPLOY_DATABASE_URL":
			value = maskSecret(value)
		}
		fmt.Fprintf(out, "   %s=%s\n", name, value)
	}
	fmt.Fprintln(out)

	// 3. Project config
	fmt.Fprintln(out, "3. Project config (verideploy.toml or deploy.toml)")
	project, loadedFrom, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "   Error: %v\n", err)
		return nil
	}
	if loadedFrom == "" {
		fmt.Fprintln(out, "   (not found, using built-in networks)")
	} else {
		fmt.Fprintf(out, "   Loaded from: %s\n", loadedFrom)
	}
	fmt.Fprintln(out)

	// 4. Credentials
	fmt.Fprintln(out, "4. Explorer credentials (~/.verideploy/credentials)")
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	case len(creds.Explorers) == 0:
		fmt.Fprintln(out, "   (no credentials stored)")
	default:
		for network, cred := range creds.Explorers {
			fmt.Fprintf(out, "   %s: %s\n", network, maskSecret(cred.APIKey))
		}
	}
	fmt.Fprintln(out)

	applyStoredCredentials(project)
	selected := project.SelectNetwork(networkFlag)

	// Effective config
	fmt.Fprintln(out, "Effective configuration:")
	fmt.Fprintf(out, "   Solidity:  %s\n", project.Solidity)
	fmt.Fprintf(out, "   Contract:  %s\n", project.Contract)
	fmt.Fprintf(out, "   Project:   %s\n", project.ProjectDir)
	fmt.Fprintf(out, "   Network:   %s\n", selected)
	if key := project.ExplorerAPIKey(selected); key != "" {
		fmt.Fprintf(out, "   API Key:   %s\n", maskSecret(key))
	} else {
		fmt.Fprintln(out, "   API Key:   (not set)")
	}
	fmt.Fprintf(out, "   Sourcify:  %v\n", project.Sourcify.Enabled)
	fmt.Fprintf(out, "   Gas report: %v\n", project.GasReporter.Enabled)
	if project.History.Enabled {
		fmt.Fprintf(out, "   History:   %s\n", project.History.Type)
	} else {
		fmt.Fprintln(out, "   History:   disabled")
	}
	fmt.Fprintln(out)

	return printNetworks(out, project, selected)
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
