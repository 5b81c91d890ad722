package cli

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/runner"
	"github.com/pendergraft/verideploy/internal/validation"
)

func createVerifyCmd() *cobra.Command {
	var contract string
	var record bool

	cmd := &cobra.Command{
		Use:   "verify <address>",
		Short: "Verify an already deployed contract",
		Long: `Submit the source of a deployed contract for verification.

The contract is verified with no constructor arguments on every enabled
verifier: the Etherscan-compatible explorer for the network's chain (when
an API key is configured) and Sourcify (when enabled).

EXAMPLES:
  # Verify on the default network
  verideploy verify 0x5FbDB2315678afecb367f032d93F642f64180aa3

  # Verify a specific contract on linea
  verideploy verify --network linea --contract ContractEvents 0x1234...
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd, args[0], contract, record)
		},
	}

	cmd.Flags().StringVar(&contract, "contract", "", "contract name or path:Name (default from config)")
	cmd.Flags().BoolVar(&record, "record", config.LoadSettings().Record, "mark the deployment verified in the local ledger")

	return cmd
}

func runVerify(ctx context.Context, cmd *cobra.Command, address, contract string, record bool) error {
	if err := validation.ValidateAddress(address); err != nil {
		return err
	}

	project, err := loadProject()
	if err != nil {
		return err
	}

	runnerOpts := baseRunnerOptions(cmd)
	store, err := openLedger(ctx, project, record)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		runnerOpts = append(runnerOpts, runner.WithStore(store))
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "🔍 Verifying %s\n", address)

	report, err := runner.New(project, runnerOpts...).Verify(ctx, runner.Options{
		Network:  networkFlag,
		Contract: contract,
	}, common.HexToAddress(address))
	if report != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "   Contract: %s\n", report.Contract)
		fmt.Fprintf(cmd.ErrOrStderr(), "   Network:  %s (chain %d)\n", report.Network, report.ChainID)
		printReport(cmd.ErrOrStderr(), report)
	}
	return err
}
