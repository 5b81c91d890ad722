package cli

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/explorer"
	"github.com/pendergraft/verideploy/internal/runner"
	"github.com/pendergraft/verideploy/internal/storage"
)

// runFlags are shared by run and deploy
type runFlags struct {
	contract   string
	skipVerify bool
	checkCode  bool
	record     bool
	promptKey  bool
}

func (f *runFlags) register(cmd *cobra.Command, withVerify bool) {
	cmd.Flags().StringVar(&f.contract, "contract", "", "contract name or path:Name (default from config)")
	cmd.Flags().BoolVar(&f.checkCode, "check-code", false, "compare on-chain code with the artifact after deploying")
	cmd.Flags().BoolVar(&f.record, "record", config.LoadSettings().Record, "record the deployment in the local ledger")
	cmd.Flags().BoolVar(&f.promptKey, "prompt-key", false, "prompt for the deployer private key instead of using the config")
	if withVerify {
		cmd.Flags().BoolVar(&f.skipVerify, "skip-verify", false, "deploy without submitting verification")
	}
}

func createRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deploy the contract and verify it",
		Long: `Deploy the configured contract, wait for confirmation, print the
deployed address and submit the source for verification with that address
and no constructor arguments.

The address is the only thing written to stdout. Progress, the gas report
and verification results go to stderr.

EXAMPLES:
  # Deploy to the default network
  verideploy run

  # Deploy to linea using RPC_URL and PRIVATE_KEY from .env
  verideploy run --network linea

  # Deploy and check the on-chain code, recording the deployment
  verideploy run --network sepolia --check-code --record
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), cmd, flags)
		},
	}
	flags.register(cmd, true)

	return cmd
}

func createDeployCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the contract without verifying it",
		Long: `Deploy the configured contract and print its address.

Use 'verideploy verify <address>' later to submit verification.

EXAMPLES:
  verideploy deploy --network linea
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.skipVerify = true
			return runDeploy(cmd.Context(), cmd, flags)
		},
	}
	flags.register(cmd, false)

	return cmd
}

func runDeploy(ctx context.Context, cmd *cobra.Command, flags runFlags) error {
	project, err := loadProject()
	if err != nil {
		return err
	}

	opts := runner.Options{
		Network:    networkFlag,
		Contract:   flags.contract,
		SkipVerify: flags.skipVerify,
		CheckCode:  flags.checkCode,
	}
	if flags.promptKey {
		key, err := promptPrivateKey(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		opts.Key = key
	}

	runnerOpts := baseRunnerOptions(cmd)

	store, err := openLedger(ctx, project, flags.record)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		runnerOpts = append(runnerOpts, runner.WithStore(store))
	}

	report, err := runner.New(project, runnerOpts...).Run(ctx, opts)
	if report != nil {
		printReport(cmd.ErrOrStderr(), report)
	}
	return err
}

// openLedger opens the deployment ledger when --record is set or history is
// enabled in the config. It returns a nil store otherwise.
func openLedger(ctx context.Context, project *config.Project, record bool) (storage.Store, error) {
	if !record && !project.History.Enabled {
		return nil, nil
	}
	store, err := storage.Open(ctx, project.History, logger)
	if err != nil {
		return nil, fmt.Errorf("opening deployment ledger: %w", err)
	}
	return store, nil
}

// baseRunnerOptions routes the address to stdout and everything else to
// stderr
func baseRunnerOptions(cmd *cobra.Command) []runner.Option {
	return []runner.Option{
		runner.WithOutput(cmd.OutOrStdout()),
		runner.WithReportOutput(cmd.ErrOrStderr()),
		runner.WithLogger(logger),
		runner.WithExplorerOptions(explorer.WithPollInterval(config.LoadSettings().PollInterval)),
	}
}

// printReport writes a human-readable run summary
func printReport(w io.Writer, report *runner.Report) {
	fmt.Fprintln(w)
	if d := report.Deployment; d != nil {
		fmt.Fprintf(w, "✅ Deployed %s to %s (chain %d)\n", report.Contract, report.Network, report.ChainID)
		fmt.Fprintf(w, "   Address: %s\n", d.Address.Hex())
		fmt.Fprintf(w, "   Tx:      %s\n", d.TxHash.Hex())
		fmt.Fprintf(w, "   Block:   %d\n", d.BlockNumber)
	}
	if c := report.CodeCheck; c != nil {
		if c.Match {
			fmt.Fprintf(w, "✅ On-chain code matches artifact (%s match)\n", c.MatchType)
		} else {
			fmt.Fprintf(w, "❌ On-chain code does not match artifact: %s\n", c.Message)
		}
	}
	for _, v := range report.Verifications {
		fmt.Fprintf(w, "✅ %s: %s\n", v.Verifier, v.Status)
		if v.URL != "" {
			fmt.Fprintf(w, "   %s\n", v.URL)
		}
	}
}

// promptPrivateKey reads a hex private key without echo when stdin is a
// terminal, else one line from stdin
func promptPrivateKey(w io.Writer) (*ecdsa.PrivateKey, error) {
	fmt.Fprint(w, "Enter deployer private key: ")

	var input string
	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		b, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(w) // New line after password input
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		input = string(b)
	} else {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		input = line
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: private key cannot be empty", config.ErrMissingCredential)
	}

	key, err := config.ParsePrivateKey(input)
	if err != nil {
		return nil, err
	}
	logger.Debug("using prompted deployer key", slog.Bool("terminal", term.IsTerminal(stdinFd)))
	return key, nil
}
