package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verideploy/internal/storage"
	"github.com/pendergraft/verideploy/internal/validation"
)

func createDeploymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "Inspect the deployment ledger",
		Long: `Inspect deployments recorded with 'verideploy run --record' or with
[history] enabled in the project config.`,
	}

	cmd.AddCommand(createDeploymentsListCmd())
	cmd.AddCommand(createDeploymentsInfoCmd())

	return cmd
}

func createDeploymentsListCmd() *cobra.Command {
	var filter storage.DeploymentFilter
	var verified *bool
	var jsonOutput bool
	var limit int
	var cursor string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Long: `List recorded deployments, newest first.

EXAMPLES:
  # List all deployments
  verideploy deployments list

  # Filter by network
  verideploy deployments list --network linea

  # Show only verified deployments
  verideploy deployments list --verified

  # Next page
  verideploy deployments list --cursor <next-cursor>
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Network = networkFlag
			filter.Verified = verified
			return withStore(cmd.Context(), func(store storage.Store) error {
				return runDeploymentsList(cmd.Context(), cmd.OutOrStdout(), store, filter, storage.PaginationParams{Limit: limit, Cursor: cursor}, jsonOutput)
			})
		},
	}

	cmd.Flags().Int64Var(&filter.ChainID, "chain-id", 0, "filter by chain ID")
	cmd.Flags().StringVar(&filter.Contract, "contract", "", "filter by contract name")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of items to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")

	// Handle --verified flag
	var verifiedFlag bool
	cmd.Flags().BoolVar(&verifiedFlag, "verified", false, "show only verified deployments")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("verified") {
			verified = &verifiedFlag
		}
		return nil
	}

	return cmd
}

func createDeploymentsInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info <chain-id> <address>",
		Short: "Show deployment details",
		Long: `Display detailed information about a recorded deployment.

EXAMPLES:
  verideploy deployments info 59140 0x1234...
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chain id %q: %w", args[0], err)
			}
			if err := validation.ValidateChainID(chainID); err != nil {
				return err
			}
			if err := validation.ValidateAddress(args[1]); err != nil {
				return err
			}
			return withStore(cmd.Context(), func(store storage.Store) error {
				return runDeploymentsInfo(cmd.Context(), cmd.OutOrStdout(), store, chainID, args[1], jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

// withStore opens the configured ledger for the duration of fn
func withStore(ctx context.Context, fn func(storage.Store) error) error {
	project, err := loadProject()
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, project.History, logger)
	if err != nil {
		return fmt.Errorf("opening deployment ledger: %w", err)
	}
	defer store.Close()

	return fn(store)
}

func runDeploymentsList(ctx context.Context, out io.Writer, store storage.DeploymentStore, filter storage.DeploymentFilter, pagination storage.PaginationParams, jsonOutput bool) error {
	result, err := store.ListDeployments(ctx, filter, pagination)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result.Data) == 0 {
		fmt.Fprintln(out, "No deployments found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tCHAIN\tADDRESS\tCONTRACT\tVERIFIED\tRECORDED")
	for _, d := range result.Data {
		verifiedStr := "no"
		if d.Verified {
			verifiedStr = "yes (" + strings.Join(d.VerifiedOn, ", ") + ")"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", d.Network, d.ChainID, truncateAddress(d.Address), d.ContractName, verifiedStr, d.CreatedAt)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if result.HasMore {
		fmt.Fprintf(out, "\n(showing %d deployments, more available: --cursor %s)\n", len(result.Data), result.NextCursor)
	}

	return nil
}

func runDeploymentsInfo(ctx context.Context, out io.Writer, store storage.DeploymentStore, chainID int64, address string, jsonOutput bool) error {
	deployment, err := store.GetDeployment(ctx, chainID, address)
	if err != nil {
		return fmt.Errorf("failed to get deployment: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(deployment)
	}

	fmt.Fprintf(out, "Deployment: %s\n", deployment.Address)
	fmt.Fprintf(out, "Network:    %s\n", deployment.Network)
	fmt.Fprintf(out, "Chain ID:   %d\n", deployment.ChainID)
	fmt.Fprintf(out, "Contract:   %s\n", deployment.ContractName)
	if deployment.TxHash != "" {
		fmt.Fprintf(out, "Tx Hash:    %s\n", deployment.TxHash)
	}
	if deployment.DeployerAddress != "" {
		fmt.Fprintf(out, "Deployer:   %s\n", deployment.DeployerAddress)
	}
	if deployment.BlockNumber > 0 {
		fmt.Fprintf(out, "Block:      %d\n", deployment.BlockNumber)
	}
	if deployment.GasUsed > 0 {
		fmt.Fprintf(out, "Gas Used:   %d\n", deployment.GasUsed)
	}
	fmt.Fprintf(out, "Verified:   %v\n", deployment.Verified)
	if deployment.Verified {
		fmt.Fprintf(out, "Verified On: %s (%s)\n", strings.Join(deployment.VerifiedOn, ", "), deployment.VerifiedAt)
	}
	if deployment.CreatedAt != "" {
		fmt.Fprintf(out, "Recorded:   %s\n", deployment.CreatedAt)
	}

	return nil
}

func truncateAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
