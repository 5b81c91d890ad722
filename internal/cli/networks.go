package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/explorer"
)

func createNetworksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		Long: `List the configured network profiles and whether each is ready to
deploy. Credentials are never printed; only the deployer address derived
from them is shown.

EXAMPLES:
  verideploy networks
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject()
			if err != nil {
				return err
			}
			return printNetworks(cmd.OutOrStdout(), project, project.SelectNetwork(networkFlag))
		},
	}

	return cmd
}

func printNetworks(out io.Writer, project *config.Project, selected string) error {
	custom := make([]explorer.Explorer, 0, len(project.Etherscan.CustomChains))
	for _, c := range project.Etherscan.CustomChains {
		custom = append(custom, explorer.Explorer{ChainID: c.ChainID, Network: c.Network, APIURL: c.APIURL, BrowserURL: c.BrowserURL})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tCHAIN ID\tRPC\tDEPLOYER\tEXPLORER\tSTATUS")
	for _, name := range project.NetworkNames() {
		n, err := project.Network(name)
		if err != nil {
			return err
		}

		marker := " "
		if name == selected {
			marker = "*"
		}

		chainID := "-"
		explorerURL := "-"
		if n.ChainID != 0 {
			chainID = strconv.FormatInt(n.ChainID, 10)
			if ex, ok := explorer.Lookup(n.ChainID, custom); ok {
				explorerURL = ex.BrowserURL
			}
		}

		rpc := redactURL(n.URL)

		deployer := "-"
		status := "ready"
		if err := n.Validate(); err != nil {
			status = err.Error()
		} else if _, err := n.PrivateKey(); err != nil {
			status = err.Error()
		} else {
			deployer = n.Address().Hex()
		}

		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\t%s\n", marker, name, chainID, rpc, deployer, explorerURL, status)
	}
	return w.Flush()
}

// redactURL drops the path and query of an RPC URL, where providers embed
// API keys
func redactURL(raw string) string {
	if raw == "" {
		return "(not set)"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(invalid)"
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return u.Scheme + "://" + u.Host + "/..."
	}
	return u.Scheme + "://" + u.Host
}
