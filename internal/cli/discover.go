package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verideploy/internal/chains"
	"github.com/pendergraft/verideploy/internal/chains/evm"
	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/validation"
)

// defaultExcludePatterns hides test and script contracts from discovery
var defaultExcludePatterns = []string{"Test", "Script", "Mock"}

func createContractsCmd() *cobra.Command {
	var showDeps []string
	var showAll bool

	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "List deployable contracts in the project",
		Long: `List the compiled contracts verideploy can deploy.

The build tool is detected from the project directory (foundry.toml or
hardhat.config.*). Contracts without bytecode, such as interfaces, are
skipped. Contracts compiled with a different compiler than the configured
solidity version are flagged.

EXAMPLES:
  # Contracts from the project sources
  verideploy contracts

  # Include a dependency contract
  verideploy contracts --include Ownable

  # Do not hide Test/Script/Mock contracts
  verideploy contracts --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject()
			if err != nil {
				return err
			}
			opts := chains.DiscoverOptions{IncludeDependencies: showDeps}
			if !showAll {
				opts.Exclude = defaultExcludePatterns
			}
			return runContracts(cmd.OutOrStdout(), project, opts)
		},
	}

	cmd.Flags().StringSliceVar(&showDeps, "include", nil, "dependency contracts to include")
	cmd.Flags().BoolVar(&showAll, "all", false, "do not hide Test/Script/Mock contracts")

	return cmd
}

func runContracts(out io.Writer, project *config.Project, opts chains.DiscoverOptions) error {
	dir := project.ProjectDir

	builder, err := evm.DefaultRegistry().Resolve(project.Builder, dir)
	if err != nil {
		return err
	}

	artifactPaths, err := builder.Discover(dir, opts)
	if err != nil {
		return fmt.Errorf("discovering contracts: %w", err)
	}

	if len(artifactPaths) == 0 {
		fmt.Fprintf(out, "No contracts found (%s project in %s)\n", builder.DisplayName(), dir)
		return nil
	}

	fmt.Fprintf(out, "%s contracts (%d):\n\n", builder.DisplayName(), len(artifactPaths))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tSOURCE\tCOMPILER\t")
	for _, path := range artifactPaths {
		artifact, err := builder.Parse(path)
		if err != nil {
			continue
		}

		marker := " "
		if artifact.Name == project.Contract {
			marker = "*"
		}

		compiler := validation.ShortVersion(artifact.Compiler.Version)
		note := ""
		switch {
		case evm.HasLibraryPlaceholders([]byte(artifact.Bytecode)):
			note = "(unlinked libraries)"
		case compiler != "" && project.Solidity != "" && !validation.SameCompiler(project.Solidity, compiler):
			note = "(configured " + project.Solidity + ")"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", marker, artifact.Name, artifact.SourcePath, compiler, note)
	}
	return w.Flush()
}
