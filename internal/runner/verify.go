package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/explorer"
	"github.com/pendergraft/verideploy/internal/observability/metrics"
)

// customExplorers converts configured custom chains to explorer entries
func customExplorers(chains []config.CustomChain) []explorer.Explorer {
	out := make([]explorer.Explorer, 0, len(chains))
	for _, c := range chains {
		out = append(out, explorer.Explorer{
			ChainID:    c.ChainID,
			Network:    c.Network,
			APIURL:     c.APIURL,
			BrowserURL: c.BrowserURL,
		})
	}
	return out
}

// verifiers returns every verifier enabled for the network. Etherscan
// needs an API key and a known explorer for the chain; Sourcify needs only
// to be enabled.
func (r *Runner) verifiers(network *config.Network, chainID int64) ([]explorer.Verifier, error) {
	var verifiers []explorer.Verifier

	if apiKey := r.project.ExplorerAPIKey(network.Name); apiKey == "" {
		r.logger.Warn("no explorer API key configured, skipping etherscan verification",
			slog.String("network", network.Name))
	} else if ex, ok := explorer.Lookup(chainID, customExplorers(r.project.Etherscan.CustomChains)); !ok {
		r.logger.Warn("no etherscan-compatible explorer for chain, skipping etherscan verification",
			slog.Int64("chain_id", chainID))
	} else {
		verifiers = append(verifiers, explorer.NewEtherscan(ex, apiKey, r.explorerOpts...))
	}

	if r.project.Sourcify.Enabled {
		verifiers = append(verifiers, explorer.NewSourcify(r.project.Sourcify.ServerURL, r.project.Sourcify.BrowserURL, r.explorerOpts...))
	}

	if len(verifiers) == 0 {
		return nil, fmt.Errorf("%w for network %q (chain %d)", ErrNoVerifier, network.Name, chainID)
	}
	return verifiers, nil
}

// verify submits the contract to each verifier in turn. Every verifier is
// attempted; failures are joined into the returned error.
func (r *Runner) verify(ctx context.Context, verifiers []explorer.Verifier, chainID int64, c *contract, address common.Address) ([]*explorer.Result, error) {
	req := explorer.Request{
		Address:         address,
		ChainID:         chainID,
		ContractName:    c.artifact.FullyQualifiedName(),
		Input:           c.input,
		ConstructorArgs: "",
	}

	var (
		results []*explorer.Result
		errs    []error
	)
	for _, v := range verifiers {
		res, err := v.Verify(ctx, req)
		if err != nil {
			metrics.Verification(v.Name(), "failed")
			r.logger.Error("verification failed",
				slog.String("verifier", v.Name()),
				slog.String("address", address.Hex()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		metrics.Verification(v.Name(), string(res.Status))
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
