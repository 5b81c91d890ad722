// Package runner implements the deploy-then-verify procedure: deploy one
// contract to the selected network, wait for the receipt, print the
// address and submit the source for verification with that address.
package runner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/verideploy/internal/chains"
	"github.com/pendergraft/verideploy/internal/chains/evm"
	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/deploy"
	"github.com/pendergraft/verideploy/internal/explorer"
	"github.com/pendergraft/verideploy/internal/gasreport"
	"github.com/pendergraft/verideploy/internal/observability/metrics"
	"github.com/pendergraft/verideploy/internal/storage"
	"github.com/pendergraft/verideploy/internal/validation"
)

// Runner errors
var (
	ErrNoVerifier   = errors.New("no verifier configured")
	ErrCodeMismatch = errors.New("on-chain code does not match artifact")
)

// Dialer opens an RPC connection to url
type Dialer func(ctx context.Context, url string) (deploy.Backend, error)

// DialEthclient dials url with ethclient
func DialEthclient(ctx context.Context, url string) (deploy.Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Options selects what one run does
type Options struct {
	Network  string // empty selects VERIDEPLOY_NETWORK or the default network
	Contract string // empty uses the configured contract
	// Key overrides the network's configured account
	Key        *ecdsa.PrivateKey
	SkipVerify bool
	CheckCode  bool
}

// Report summarizes a run
type Report struct {
	Network       string
	ChainID       int64
	Contract      string
	Deployment    *deploy.Result
	CodeCheck     *chains.VerifyResult
	Gas           *gasreport.Report
	Verifications []*explorer.Result
}

// Runner deploys and verifies contracts for one project
type Runner struct {
	project      *config.Project
	registry     *chains.Registry
	dial         Dialer
	store        storage.Store
	out          io.Writer
	reportOut    io.Writer
	logger       *slog.Logger
	explorerOpts []explorer.Option
}

// Option configures a Runner
type Option func(*Runner)

// WithDialer replaces the RPC dialer
func WithDialer(dial Dialer) Option {
	return func(r *Runner) {
		r.dial = dial
	}
}

// WithRegistry replaces the artifact builder registry
func WithRegistry(registry *chains.Registry) Option {
	return func(r *Runner) {
		r.registry = registry
	}
}

// WithStore records deployments in a ledger
func WithStore(store storage.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithOutput sets where the deployed address is printed
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
	}
}

// WithReportOutput sets where the gas report is written
func WithReportOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.reportOut = w
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithExplorerOptions passes options to every verifier client
func WithExplorerOptions(opts ...explorer.Option) Option {
	return func(r *Runner) {
		r.explorerOpts = append(r.explorerOpts, opts...)
	}
}

// New creates a runner for project
func New(project *config.Project, opts ...Option) *Runner {
	r := &Runner{
		project:   project,
		registry:  evm.DefaultRegistry(),
		dial:      DialEthclient,
		out:       os.Stdout,
		reportOut: os.Stderr,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.explorerOpts = append([]explorer.Option{explorer.WithLogger(r.logger)}, r.explorerOpts...)
	return r
}

// Run deploys the contract, prints its address and verifies it on every
// configured verifier. Configuration is validated before any network
// call.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	network, key, err := r.resolveNetwork(opts)
	if err != nil {
		return nil, err
	}

	c, err := r.loadContract(opts.Contract, !opts.SkipVerify)
	if err != nil {
		return nil, err
	}

	backend, closeBackend, err := r.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	defer closeBackend()

	chainID, err := deploy.CheckChainID(ctx, backend, network.ChainID)
	if err != nil {
		return nil, err
	}

	// A run that cannot verify must not deploy
	var verifiers []explorer.Verifier
	if !opts.SkipVerify {
		if verifiers, err = r.verifiers(network, chainID.Int64()); err != nil {
			return nil, err
		}
	}

	report := &Report{
		Network:  network.Name,
		ChainID:  chainID.Int64(),
		Contract: c.artifact.FullyQualifiedName(),
	}
	logger := r.logger.With(slog.String("network", network.Name), slog.String("contract", c.artifact.Name))

	code, err := c.artifact.CreationCode()
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", c.artifact.Name, err)
	}

	deployer := deploy.New(backend, key, chainID, deploy.WithLogger(logger))

	start := time.Now()
	result, err := deployer.Deploy(ctx, code, nil)
	if err != nil {
		metrics.Deploy(network.Name, "failed", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("deploying %s: %w", c.artifact.Name, err)
	}
	metrics.Deploy(network.Name, "success", time.Since(start).Seconds(), result.GasUsed)
	report.Deployment = result

	if _, err := fmt.Fprintln(r.out, result.Address.Hex()); err != nil {
		return report, err
	}

	if opts.CheckCode {
		check, err := evm.CheckDeployment(ctx, backend, result.Address, c.artifact)
		if err != nil {
			return report, err
		}
		report.CodeCheck = check
		if !check.Match {
			return report, fmt.Errorf("%w: %s", ErrCodeMismatch, check.Message)
		}
		logger.Info("on-chain code matches artifact", slog.String("match", check.MatchType))
	}

	if r.project.GasReporter.Enabled {
		report.Gas = &gasreport.Report{
			Contract: c.artifact.Name,
			Network:  network.Name,
			Currency: network.Currency,
			GasUsed:  result.GasUsed,
			GasPrice: result.EffectiveGasPrice,
		}
		if err := report.Gas.Render(r.reportOut); err != nil {
			logger.Warn("failed to write gas report", slog.String("error", err.Error()))
		}
	}

	entry := r.record(ctx, network, c.artifact, result)

	if opts.SkipVerify {
		return report, nil
	}

	results, err := r.verify(ctx, verifiers, report.ChainID, c, result.Address)
	report.Verifications = results
	r.markVerified(ctx, entry, results)
	return report, err
}

// Verify submits an already deployed contract for verification. The
// network's credential is not needed; the endpoint is dialed only when the
// profile has no chain id.
func (r *Runner) Verify(ctx context.Context, opts Options, address common.Address) (*Report, error) {
	name := r.project.SelectNetwork(opts.Network)
	network, err := r.project.Network(name)
	if err != nil {
		return nil, err
	}

	c, err := r.loadContract(opts.Contract, true)
	if err != nil {
		return nil, err
	}

	chainID := network.ChainID
	if chainID == 0 {
		backend, closeBackend, err := r.connect(ctx, network)
		if err != nil {
			return nil, err
		}
		defer closeBackend()

		id, err := deploy.CheckChainID(ctx, backend, 0)
		if err != nil {
			return nil, err
		}
		chainID = id.Int64()
	}

	report := &Report{
		Network:  network.Name,
		ChainID:  chainID,
		Contract: c.artifact.FullyQualifiedName(),
	}

	verifiers, err := r.verifiers(network, chainID)
	if err != nil {
		return nil, err
	}

	results, err := r.verify(ctx, verifiers, chainID, c, address)
	report.Verifications = results

	if r.store != nil {
		entry, getErr := r.store.GetDeployment(ctx, chainID, address.Hex())
		if getErr == nil {
			r.markVerified(ctx, entry, results)
		}
	}
	return report, err
}

// resolveNetwork selects the network profile and signing key, failing
// before any network call when either is missing
func (r *Runner) resolveNetwork(opts Options) (*config.Network, *ecdsa.PrivateKey, error) {
	name := r.project.SelectNetwork(opts.Network)
	network, err := r.project.Network(name)
	if err != nil {
		return nil, nil, err
	}

	if opts.Key != nil {
		if network.URL == "" {
			return nil, nil, fmt.Errorf("%w for network %q", config.ErrMissingEndpoint, network.Name)
		}
		return network, opts.Key, nil
	}

	if err := network.Validate(); err != nil {
		return nil, nil, err
	}
	key, err := network.PrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return network, key, nil
}

func (r *Runner) connect(ctx context.Context, network *config.Network) (deploy.Backend, func(), error) {
	if network.URL == "" {
		return nil, nil, fmt.Errorf("%w for network %q", config.ErrMissingEndpoint, network.Name)
	}

	backend, err := r.dial(ctx, network.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", network.Name, err)
	}

	closeBackend := func() {}
	if c, ok := backend.(interface{ Close() }); ok {
		closeBackend = c.Close
	}
	return backend, closeBackend, nil
}

// record writes the deployment to the ledger when one is configured.
// Ledger failures are logged and do not fail the run.
func (r *Runner) record(ctx context.Context, network *config.Network, artifact *chains.Artifact, result *deploy.Result) *storage.Deployment {
	if r.store == nil {
		return nil
	}

	entry := &storage.Deployment{
		Network:         network.Name,
		ChainID:         result.ChainID.Int64(),
		ContractName:    artifact.Name,
		Address:         result.Address.Hex(),
		DeployerAddress: result.Deployer.Hex(),
		TxHash:          result.TxHash.Hex(),
		BlockNumber:     int64(result.BlockNumber),
		GasUsed:         int64(result.GasUsed),
	}
	if err := r.store.RecordDeployment(ctx, entry); err != nil {
		r.logger.Warn("failed to record deployment", slog.String("address", entry.Address), slog.String("error", err.Error()))
		return nil
	}
	return entry
}

func (r *Runner) markVerified(ctx context.Context, entry *storage.Deployment, results []*explorer.Result) {
	if r.store == nil || entry == nil || len(results) == 0 {
		return
	}

	verifiedOn := make([]string, 0, len(results))
	for _, res := range results {
		verifiedOn = append(verifiedOn, res.Verifier)
	}
	if err := r.store.UpdateVerificationStatus(ctx, entry.ID, true, verifiedOn); err != nil {
		r.logger.Warn("failed to update verification status", slog.String("id", entry.ID), slog.String("error", err.Error()))
	}
}

// contract is a resolved artifact with its verification input
type contract struct {
	artifact *chains.Artifact
	input    *chains.VerificationInput
}

// loadContract finds and parses the artifact. The verification input is
// required only when the run verifies.
func (r *Runner) loadContract(name string, needInput bool) (*contract, error) {
	if name == "" {
		name = r.project.Contract
	}
	dir := r.project.ProjectDir

	builder, err := r.registry.Resolve(r.project.Builder, dir)
	if err != nil {
		return nil, err
	}

	path, err := builder.FindArtifact(dir, name)
	if err != nil {
		return nil, err
	}

	artifact, err := builder.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", path, err)
	}

	input, err := builder.GetVerificationInput(dir, artifact.Name, artifact.SourcePath)
	if err != nil {
		if needInput || !errors.Is(err, chains.ErrBuildInfoNotFound) {
			return nil, fmt.Errorf("verification input for %s: %w", artifact.Name, err)
		}
		input = nil
	}

	compiled := artifact.Compiler.Version
	if input != nil && input.SolcLongVersion != "" {
		compiled = input.SolcLongVersion
	}
	if r.project.Solidity != "" && compiled != "" && !validation.SameCompiler(r.project.Solidity, compiled) {
		return nil, fmt.Errorf("%w: configured %s, %s was compiled with %s",
			chains.ErrCompilerMismatch, r.project.Solidity, artifact.Name, validation.ShortVersion(compiled))
	}

	r.logger.Debug("artifact loaded",
		slog.String("builder", builder.Name()),
		slog.String("contract", artifact.FullyQualifiedName()),
		slog.String("compiler", compiled),
	)
	return &contract{artifact: artifact, input: input}, nil
}
