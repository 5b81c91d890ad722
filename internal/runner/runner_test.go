package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pendergraft/verideploy/internal/chains"
	"github.com/pendergraft/verideploy/internal/config"
	"github.com/pendergraft/verideploy/internal/deploy"
	"github.com/pendergraft/verideploy/internal/deploy/deploytest"
	"github.com/pendergraft/verideploy/internal/explorer"
	"github.com/pendergraft/verideploy/internal/storage"
)

const testSource = "contracts/ContractEvents.sol"

func writeJSONFile(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// newHardhatProject lays out a compiled Hardhat project whose
// ContractEvents artifact deploys the simulated chain's test contract
func newHardhatProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hardhat.config.js"), []byte("module.exports = {}"), 0644))

	artifactDir := filepath.Join(dir, "artifacts", testSource)
	writeJSONFile(t, filepath.Join(artifactDir, "ContractEvents.json"), map[string]any{
		"_format":          "hh-sol-artifact-1",
		"contractName":     "ContractEvents",
		"sourceName":       testSource,
		"abi":              []any{},
		"bytecode":         deploytest.CreationCode,
		"deployedBytecode": deploytest.RuntimeCode,
	})
	writeJSONFile(t, filepath.Join(artifactDir, "ContractEvents.dbg.json"), map[string]any{
		"_format":   "hh-sol-dbg-1",
		"buildInfo": "../../build-info/c0ffee.json",
	})

	metadata := `{"compiler":{"version":"0.8.9+commit.e5eed63a"},"language":"Solidity","settings":{"compilationTarget":{"contracts/ContractEvents.sol":"ContractEvents"},"optimizer":{"enabled":false,"runs":200}},"sources":{"contracts/ContractEvents.sol":{"license":"MIT"}}}`
	writeJSONFile(t, filepath.Join(dir, "artifacts", "build-info", "c0ffee.json"), map[string]any{
		"_format":         "hh-sol-build-info-1",
		"id":              "c0ffee",
		"solcVersion":     "0.8.9",
		"solcLongVersion": "0.8.9+commit.e5eed63a",
		"input": map[string]any{
			"language": "Solidity",
			"sources":  map[string]any{testSource: map[string]any{"content": "contract ContractEvents { event Stored(uint256); }"}},
			"settings": map[string]any{"optimizer": map[string]any{"enabled": false, "runs": 200}},
		},
		"output": map[string]any{
			"contracts": map[string]any{testSource: map[string]any{"ContractEvents": map[string]any{"metadata": metadata}}},
		},
	})
	return dir
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fakeExplorers serves minimal Etherscan and Sourcify APIs and records
// every verification submission
type fakeExplorers struct {
	mu              sync.Mutex
	etherscanState  string
	etherscanSubmit []url.Values
	sourcifySubmit  []map[string]any

	etherscan *httptest.Server
	sourcify  *httptest.Server
}

func newFakeExplorers(t *testing.T) *fakeExplorers {
	t.Helper()
	f := &fakeExplorers{etherscanState: "Pass - Verified"}

	es := chi.NewRouter()
	es.Get("/api", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "getsourcecode":
			writeJSON(w, map[string]any{"status": "1", "message": "OK", "result": []map[string]any{{"SourceCode": ""}}})
		case "checkverifystatus":
			f.mu.Lock()
			state := f.etherscanState
			f.mu.Unlock()
			writeJSON(w, map[string]any{"status": "1", "message": "OK", "result": state})
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
		}
	})
	es.Post("/api", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.etherscanSubmit = append(f.etherscanSubmit, r.PostForm)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"status": "1", "message": "OK", "result": "guid-1"})
	})
	f.etherscan = httptest.NewServer(es)
	t.Cleanup(f.etherscan.Close)

	sf := chi.NewRouter()
	sf.Get("/check-by-addresses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"address": r.URL.Query().Get("addresses"), "status": "false"}})
	})
	sf.Post("/verify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sourcifySubmit = append(f.sourcifySubmit, body)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"result": []map[string]any{{"address": body["address"], "chainId": body["chain"], "status": "perfect"}}})
	})
	f.sourcify = httptest.NewServer(sf)
	t.Cleanup(f.sourcify.Close)

	return f
}

type harness struct {
	chain   *deploytest.Chain
	fakes   *fakeExplorers
	project *config.Project
	out     bytes.Buffer
	report  bytes.Buffer
	dials   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chain: deploytest.NewChain(t),
		fakes: newFakeExplorers(t),
	}
	h.project = &config.Project{
		Solidity:       "0.8.9",
		DefaultNetwork: "sim",
		Contract:       "ContractEvents",
		ProjectDir:     newHardhatProject(t),
		Networks: map[string]config.Network{
			"sim": {
				Name:     "sim",
				URL:      "http://sim.invalid",
				Accounts: []string{h.chain.KeyHex()},
				ChainID:  deploytest.ChainID,
				Currency: "ETH",
			},
		},
		Etherscan: config.EtherscanConfig{
			APIKey: "test-key",
			CustomChains: []config.CustomChain{{
				Network:    "sim",
				ChainID:    deploytest.ChainID,
				APIURL:     h.fakes.etherscan.URL + "/api",
				BrowserURL: "https://sim.example",
			}},
		},
		Sourcify: config.SourcifyConfig{
			Enabled:    true,
			ServerURL:  h.fakes.sourcify.URL,
			BrowserURL: "https://repo.sim.example",
		},
		GasReporter: config.GasReporterConfig{Enabled: true},
	}
	return h
}

func (h *harness) runner(opts ...Option) *Runner {
	dial := func(ctx context.Context, url string) (deploy.Backend, error) {
		h.dials++
		return h.chain, nil
	}
	base := []Option{
		WithDialer(dial),
		WithOutput(&h.out),
		WithReportOutput(&h.report),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithExplorerOptions(
			explorer.WithRateLimit(rate.Inf, 1),
			explorer.WithPollInterval(time.Millisecond),
			explorer.WithPollTimeout(5*time.Second),
		),
	}
	return New(h.project, append(base, opts...)...)
}

func (h *harness) setNetwork(mutate func(n *config.Network)) {
	n := h.project.Networks["sim"]
	mutate(&n)
	h.project.Networks["sim"] = n
}

func TestRun_DeploysAndVerifies(t *testing.T) {
	h := newHarness(t)

	report, err := h.runner().Run(context.Background(), Options{Network: "sim", CheckCode: true})
	require.NoError(t, err)

	printed := strings.TrimSpace(h.out.String())
	require.True(t, common.IsHexAddress(printed), "stdout should be exactly the address, got %q", printed)
	assert.Equal(t, report.Deployment.Address.Hex(), printed)
	assert.Equal(t, 1, h.chain.Sends())
	assert.Equal(t, 1, h.dials)
	assert.Equal(t, int64(deploytest.ChainID), report.ChainID)
	assert.Equal(t, testSource+":ContractEvents", report.Contract)

	code, err := h.chain.CodeAt(context.Background(), report.Deployment.Address, nil)
	require.NoError(t, err)
	assert.Equal(t, common.FromHex(deploytest.RuntimeCode), code)
	assert.Equal(t, "full", report.CodeCheck.MatchType)

	// Exactly one request per verifier, for the printed address, with no
	// constructor arguments
	require.Len(t, h.fakes.etherscanSubmit, 1)
	form := h.fakes.etherscanSubmit[0]
	assert.Equal(t, printed, form.Get("contractaddress"))
	assert.Equal(t, "", form.Get("constructorArguements"))
	assert.Equal(t, testSource+":ContractEvents", form.Get("contractname"))
	assert.Equal(t, "v0.8.9+commit.e5eed63a", form.Get("compilerversion"))

	require.Len(t, h.fakes.sourcifySubmit, 1)
	assert.Equal(t, printed, h.fakes.sourcifySubmit[0]["address"])
	assert.Equal(t, "1337", h.fakes.sourcifySubmit[0]["chain"])

	require.Len(t, report.Verifications, 2)
	assert.Equal(t, "etherscan", report.Verifications[0].Verifier)
	assert.Equal(t, explorer.StatusVerified, report.Verifications[0].Status)
	assert.Equal(t, "sourcify", report.Verifications[1].Verifier)

	assert.Contains(t, h.report.String(), "ContractEvents")
	assert.Contains(t, h.report.String(), "COST (ETH)")
}

func TestRun_InvalidConfigFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *harness)
		wantErr error
	}{
		{
			name:    "missing credential",
			mutate:  func(h *harness) { h.setNetwork(func(n *config.Network) { n.Accounts = nil }) },
			wantErr: config.ErrMissingCredential,
		},
		{
			name:    "missing endpoint",
			mutate:  func(h *harness) { h.setNetwork(func(n *config.Network) { n.URL = "" }) },
			wantErr: config.ErrMissingEndpoint,
		},
		{
			name:    "malformed credential",
			mutate:  func(h *harness) { h.setNetwork(func(n *config.Network) { n.Accounts = []string{"not-a-key"} }) },
			wantErr: config.ErrInvalidCredential,
		},
		{
			name:    "unknown network",
			mutate:  func(h *harness) { delete(h.project.Networks, "sim") },
			wantErr: config.ErrUnknownNetwork,
		},
		{
			name:    "compiler mismatch",
			mutate:  func(h *harness) { h.project.Solidity = "0.8.20" },
			wantErr: chains.ErrCompilerMismatch,
		},
		{
			name:    "missing artifact",
			mutate:  func(h *harness) { h.project.Contract = "Missing" },
			wantErr: chains.ErrArtifactNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.mutate(h)

			_, err := h.runner().Run(context.Background(), Options{Network: "sim"})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, h.dials)
			assert.Equal(t, 0, h.chain.Sends())
			assert.Empty(t, h.out.String())
			assert.Empty(t, h.fakes.etherscanSubmit)
			assert.Empty(t, h.fakes.sourcifySubmit)
		})
	}
}

func TestRun_NothingDeployedWhenRunCannotFinish(t *testing.T) {
	t.Run("chain id mismatch", func(t *testing.T) {
		h := newHarness(t)
		h.setNetwork(func(n *config.Network) { n.ChainID = 59140 })

		_, err := h.runner().Run(context.Background(), Options{Network: "sim"})
		assert.ErrorIs(t, err, deploy.ErrChainIDMismatch)
		assert.Equal(t, 0, h.chain.Sends())
	})

	t.Run("no verifier", func(t *testing.T) {
		h := newHarness(t)
		h.project.Etherscan.APIKey = ""
		h.project.Sourcify.Enabled = false

		_, err := h.runner().Run(context.Background(), Options{Network: "sim"})
		assert.ErrorIs(t, err, ErrNoVerifier)
		assert.Equal(t, 0, h.chain.Sends())
	})
}

func TestRun_EtherscanSkippedWithoutAPIKey(t *testing.T) {
	h := newHarness(t)
	h.project.Etherscan.APIKey = ""

	report, err := h.runner().Run(context.Background(), Options{Network: "sim"})
	require.NoError(t, err)
	assert.Empty(t, h.fakes.etherscanSubmit)
	require.Len(t, report.Verifications, 1)
	assert.Equal(t, "sourcify", report.Verifications[0].Verifier)
}

func TestRun_VerificationFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.fakes.etherscanState = "Fail - Unable to verify"

	report, err := h.runner().Run(context.Background(), Options{Network: "sim"})
	require.Error(t, err)
	assert.ErrorIs(t, err, explorer.ErrVerificationFailed)
	assert.Contains(t, err.Error(), "etherscan")

	// The deployment stands and the remaining verifier still ran
	assert.NotEmpty(t, strings.TrimSpace(h.out.String()))
	require.NotNil(t, report)
	require.Len(t, report.Verifications, 1)
	assert.Equal(t, "sourcify", report.Verifications[0].Verifier)
}

func TestRun_LedgerAndLaterVerify(t *testing.T) {
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "deployments.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	r := h.runner(WithStore(store))

	report, err := r.Run(context.Background(), Options{Network: "sim", SkipVerify: true})
	require.NoError(t, err)
	assert.Empty(t, report.Verifications)
	assert.Empty(t, h.fakes.etherscanSubmit)

	address := report.Deployment.Address
	entry, err := store.GetDeployment(context.Background(), deploytest.ChainID, address.Hex())
	require.NoError(t, err)
	assert.Equal(t, "ContractEvents", entry.ContractName)
	assert.Equal(t, "sim", entry.Network)
	assert.False(t, entry.Verified)
	assert.Equal(t, int64(report.Deployment.GasUsed), entry.GasUsed)

	// The chain id comes from the profile, so verify does not dial
	dials := h.dials
	verified, err := r.Verify(context.Background(), Options{Network: "sim"}, address)
	require.NoError(t, err)
	assert.Equal(t, dials, h.dials)
	assert.Len(t, verified.Verifications, 2)
	require.Len(t, h.fakes.etherscanSubmit, 1)
	assert.Equal(t, address.Hex(), h.fakes.etherscanSubmit[0].Get("contractaddress"))

	entry, err = store.GetDeployment(context.Background(), deploytest.ChainID, address.Hex())
	require.NoError(t, err)
	assert.True(t, entry.Verified)
	assert.Equal(t, []string{"etherscan", "sourcify"}, entry.VerifiedOn)
}

func TestVerify_DialsForUnknownChainID(t *testing.T) {
	h := newHarness(t)
	h.setNetwork(func(n *config.Network) {
		n.ChainID = 0
		n.Accounts = nil
	})

	address := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	report, err := h.runner().Verify(context.Background(), Options{Network: "sim"}, address)
	require.NoError(t, err)
	assert.Equal(t, 1, h.dials)
	assert.Equal(t, int64(deploytest.ChainID), report.ChainID)
	require.Len(t, h.fakes.sourcifySubmit, 1)
	assert.Equal(t, address.Hex(), h.fakes.sourcifySubmit[0]["address"])
}

func TestDialEthclient(t *testing.T) {
	_, err := DialEthclient(context.Background(), "unsupported://endpoint")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, config.ErrMissingEndpoint))
}
