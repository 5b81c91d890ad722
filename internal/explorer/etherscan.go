package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Etherscan verification job states returned by checkverifystatus
const (
	etherscanPending         = "Pending in queue"
	etherscanPass            = "Pass - Verified"
	etherscanAlreadyVerified = "Already Verified"
)

// etherscanResponse is the {status, message, result} envelope every
// Etherscan endpoint returns
type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// resultString returns result when it is a JSON string
func (r *etherscanResponse) resultString() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return string(r.Result)
	}
	return s
}

// etherscanSource is one entry of a getsourcecode result
type etherscanSource struct {
	SourceCode      string `json:"SourceCode"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
}

// Etherscan verifies contracts through an Etherscan-compatible API
type Etherscan struct {
	*client
	explorer Explorer
	apiKey   string
}

// NewEtherscan creates a verifier for the given explorer
func NewEtherscan(explorer Explorer, apiKey string, opts ...Option) *Etherscan {
	return &Etherscan{
		client:   newClient(opts),
		explorer: explorer,
		apiKey:   apiKey,
	}
}

// Name returns the verifier name
func (e *Etherscan) Name() string {
	return "etherscan"
}

// Explorer returns the explorer this verifier targets
func (e *Etherscan) Explorer() Explorer {
	return e.explorer
}

// endpoint builds the API URL. chainid is always sent, once, replacing any
// chainid already present in a configured api_url.
func (e *Etherscan) endpoint(params url.Values) string {
	u, err := url.Parse(e.explorer.APIURL)
	if err != nil {
		// The request constructor reports the malformed URL
		return e.explorer.APIURL
	}
	q := u.Query()
	for key, values := range params {
		q[key] = values
	}
	q.Set("chainid", strconv.FormatInt(e.explorer.ChainID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Etherscan) call(ctx context.Context, method string, params url.Values) (*etherscanResponse, error) {
	params.Set("apikey", e.apiKey)

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, e.endpoint(params), nil)
	} else {
		// Form fields go in the body, only chainid stays in the query
		req, err = http.NewRequestWithContext(ctx, method, e.endpoint(nil), strings.NewReader(params.Encode()))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	var resp etherscanResponse
	if err := e.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsVerified reports whether the explorer already has source for address
func (e *Etherscan) IsVerified(ctx context.Context, address common.Address) (bool, error) {
	resp, err := e.call(ctx, http.MethodGet, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address.Hex()},
	})
	if err != nil {
		return false, fmt.Errorf("getsourcecode: %w", err)
	}
	if resp.Status != "1" {
		return false, fmt.Errorf("getsourcecode: %s: %s", resp.Message, resp.resultString())
	}

	var sources []etherscanSource
	if err := json.Unmarshal(resp.Result, &sources); err != nil {
		return false, fmt.Errorf("getsourcecode: decoding result: %w", err)
	}
	return len(sources) > 0 && sources[0].SourceCode != "", nil
}

// Submit sends the standard JSON input and returns the job GUID
func (e *Etherscan) Submit(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	resp, err := e.call(ctx, http.MethodPost, url.Values{
		"module":          {"contract"},
		"action":          {"verifysourcecode"},
		"contractaddress": {req.Address.Hex()},
		"sourceCode":      {string(req.Input.StandardJSON)},
		"codeformat":      {"solidity-standard-json-input"},
		"contractname":    {req.ContractName},
		"compilerversion": {req.Input.CompilerVersion()},
		// Etherscan's parameter name is misspelled
		"constructorArguements": {strings.TrimPrefix(req.ConstructorArgs, "0x")},
	})
	if err != nil {
		return "", fmt.Errorf("verifysourcecode: %w", err)
	}

	result := resp.resultString()
	if resp.Status != "1" {
		if strings.Contains(strings.ToLower(result), "already verified") {
			return "", errAlreadyVerified
		}
		return "", fmt.Errorf("%w: %s", ErrVerificationFailed, result)
	}
	return result, nil
}

// CheckStatus returns the raw state of a verification job
func (e *Etherscan) CheckStatus(ctx context.Context, guid string) (string, error) {
	resp, err := e.call(ctx, http.MethodGet, url.Values{
		"module": {"contract"},
		"action": {"checkverifystatus"},
		"guid":   {guid},
	})
	if err != nil {
		return "", fmt.Errorf("checkverifystatus: %w", err)
	}
	return resp.resultString(), nil
}

// errAlreadyVerified is returned by Submit when the explorer rejects a
// duplicate submission
var errAlreadyVerified = errors.New("contract source code already verified")

// Verify checks for existing source, submits and polls until the job
// leaves the queue
func (e *Etherscan) Verify(ctx context.Context, req Request) (*Result, error) {
	addressURL := e.explorer.AddressURL(req.Address.Hex())
	logger := e.logger.With(slog.String("verifier", e.Name()), slog.String("address", req.Address.Hex()))

	verified, err := e.IsVerified(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	if verified {
		logger.Info("contract already verified")
		return &Result{Verifier: e.Name(), Status: StatusAlreadyVerified, URL: addressURL}, nil
	}

	guid, err := e.Submit(ctx, req)
	if errors.Is(err, errAlreadyVerified) {
		return &Result{Verifier: e.Name(), Status: StatusAlreadyVerified, URL: addressURL}, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("verification submitted", slog.String("guid", guid))

	pollCtx, cancel := context.WithTimeout(ctx, e.pollTimeout)
	defer cancel()

	for {
		if err := e.sleep(pollCtx); err != nil {
			return nil, fmt.Errorf("waiting for verification %s: %w", guid, err)
		}

		state, err := e.CheckStatus(pollCtx, guid)
		if err != nil {
			return nil, err
		}
		logger.Debug("verification status", slog.String("guid", guid), slog.String("state", state))

		switch {
		case state == etherscanPending:
			continue
		case state == etherscanPass:
			return &Result{Verifier: e.Name(), Status: StatusVerified, GUID: guid, URL: addressURL, Message: state}, nil
		case strings.EqualFold(state, etherscanAlreadyVerified):
			return &Result{Verifier: e.Name(), Status: StatusAlreadyVerified, GUID: guid, URL: addressURL, Message: state}, nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, state)
		}
	}
}
