// Package explorer submits contract source verification to block
// explorers (Etherscan-compatible APIs and Sourcify).
package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/pendergraft/verideploy/internal/chains"
)

// Verification errors
var (
	ErrVerificationFailed = errors.New("verification failed")
	ErrUnsupportedChain   = errors.New("no explorer configured for chain")
	ErrMissingInput       = errors.New("verification input incomplete")
)

// Status is the outcome of a successful verification
type Status string

const (
	StatusVerified        Status = "verified"
	StatusAlreadyVerified Status = "already verified"
	StatusPartial         Status = "partial"
)

// Request describes one contract to verify
type Request struct {
	Address      common.Address
	ChainID      int64
	ContractName string // fully qualified "contracts/Source.sol:Name"
	Input        *chains.VerificationInput
	// ConstructorArgs is the hex ABI encoding without 0x, empty for none
	ConstructorArgs string
}

func (r *Request) validate() error {
	if r.Input == nil || len(r.Input.StandardJSON) == 0 {
		return fmt.Errorf("%w: no standard JSON input", ErrMissingInput)
	}
	if r.Input.CompilerVersion() == "" {
		return fmt.Errorf("%w: no compiler version", ErrMissingInput)
	}
	return nil
}

// Result is returned for verified contracts
type Result struct {
	Verifier string `json:"verifier"`
	Status   Status `json:"status"`
	GUID     string `json:"guid,omitempty"`
	URL      string `json:"url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Verifier verifies deployed contracts with one explorer service
type Verifier interface {
	Name() string
	Verify(ctx context.Context, req Request) (*Result, error)
}

// APIError is a non-2xx HTTP response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// client holds the HTTP plumbing shared by the verifiers
type client struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// Option configures a verifier
type Option func(*client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) {
		cl.httpClient = c
	}
}

// WithRateLimit limits requests to r per second with the given burst
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(cl *client) {
		cl.limiter = rate.NewLimiter(r, burst)
	}
}

// WithPollInterval sets the delay between verification status checks
func WithPollInterval(d time.Duration) Option {
	return func(cl *client) {
		cl.pollInterval = d
	}
}

// WithPollTimeout bounds how long a pending verification is polled
func WithPollTimeout(d time.Duration) Option {
	return func(cl *client) {
		cl.pollTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cl *client) {
		cl.logger = logger
	}
}

func newClient(opts []Option) *client {
	c := &client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Etherscan's free tier allows 5 calls per second
		limiter:      rate.NewLimiter(rate.Limit(5), 1),
		pollInterval: 3 * time.Second,
		pollTimeout:  5 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) do(req *http.Request, result any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *client) get(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *client) postJSON(ctx context.Context, url string, body, result any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

// sleep waits for the poll interval or until ctx is done
func (c *client) sleep(ctx context.Context) error {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
