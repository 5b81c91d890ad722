package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Sourcify match levels
const (
	sourcifyPerfect = "perfect"
	sourcifyPartial = "partial"
)

// Sourcify verifies contracts against a Sourcify server using the
// compiler metadata and sources
type Sourcify struct {
	*client
	serverURL string
	repoURL   string
}

// NewSourcify creates a Sourcify verifier
func NewSourcify(serverURL, repoURL string, opts ...Option) *Sourcify {
	return &Sourcify{
		client:    newClient(opts),
		serverURL: strings.TrimSuffix(serverURL, "/"),
		repoURL:   strings.TrimSuffix(repoURL, "/"),
	}
}

// Name returns the verifier name
func (s *Sourcify) Name() string {
	return "sourcify"
}

// ContractURL returns the repository page for a verified contract
func (s *Sourcify) ContractURL(chainID int64, address common.Address, status string) string {
	match := "full_match"
	if status == sourcifyPartial {
		match = "partial_match"
	}
	return fmt.Sprintf("%s/contracts/%s/%d/%s/", s.repoURL, match, chainID, address.Hex())
}

// sourcifyCheck is one element of a check-by-addresses response. Older
// servers report a flat status, newer ones one status per chain.
type sourcifyCheck struct {
	Address  string `json:"address"`
	Status   string `json:"status"`
	ChainIDs []struct {
		ChainID string `json:"chainId"`
		Status  string `json:"status"`
	} `json:"chainIds"`
}

// Check returns "perfect", "partial" or "" when the contract is unknown
func (s *Sourcify) Check(ctx context.Context, chainID int64, address common.Address) (string, error) {
	params := url.Values{
		"addresses": {address.Hex()},
		"chainIds":  {strconv.FormatInt(chainID, 10)},
	}

	var checks []sourcifyCheck
	if err := s.get(ctx, s.serverURL+"/check-by-addresses?"+params.Encode(), &checks); err != nil {
		return "", fmt.Errorf("check-by-addresses: %w", err)
	}

	want := strconv.FormatInt(chainID, 10)
	for _, c := range checks {
		if !strings.EqualFold(c.Address, address.Hex()) {
			continue
		}
		for _, ch := range c.ChainIDs {
			if ch.ChainID == want {
				return normalizeSourcifyStatus(ch.Status), nil
			}
		}
		return normalizeSourcifyStatus(c.Status), nil
	}
	return "", nil
}

func normalizeSourcifyStatus(status string) string {
	switch status {
	case sourcifyPerfect, "full":
		return sourcifyPerfect
	case sourcifyPartial:
		return sourcifyPartial
	default:
		return ""
	}
}

type sourcifyVerifyRequest struct {
	Address string            `json:"address"`
	Chain   string            `json:"chain"`
	Files   map[string]string `json:"files"`
}

type sourcifyVerifyResponse struct {
	Result []struct {
		Address string `json:"address"`
		ChainID string `json:"chainId"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"result"`
	Error string `json:"error"`
}

// Verify submits metadata.json and the sources. A contract Sourcify
// already knows is reported without resubmitting.
func (s *Sourcify) Verify(ctx context.Context, req Request) (*Result, error) {
	logger := s.logger.With(slog.String("verifier", s.Name()), slog.String("address", req.Address.Hex()))

	status, err := s.Check(ctx, req.ChainID, req.Address)
	if err != nil {
		return nil, err
	}
	if status != "" {
		logger.Info("contract already verified", slog.String("match", status))
		return &Result{
			Verifier: s.Name(),
			Status:   StatusAlreadyVerified,
			URL:      s.ContractURL(req.ChainID, req.Address, status),
			Message:  status + " match",
		}, nil
	}

	if req.Input == nil || req.Input.Metadata == "" {
		return nil, fmt.Errorf("%w: no compiler metadata", ErrMissingInput)
	}

	files := make(map[string]string, len(req.Input.Sources)+1)
	for path, content := range req.Input.Sources {
		files[path] = content
	}
	files["metadata.json"] = req.Input.Metadata

	body := sourcifyVerifyRequest{
		Address: req.Address.Hex(),
		Chain:   strconv.FormatInt(req.ChainID, 10),
		Files:   files,
	}

	var resp sourcifyVerifyResponse
	if err := s.postJSON(ctx, s.serverURL+"/verify", body, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, sourcifyErrorMessage(apiErr.Body))
		}
		return nil, fmt.Errorf("sourcify verify: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, resp.Error)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrVerificationFailed)
	}

	r := resp.Result[0]
	switch normalizeSourcifyStatus(r.Status) {
	case sourcifyPerfect:
		logger.Info("contract verified", slog.String("match", sourcifyPerfect))
		return &Result{Verifier: s.Name(), Status: StatusVerified, URL: s.ContractURL(req.ChainID, req.Address, sourcifyPerfect), Message: r.Message}, nil
	case sourcifyPartial:
		logger.Info("contract verified", slog.String("match", sourcifyPartial))
		return &Result{Verifier: s.Name(), Status: StatusPartial, URL: s.ContractURL(req.ChainID, req.Address, sourcifyPartial), Message: r.Message}, nil
	default:
		msg := r.Message
		if msg == "" {
			msg = r.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, msg)
	}
}

// sourcifyErrorMessage extracts {"error": "..."} from an error body
func sourcifyErrorMessage(body string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(body), &e) == nil && e.Error != "" {
		return e.Error
	}
	return body
}
