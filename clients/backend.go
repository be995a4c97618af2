package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/sendtag/types"
	"github.com/vitwit/sendtag/utils"
)

// Postgres error codes the reservation service passes through.
const (
	pgUniqueViolation = "23505"
	pgRaiseException  = "P0001"
)

// BackendClient talks to the tag reservation and confirmation service.
type BackendClient struct {
	httpClient *http.Client
	baseURL    string
	// token is SENSITIVE - never logged
	token string
}

// NewBackendClient creates a client for baseURL authenticated with a bearer token.
// A nil httpClient uses one with the given timeout.
func NewBackendClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) (*BackendClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &types.SendtagError{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("invalid backend url %q", baseURL),
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &BackendClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}, nil
}

// Tags returns every tag reserved by the account, pending and confirmed.
func (c *BackendClient) Tags(ctx context.Context) ([]types.Tag, error) {
	body, err := c.do(ctx, http.MethodGet, "/tags", nil)
	if err != nil {
		return nil, err
	}
	return utils.ParseTags(body)
}

// CreateTag reserves name as a pending tag.
func (c *BackendClient) CreateTag(ctx context.Context, name string) error {
	if err := utils.ValidateTagName(name); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, "/tags", map[string]string{"name": name})
	return err
}

// DeleteTag releases a pending reservation.
func (c *BackendClient) DeleteTag(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tags/"+url.PathEscape(name), nil)
	return err
}

// Receipts returns the payment receipts already consumed by the account.
func (c *BackendClient) Receipts(ctx context.Context) ([]types.Receipt, error) {
	body, err := c.do(ctx, http.MethodGet, "/receipts", nil)
	if err != nil {
		return nil, err
	}
	return utils.ParseReceipts(body)
}

// ChainAddresses returns the account's verified addresses.
func (c *BackendClient) ChainAddresses(ctx context.Context) ([]types.ChainAddress, error) {
	body, err := c.do(ctx, http.MethodGet, "/chain-addresses", nil)
	if err != nil {
		return nil, err
	}
	return utils.ParseChainAddresses(body)
}

// VerifyAddress submits a signed ownership message for address.
func (c *BackendClient) VerifyAddress(ctx context.Context, address common.Address, signature string) error {
	_, err := c.do(ctx, http.MethodPost, "/chain-addresses", map[string]string{
		"address":   address.Hex(),
		"signature": signature,
	})
	return err
}

type confirmRequest struct {
	TransactionHash *string `json:"transaction_hash"`
}

// ConfirmTags asks the backend to confirm all pending tags. A nil txHash
// confirms tags that are free.
func (c *BackendClient) ConfirmTags(ctx context.Context, txHash *common.Hash) error {
	var req confirmRequest
	if txHash != nil {
		h := txHash.Hex()
		req.TransactionHash = &h
	}
	_, err := c.do(ctx, http.MethodPost, "/tags/confirm", req)
	return err
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *BackendClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.SendtagError{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseBackendError(resp.StatusCode, body)
	}
	return body, nil
}

// parseBackendError keeps the backend's message verbatim; callers classify
// some failures by message text.
func parseBackendError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Message == "" {
		return &types.SendtagError{
			Code:    types.ErrBackend,
			Message: fmt.Sprintf("backend returned %d: %s", status, strings.TrimSpace(string(body))),
		}
	}

	code := types.ErrBackend
	switch er.Error.Code {
	case pgUniqueViolation:
		code = types.ErrDuplicateTag
	case pgRaiseException:
		code = types.ErrInsufficientEligibility
	}
	return &types.SendtagError{
		Code:    code,
		Message: er.Error.Message,
		Data:    map[string]any{"status": status, "backendCode": er.Error.Code},
	}
}
