// Package custody implements the client for the external asset-custody
// service that holds user balances and executes authenticated transfers.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akindolabs/pulsemarket/internal/crypto"
	"github.com/akindolabs/pulsemarket/internal/domain"
)

// Client is the REST client for the custody gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a custody gateway client.
//
// baseURL is the gateway API root, e.g. "https://custody.internal:7000".
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

// transferPayload is the wire form of a transfer request.
type transferPayload struct {
	Owner       string `json:"owner"`
	Amount      uint64 `json:"amount"`
	TargetNode  string `json:"target_node"`
	TargetOwner string `json:"target_owner"`
}

// transferResult is the gateway's response to a transfer request.
type transferResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
}

// Transfer asks the gateway to move req.Amount out of req.Owner's account
// into the target account. A non-success response is returned as an error;
// the caller must abort its operation.
func (c *Client) Transfer(ctx context.Context, req domain.TransferRequest) error {
	payload := transferPayload{
		Owner:       req.Owner.Hex(),
		Amount:      uint64(req.Amount),
		TargetNode:  string(req.Target.Node),
		TargetOwner: req.Target.Owner.Hex(),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/transfer", payload)
	if err != nil {
		return fmt.Errorf("custody: transfer: %w", err)
	}

	var result transferResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("custody: decode transfer result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("custody: transfer rejected: %s", result.ErrorMsg)
	}

	return nil
}

// doAuthenticatedRequest performs an HMAC-authenticated HTTP request against
// the gateway and returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	for k, v := range c.auth.Headers(method, path, string(bodyBytes)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	}

	return respBody, nil
}

// Compile-time interface check.
var _ domain.CustodyGateway = (*Client)(nil)
