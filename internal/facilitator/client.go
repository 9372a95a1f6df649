// Package facilitator talks to the external x402 payment facilitator that
// verifies and settles signed payment authorizations.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Requirements describes what the operator expects a payment to satisfy. It
// is sent alongside the payment header on both verify and settle calls.
type Requirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	MaxTimeoutSeconds int64  `json:"maxTimeoutSeconds"`
}

// VerifyResult is the facilitator's verdict on a payment, with no funds moved.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult reports the outcome of actually moving funds.
type SettleResult struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"transaction,omitempty"`
	NetworkID   string `json:"network,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Client is an authenticated HTTP client for one facilitator service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// HasCredentials reports whether the client can authenticate at all. Handlers
// turn a false into a 500 before touching any payment state.
func (c *Client) HasCredentials() bool { return c.apiKey != "" }

type requestBody struct {
	X402Version         int          `json:"x402Version"`
	PaymentHeader       string       `json:"paymentHeader"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}

func (c *Client) post(ctx context.Context, op, path, paymentHeader string, reqs Requirements, out any) error {
	body, err := json.Marshal(requestBody{
		X402Version:         1,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode >= 500 {
		return &TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// A 4xx verdict is terminal even when the body is not a result we
		// can parse; only 2xx garbage suggests something broke in transit.
		if resp.StatusCode >= 400 {
			return &RejectionError{
				Op:     op,
				Reason: fmt.Sprintf("status %d", resp.StatusCode),
				Detail: truncateBody(raw),
			}
		}
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncateBody(raw []byte) string {
	const max = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Verify asks the facilitator to check the payment cryptographically and
// against current chain state. Never moves funds. A facilitator-reported
// invalid verdict comes back as a *RejectionError.
func (c *Client) Verify(ctx context.Context, paymentHeader string, reqs Requirements) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.post(ctx, "verify", "/verify", paymentHeader, reqs, &res); err != nil {
		return nil, err
	}
	if !res.IsValid {
		return nil, &RejectionError{Op: "verify", Reason: res.InvalidReason}
	}
	return &res, nil
}

// Settle moves the funds for a verified payment. Callers must have passed
// local verification, facilitator verification, and nonce reservation first.
// A facilitator-reported settlement failure comes back as a *RejectionError;
// the caller surfaces it as 402 and does not auto-retry.
func (c *Client) Settle(ctx context.Context, paymentHeader string, reqs Requirements) (*SettleResult, error) {
	var res SettleResult
	if err := c.post(ctx, "settle", "/settle", paymentHeader, reqs, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectionError{Op: "settle", Reason: res.ErrorReason}
	}
	return &res, nil
}
