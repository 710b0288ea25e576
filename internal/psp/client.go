// Package psp wraps the payment service provider's modification API. The
// provider is treated as an opaque HTTP service exposing capture, refund and
// donation operations; webhook verification lives in internal/webhook.
package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/seva-labs/paygate/internal/resilience"
)

// Amount is the provider's minor-unit money shape.
type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// ModificationRequest is the shared body for capture/refund calls.
type ModificationRequest struct {
	MerchantAccount   string `json:"merchantAccount"`
	OriginalReference string `json:"originalReference"`
	Reference         string `json:"reference,omitempty"`
	Amount            Amount `json:"modificationAmount"`
}

// DonationRequest submits a shopper donation using the token carried in the
// original notification's additional data.
type DonationRequest struct {
	MerchantAccount string `json:"merchantAccount"`
	DonationToken   string `json:"donationToken"`
	PaymentMethod   string `json:"paymentMethod"`
	Amount          Amount `json:"amount"`
}

// ModificationResponse is the provider's acknowledgement of a modification.
type ModificationResponse struct {
	PSPReference string `json:"pspReference"`
	Response     string `json:"response"`
}

// Client talks to the PSP's REST API.
type Client struct {
	BaseURL         string
	APIKey          string
	MerchantAccount string
	HTTP            *http.Client
	Breaker         *resilience.Breaker
}

// NewClient constructs a PSP client with an instrumented HTTP transport.
func NewClient(baseURL, apiKey, merchantAccount string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		APIKey:          apiKey,
		MerchantAccount: merchantAccount,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: breaker,
	}
}

// Capture requests a capture of a previously authorised payment. Failures
// are wrapped in CaptureError so the dispatcher can classify them as
// recoverable.
func (c *Client) Capture(ctx context.Context, req ModificationRequest) (ModificationResponse, error) {
	if req.MerchantAccount == "" {
		req.MerchantAccount = c.MerchantAccount
	}
	resp, err := c.post(ctx, "/capture", req)
	if err != nil {
		return ModificationResponse{}, &CaptureError{PSPReference: req.OriginalReference, Err: err}
	}
	return resp, nil
}

// Refund requests a refund against the original authorisation.
func (c *Client) Refund(ctx context.Context, req ModificationRequest) (ModificationResponse, error) {
	if req.MerchantAccount == "" {
		req.MerchantAccount = c.MerchantAccount
	}
	return c.post(ctx, "/refund", req)
}

// Donate forwards a shopper donation to the provider.
func (c *Client) Donate(ctx context.Context, req DonationRequest) (ModificationResponse, error) {
	if req.MerchantAccount == "" {
		req.MerchantAccount = c.MerchantAccount
	}
	return c.post(ctx, "/donations", req)
}

func (c *Client) post(ctx context.Context, path string, body any) (ModificationResponse, error) {
	var zero ModificationResponse
	if c == nil || c.HTTP == nil {
		return zero, fmt.Errorf("psp: client not configured")
	}
	if c.Breaker != nil && !c.Breaker.Allow() {
		return zero, resilience.ErrOpenCircuit
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.report(false)
		return zero, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.report(false)
		return zero, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.report(false)
		return zero, fmt.Errorf("psp: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out ModificationResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		c.report(false)
		return zero, fmt.Errorf("psp: decode %s response: %w", path, err)
	}
	c.report(true)
	return out, nil
}

func (c *Client) report(success bool) {
	if c.Breaker != nil {
		c.Breaker.Report(success)
	}
}
