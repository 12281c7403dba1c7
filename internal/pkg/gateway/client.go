package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/StreamPass/internal/pkg/env"
)

const defaultTimeout = 10 * time.Second

// Client talks to the payment gateway's JSON API.
type Client struct {
	BaseURL  string
	APIKey   string
	Currency string

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return NewClient(
		env.GetEnv("GATEWAY_BASE_URL", ""),
		env.GetEnv("GATEWAY_API_KEY", ""),
		env.GetEnvDuration("GATEWAY_TIMEOUT", defaultTimeout),
	)
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:   strings.TrimSpace(apiKey),
		Currency: env.GetEnv("CURRENCY", "EUR"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Currency == "" {
		req.Currency = c.Currency
	}
	var out ChargeResult
	if err := c.post(ctx, "/charges", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case StatusSucceeded, StatusPending:
		return &out, nil
	case StatusFailed:
		return &out, fmt.Errorf("%w: %s", ErrDeclined, out.FailureReason)
	default:
		return nil, fmt.Errorf("%w: unexpected charge status %q", ErrUnavailable, out.Status)
	}
}

func (c *Client) Refund(ctx context.Context, externalTxID string, amount int64) error {
	if strings.TrimSpace(externalTxID) == "" {
		return errors.New("external transaction id is required")
	}
	body := map[string]interface{}{"external_tx_id": externalTxID, "amount": amount}
	return c.post(ctx, "/refunds", "refund:"+externalTxID, body, nil)
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, in, out interface{}) error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status=%d body=%s", ErrDeclined, resp.StatusCode, string(body))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status=%d", ErrTimeout, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
