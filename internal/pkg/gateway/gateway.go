package gateway

import (
	"context"
	"errors"
)

var (
	ErrTimeout       = errors.New("payment gateway timed out")
	ErrDeclined      = errors.New("payment gateway declined the charge")
	ErrUnavailable   = errors.New("payment gateway unavailable")
	ErrNotConfigured = errors.New("payment gateway is not configured")
)

const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// ChargeRequest asks the gateway to move money from an external payment
// method into the platform. IdempotencyKey is forwarded so a retried request
// never charges twice.
type ChargeRequest struct {
	AccountRef     string `json:"account_ref"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ChargeResult is the gateway's answer. A pending charge is settled later
// through a signed callback.
type ChargeResult struct {
	ExternalTxID  string `json:"external_tx_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Callback is the body of a signed gateway confirmation.
type Callback struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=191"`
	ExternalTxID   string `json:"external_tx_id" validate:"required,max=191"`
	Status         string `json:"status" validate:"required,oneof=succeeded failed"`
	FailureReason  string `json:"failure_reason"`
}

// Gateway is the narrow payment interface the purchase flow depends on.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, externalTxID string, amount int64) error
}
