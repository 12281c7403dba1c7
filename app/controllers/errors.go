package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/app/repository"
	"github.com/ManuelReschke/StreamPass/internal/pkg/coupon"
	"github.com/ManuelReschke/StreamPass/internal/pkg/purchase"
	"github.com/ManuelReschke/StreamPass/internal/pkg/streamtoken"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/validation"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

type apiError struct {
	status  int
	code    string
	message string
}

// classify maps domain errors to status and error code. Order matters where
// errors wrap each other.
func classify(err error) apiError {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, purchase.ErrInvalidRequest),
		errors.Is(err, subscription.ErrInvalidRequest),
		errors.Is(err, streamtoken.ErrInvalidRequest),
		errors.Is(err, wallet.ErrInvalidEntry):
		return apiError{fiber.StatusBadRequest, "validation_error", err.Error()}

	case errors.Is(err, subscription.ErrRenewalFailed):
		return apiError{fiber.StatusPaymentRequired, "renewal_failed", err.Error()}
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return apiError{fiber.StatusPaymentRequired, "insufficient_funds", "Insufficient funds"}

	case errors.Is(err, purchase.ErrCouponNotAllowed):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_not_allowed", err.Error()}
	case errors.Is(err, coupon.ErrCouponNotFound):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_not_found", err.Error()}
	case errors.Is(err, coupon.ErrCouponInactive):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_inactive", err.Error()}
	case errors.Is(err, coupon.ErrCouponExpired):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_expired", err.Error()}
	case errors.Is(err, coupon.ErrCouponExhausted):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_exhausted", err.Error()}
	case errors.Is(err, coupon.ErrCouponScopeMismatch):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_scope_mismatch", err.Error()}
	case errors.Is(err, coupon.ErrCouponRejected):
		return apiError{fiber.StatusUnprocessableEntity, "coupon_rejected", err.Error()}

	case errors.Is(err, purchase.ErrGatewayTimeout):
		return apiError{fiber.StatusGatewayTimeout, "gateway_timeout", "Payment gateway timed out"}
	case errors.Is(err, purchase.ErrGatewayFailure):
		return apiError{fiber.StatusBadGateway, "gateway_failure", "Payment gateway failed"}
	case errors.Is(err, purchase.ErrRefundFailed):
		return apiError{fiber.StatusBadGateway, "refund_failed", "Gateway refund failed, wallet restored"}

	case errors.Is(err, purchase.ErrItemNotFound),
		errors.Is(err, purchase.ErrNotFound),
		errors.Is(err, purchase.ErrTopUpNotFound),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, streamtoken.ErrRoomNotFound),
		errors.Is(err, streamtoken.ErrTokenNotFound),
		errors.Is(err, wallet.ErrEntryNotFound),
		errors.Is(err, repository.ErrNotFound):
		return apiError{fiber.StatusNotFound, "not_found", err.Error()}
	case errors.Is(err, subscription.ErrPlanUnavailable):
		return apiError{fiber.StatusNotFound, "plan_unavailable", err.Error()}

	case errors.Is(err, purchase.ErrAlreadyPurchased):
		return apiError{fiber.StatusConflict, "already_purchased", err.Error()}
	case errors.Is(err, subscription.ErrRenewalNotDue):
		return apiError{fiber.StatusConflict, "renewal_not_due", err.Error()}
	case errors.Is(err, subscription.ErrSubscriptionTerminal):
		return apiError{fiber.StatusConflict, "subscription_terminal", err.Error()}
	case errors.Is(err, wallet.ErrIdempotencyConflict):
		return apiError{fiber.StatusConflict, "idempotency_conflict", err.Error()}
	case errors.Is(err, wallet.ErrReverseOfReversal):
		return apiError{fiber.StatusConflict, "conflict", err.Error()}
	case errors.Is(err, subscription.ErrPeriodAlreadyCharged):
		return apiError{fiber.StatusConflict, "period_already_charged", err.Error()}
	case errors.Is(err, purchase.ErrRefundInProgress):
		return apiError{fiber.StatusConflict, "refund_in_progress", err.Error()}
	case errors.Is(err, coupon.ErrCodeTaken):
		return apiError{fiber.StatusConflict, "coupon_code_taken", err.Error()}

	case errors.Is(err, streamtoken.ErrNotAuthorized):
		return apiError{fiber.StatusForbidden, "forbidden", err.Error()}
	case errors.Is(err, streamtoken.ErrTokenInvalid),
		errors.Is(err, streamtoken.ErrTokenExpired),
		errors.Is(err, streamtoken.ErrTokenRevoked),
		errors.Is(err, streamtoken.ErrTokenScopeMismatch):
		return apiError{fiber.StatusForbidden, "rejected", "Token rejected"}

	case errors.Is(err, context.DeadlineExceeded):
		return apiError{fiber.StatusGatewayTimeout, "timeout", "Request timed out"}
	}
	return apiError{fiber.StatusInternalServerError, "internal_server_error", "Internal server error"}
}

// respondError writes the JSON error body for err.
func respondError(c *fiber.Ctx, err error) error {
	e := classify(err)
	if e.status >= fiber.StatusInternalServerError && e.status != fiber.StatusGatewayTimeout && e.status != fiber.StatusBadGateway {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(e.status).JSON(fiber.Map{"error": e.code, "message": e.message})
}
