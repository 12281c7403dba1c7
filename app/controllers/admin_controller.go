package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/app/models"
)

type payoutRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id"`
}

type forceCancelRequest struct {
	Reason string `json:"reason"`
}

// HandleAdminCreateCoupon creates a coupon.
func (h *Handlers) HandleAdminCreateCoupon(c *fiber.Ctx) error {
	var cp models.Coupon
	if err := c.BodyParser(&cp); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.Coupons.Create(c.UserContext(), &cp); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cp)
}

// HandleAdminListEntries lists the ledger of any account.
func (h *Handlers) HandleAdminListEntries(c *fiber.Ctx) error {
	return h.listEntries(c, c.Params("id"))
}

// HandleAdminReconcile compares the cached balance with the ledger sum.
func (h *Handlers) HandleAdminReconcile(c *fiber.Ctx) error {
	rec, err := h.Wallet.Reconcile(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandleAdminReverseEntry appends the offsetting entry.
func (h *Handlers) HandleAdminReverseEntry(c *fiber.Ctx) error {
	entry, replayed, err := h.Wallet.Reverse(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusCreated
	if replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"entry": entry, "replayed": replayed})
}

// HandleAdminPayout debits a performer wallet for an external payout.
func (h *Handlers) HandleAdminPayout(c *fiber.Ctx) error {
	var body payoutRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	body.AccountID = strings.TrimSpace(body.AccountID)
	body.RequestID = strings.TrimSpace(body.RequestID)
	if body.AccountID == "" || body.RequestID == "" {
		return badRequest(c, "account_id and request_id are required")
	}
	entry, replayed, err := h.Wallet.Payout(c.UserContext(), body.AccountID, body.Amount, "payout:"+body.AccountID+":"+body.RequestID)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusCreated
	if replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"entry": entry, "replayed": replayed})
}

// HandleAdminRenewSubscription runs a renewal now. A declined charge answers
// 402 with the expired subscription.
func (h *Handlers) HandleAdminRenewSubscription(c *fiber.Ctx) error {
	sub, err := h.Subscriptions.Renew(c.UserContext(), c.Params("id"))
	if err != nil {
		e := classify(err)
		body := fiber.Map{"error": e.code, "message": e.message}
		if sub != nil {
			body["subscription"] = sub
		}
		return c.Status(e.status).JSON(body)
	}
	return c.JSON(sub)
}

// HandleAdminCancelSubscription force-cancels a subscription.
func (h *Handlers) HandleAdminCancelSubscription(c *fiber.Ctx) error {
	var body forceCancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if body.Reason == "" {
		body.Reason = "cancelled by operator"
	}
	sub, err := h.Subscriptions.ForceCancel(c.UserContext(), c.Params("id"), body.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// HandleAdminRevokeStreamToken revokes a token before its expiry.
func (h *Handlers) HandleAdminRevokeStreamToken(c *fiber.Ctx) error {
	if err := h.Tokens.Revoke(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"revoked": true, "id": c.Params("id")})
}

// HandleAdminRefundTopUp reverses a top-up and refunds it at the gateway.
func (h *Handlers) HandleAdminRefundTopUp(c *fiber.Ctx) error {
	entry, err := h.Purchases.RefundTopUp(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"entry": entry})
}
