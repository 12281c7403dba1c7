package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/internal/pkg/coupon"
	"github.com/ManuelReschke/StreamPass/internal/pkg/jobqueue"
	"github.com/ManuelReschke/StreamPass/internal/pkg/purchase"
	"github.com/ManuelReschke/StreamPass/internal/pkg/streamtoken"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

// Handlers serves the HTTP API on top of the domain services.
type Handlers struct {
	Wallet        *wallet.Service
	Purchases     *purchase.Orchestrator
	Subscriptions *subscription.Manager
	Tokens        *streamtoken.Issuer
	Coupons       coupon.Repository
	// Jobs is nil when the scheduler is disabled.
	Jobs *jobqueue.Manager
	// WebhookSecret verifies gateway callback signatures.
	WebhookSecret string
}

// HandlePing answers liveness checks.
func (h *Handlers) HandlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": message})
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
