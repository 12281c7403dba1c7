package controllers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/internal/pkg/gateway"
	"github.com/ManuelReschke/StreamPass/internal/pkg/validation"
)

// HandleGatewayCallback applies a signed charge confirmation from the payment
// gateway.
func (h *Handlers) HandleGatewayCallback(c *fiber.Ctx) error {
	payload := c.Body()
	if !gateway.VerifySignature(payload, c.Get(gateway.SignatureHeader), h.WebhookSecret) {
		log.Warnf("[API] Gateway callback with invalid signature from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid signature"})
	}

	var cb gateway.Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validation.Struct(cb); err != nil {
		return respondError(c, err)
	}

	receipt, err := h.Purchases.HandleCallback(c.UserContext(), cb)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "receipt": receipt})
}
