package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/internal/pkg/streamtoken"
	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

type issueTokenRequest struct {
	RoomID         string `json:"room_id"`
	Mode           string `json:"mode"`
	SubscriptionID string `json:"subscription_id"`
	PurchaseID     string `json:"purchase_id"`
}

type validateTokenRequest struct {
	Token  string `json:"token"`
	RoomID string `json:"room_id"`
	Mode   string `json:"mode"`
}

// HandleIssueStreamToken mints a publish or play token for the caller.
func (h *Handlers) HandleIssueStreamToken(c *fiber.Ctx) error {
	var body issueTokenRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	issued, err := h.Tokens.Issue(c.UserContext(), usercontext.GetCallerID(c), body.RoomID, body.Mode, streamtoken.Proof{
		SubscriptionID: body.SubscriptionID,
		PurchaseID:     body.PurchaseID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(issued)
}

// HandleValidateStreamToken answers the media server's admission check. The
// reason of a rejection is logged but never returned.
func (h *Handlers) HandleValidateStreamToken(c *fiber.Ctx) error {
	var body validateTokenRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"authorized": false})
	}
	claims, err := h.Tokens.Validate(c.UserContext(), body.Token, body.RoomID, body.Mode)
	if err != nil {
		log.Debugf("[API] Stream token rejected for room %s (%s): %v", body.RoomID, body.Mode, err)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"authorized": false})
	}
	return c.JSON(fiber.Map{
		"authorized": true,
		"subject":    claims.Subject,
		"expires_at": claims.ExpiresAt.Time,
	})
}
