package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/purchase"
	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

type tipRequest struct {
	PerformerID string `json:"performer_id"`
	Amount      int64  `json:"amount"`
	RequestID   string `json:"request_id"`
}

type topUpRequest struct {
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id"`
}

// HandlePurchase buys a photo, video, feed or stream ticket for the caller.
func (h *Handlers) HandlePurchase(c *fiber.Ctx) error {
	var req purchase.Request
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if !models.IsContentItemType(req.Item.Type) {
		return badRequest(c, "item.type must be one of photo, video, feed, stream")
	}
	return h.purchase(c, req)
}

// HandleTip sends a tip from the caller to a performer.
func (h *Handlers) HandleTip(c *fiber.Ctx) error {
	var body tipRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	return h.purchase(c, purchase.Request{
		Item:      purchase.Item{Type: models.ItemTypeTip, Amount: body.Amount, PerformerID: body.PerformerID},
		RequestID: body.RequestID,
	})
}

// HandleTopUp funds the caller's wallet through the payment gateway.
func (h *Handlers) HandleTopUp(c *fiber.Ctx) error {
	var body topUpRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	return h.purchase(c, purchase.Request{
		Item:      purchase.Item{Type: models.ItemTypeTopUp, Amount: body.Amount},
		RequestID: body.RequestID,
	})
}

// HandleGetPurchase returns one of the caller's receipts.
func (h *Handlers) HandleGetPurchase(c *fiber.Ctx) error {
	receipt, err := h.Purchases.GetPurchase(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if receipt.BuyerID != usercontext.GetCallerID(c) {
		return respondError(c, purchase.ErrNotFound)
	}
	return c.JSON(receipt)
}

func (h *Handlers) purchase(c *fiber.Ctx, req purchase.Request) error {
	req.BuyerID = usercontext.GetCallerID(c)
	receipt, err := h.Purchases.Purchase(c.UserContext(), req)
	if errors.Is(err, purchase.ErrAlreadyPurchased) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "already_purchased",
			"message": "Item already purchased",
			"receipt": receipt,
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	switch {
	case receipt.Pending:
		return c.Status(fiber.StatusAccepted).JSON(receipt)
	case receipt.Replayed:
		return c.Status(fiber.StatusOK).JSON(receipt)
	default:
		return c.Status(fiber.StatusCreated).JSON(receipt)
	}
}
