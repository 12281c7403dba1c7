package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

// HandleGetWallet returns the caller's balance.
func (h *Handlers) HandleGetWallet(c *fiber.Ctx) error {
	acc, err := h.Wallet.Balance(c.UserContext(), usercontext.GetCallerID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"account_id": acc.ID,
		"balance":    acc.Balance,
		"currency":   acc.Currency,
	})
}

// HandleListWalletEntries returns the caller's ledger, newest first.
func (h *Handlers) HandleListWalletEntries(c *fiber.Ctx) error {
	return h.listEntries(c, usercontext.GetCallerID(c))
}

func (h *Handlers) listEntries(c *fiber.Ctx, accountID string) error {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	entries, err := h.Wallet.ListEntries(c.UserContext(), accountID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"account_id": accountID,
		"entries":    entries,
		"limit":      limit,
		"offset":     offset,
	})
}
