package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/app/models"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

type createSubscriptionRequest struct {
	PerformerID string `json:"performer_id"`
	Plan        string `json:"plan"`
}

// HandleCreateSubscription subscribes the caller to a performer.
func (h *Handlers) HandleCreateSubscription(c *fiber.Ctx) error {
	var body createSubscriptionRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	sub, err := h.Subscriptions.Create(c.UserContext(), usercontext.GetCallerID(c), body.PerformerID, body.Plan)
	if errors.Is(err, subscription.ErrPeriodAlreadyCharged) && sub != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":        "period_already_charged",
			"message":      err.Error(),
			"subscription": sub,
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleGetSubscription returns a subscription the caller is party to.
func (h *Handlers) HandleGetSubscription(c *fiber.Ctx) error {
	sub, err := h.callerSubscription(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// HandleCancelSubscription stops renewals of the caller's subscription.
func (h *Handlers) HandleCancelSubscription(c *fiber.Ctx) error {
	sub, err := h.callerSubscription(c)
	if err != nil {
		return respondError(c, err)
	}
	if sub.SubscriberID != usercontext.GetCallerID(c) {
		return respondError(c, subscription.ErrNotFound)
	}
	sub, err = h.Subscriptions.Cancel(c.UserContext(), sub.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// callerSubscription hides subscriptions of other users behind not found.
func (h *Handlers) callerSubscription(c *fiber.Ctx) (*models.Subscription, error) {
	sub, err := h.Subscriptions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	caller := usercontext.GetCallerID(c)
	if sub.SubscriberID != caller && sub.PerformerID != caller {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}
