package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HandleAdminQueueStats reports the job queue sizes and counters.
func (h *Handlers) HandleAdminQueueStats(c *fiber.Ctx) error {
	if h.Jobs == nil {
		return schedulerDisabled(c)
	}
	stats, err := h.Jobs.Stats(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Failed to read queue stats: %v", err)
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// HandleAdminQueueRenewal queues a renewal job for one subscription instead
// of charging inside the request.
func (h *Handlers) HandleAdminQueueRenewal(c *fiber.Ctx) error {
	if h.Jobs == nil {
		return schedulerDisabled(c)
	}
	sub, err := h.Subscriptions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if sub.IsTerminal() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "subscription_terminal", "message": "Subscription is expired or cancelled"})
	}
	job, err := h.Jobs.ScheduleRenewal(c.UserContext(), sub.ID)
	if err != nil {
		log.Errorf("[Admin] Failed to queue renewal of %s: %v", sub.ID, err)
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID, "subscription_id": sub.ID})
}

func schedulerDisabled(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "scheduler_disabled", "message": "Job queue is not running"})
}
