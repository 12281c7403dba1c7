package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/app/controllers"
	"github.com/ManuelReschke/StreamPass/internal/pkg/middleware"
)

type AdminRouter struct {
	handlers *controllers.Handlers
	cfg      Config
}

func (r AdminRouter) InstallRouter(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.AdminKeyMiddleware(r.cfg.AdminKey), middleware.RequireAdmin)
	adminGroup.Post("/coupons", r.handlers.HandleAdminCreateCoupon)

	// Ledger
	adminGroup.Get("/accounts/:id/entries", r.handlers.HandleAdminListEntries)
	adminGroup.Get("/accounts/:id/reconcile", r.handlers.HandleAdminReconcile)
	adminGroup.Post("/entries/:id/reverse", r.handlers.HandleAdminReverseEntry)
	adminGroup.Post("/payouts", r.handlers.HandleAdminPayout)
	adminGroup.Post("/topups/:id/refund", r.handlers.HandleAdminRefundTopUp)

	// Subscriptions + tokens
	adminGroup.Post("/subscriptions/:id/renew", r.handlers.HandleAdminRenewSubscription)
	adminGroup.Post("/subscriptions/:id/cancel", r.handlers.HandleAdminCancelSubscription)
	adminGroup.Post("/stream-tokens/:id/revoke", r.handlers.HandleAdminRevokeStreamToken)

	// Job queue
	adminGroup.Get("/jobs/stats", r.handlers.HandleAdminQueueStats)
	adminGroup.Post("/jobs/subscriptions/:id/renew", r.handlers.HandleAdminQueueRenewal)
}

func NewAdminRouter(h *controllers.Handlers, cfg Config) *AdminRouter {
	return &AdminRouter{handlers: h, cfg: cfg}
}
