package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/StreamPass/app/controllers"
	"github.com/ManuelReschke/StreamPass/internal/pkg/middleware"
	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

// unlimitedPaths are called by the media server and the payment gateway from a
// few fixed addresses. They authenticate by key or signature instead.
var unlimitedPaths = map[string]bool{
	"/api/v1/media/validate":   true,
	"/api/v1/gateway/callback": true,
}

type ApiRouter struct {
	handlers *controllers.Handlers
	cfg      Config
}

func (r ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", r.rateLimiter())

	v1 := api.Group("/v1")
	v1.Get("/ping", r.handlers.HandlePing)

	// Called by the media server and the payment gateway, not by users
	v1.Post("/media/validate", middleware.MediaKeyMiddleware(r.cfg.MediaKey), r.handlers.HandleValidateStreamToken)
	v1.Post("/gateway/callback", r.handlers.HandleGatewayCallback)

	user := v1.Group("", middleware.InternalKeyMiddleware(r.cfg.InternalKey), middleware.RequireCaller)
	user.Get("/wallet", r.handlers.HandleGetWallet)
	user.Get("/wallet/entries", r.handlers.HandleListWalletEntries)
	user.Post("/purchases", r.handlers.HandlePurchase)
	user.Get("/purchases/:id", r.handlers.HandleGetPurchase)
	user.Post("/tips", r.handlers.HandleTip)
	user.Post("/topups", r.handlers.HandleTopUp)
	user.Post("/subscriptions", r.handlers.HandleCreateSubscription)
	user.Get("/subscriptions/:id", r.handlers.HandleGetSubscription)
	user.Post("/subscriptions/:id/cancel", r.handlers.HandleCancelSubscription)
	user.Post("/stream-tokens", r.handlers.HandleIssueStreamToken)
}

// rateLimiter keys on the caller id when present so users behind one
// gateway address do not share a budget.
func (r ApiRouter) rateLimiter() fiber.Handler {
	max := r.cfg.RateLimitMax
	if max <= 0 {
		max = 120
	}
	window := r.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    r.cfg.LimiterStorage,
		Next: func(c *fiber.Ctx) bool {
			return unlimitedPaths[strings.TrimSuffix(c.Path(), "/")]
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := c.Get(usercontext.HeaderUserID); id != "" {
				return "user:" + id
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	})
}

func NewApiRouter(h *controllers.Handlers, cfg Config) *ApiRouter {
	return &ApiRouter{handlers: h, cfg: cfg}
}
