package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Config carries the shared keys and limits of the HTTP surface
type Config struct {
	InternalKey string
	AdminKey    string
	MediaKey    string

	// OpenAPIFile is served under /docs/api/v1 when set
	OpenAPIFile string

	// MonitorUsers guards /monitor; the route is not mounted when empty
	MonitorUsers map[string]string

	RateLimitMax    int
	RateLimitWindow time.Duration
	// LimiterStorage shares rate limit counters between instances; nil keeps them in memory
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, h *controllers.Handlers, cfg Config) {
	setup(app, NewOpsRouter(cfg), NewApiRouter(h, cfg), NewAdminRouter(h, cfg))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
