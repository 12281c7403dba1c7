package router

import (
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsRouter serves the scrape, monitoring and API docs endpoints
type OpsRouter struct {
	cfg Config
}

func (r OpsRouter) InstallRouter(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// SWAGGER / OPENAPI
	if r.cfg.OpenAPIFile != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: r.cfg.OpenAPIFile,
			Path:     "v1",
		}))
	}

	if len(r.cfg.MonitorUsers) > 0 {
		app.Get("/monitor", basicauth.New(basicauth.Config{
			Users: r.cfg.MonitorUsers,
		}), monitor.New(monitor.Config{Title: "StreamPass Monitor"}))
	}
}

func NewOpsRouter(cfg Config) *OpsRouter {
	return &OpsRouter{cfg: cfg}
}
