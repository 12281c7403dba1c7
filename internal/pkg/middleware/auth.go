package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

// RequireCaller ensures the request names the acting user and returns JSON 401 otherwise.
func RequireCaller(c *fiber.Ctx) error {
	if usercontext.GetCallerID(c) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "X-User-ID header required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures the request was authenticated with the admin key.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
