package usercontext

import "github.com/gofiber/fiber/v2"

// CallerContext represents the authenticated caller of a request
type CallerContext struct {
	CallerID string `json:"caller_id"`
	IsAdmin  bool   `json:"is_admin"`
	// Channel names the key the request was authenticated with (internal, admin, media)
	Channel string `json:"channel"`
}

// GetCallerContext retrieves the caller context from fiber context
// Returns an anonymous context if none is set
func GetCallerContext(c *fiber.Ctx) CallerContext {
	if ctx, ok := c.Locals(KeyCallerContext).(CallerContext); ok {
		return ctx
	}
	return CallerContext{}
}

// SetCallerContext stores the caller context and its legacy locals
func SetCallerContext(c *fiber.Ctx, ctx CallerContext) {
	c.Locals(KeyCallerContext, ctx)
	c.Locals(KeyCallerID, ctx.CallerID)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
}

// GetCallerID returns the current caller id, or an empty string for anonymous requests
func GetCallerID(c *fiber.Ctx) string {
	return GetCallerContext(c).CallerID
}

// IsAdmin checks if the request was authenticated with the admin key
func IsAdmin(c *fiber.Ctx) bool {
	return GetCallerContext(c).IsAdmin
}
