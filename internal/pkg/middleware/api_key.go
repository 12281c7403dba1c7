package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/internal/pkg/security"
	"github.com/ManuelReschke/StreamPass/internal/pkg/usercontext"
)

const (
	HeaderInternalKey = "X-Internal-Key"
	HeaderAdminKey    = "X-Admin-Key"
	HeaderMediaKey    = "X-Media-Key"

	ChannelInternal = "internal"
	ChannelAdmin    = "admin"
	ChannelMedia    = "media"
)

// InternalKeyMiddleware authenticates service-to-service calls. The caller id
// is taken from X-User-ID, which the identity gateway sets after login.
func InternalKeyMiddleware(key string) fiber.Handler {
	return sharedKeyMiddleware(HeaderInternalKey, key, ChannelInternal)
}

// AdminKeyMiddleware authenticates operator calls.
func AdminKeyMiddleware(key string) fiber.Handler {
	return sharedKeyMiddleware(HeaderAdminKey, key, ChannelAdmin)
}

// MediaKeyMiddleware authenticates the media server.
func MediaKeyMiddleware(key string) fiber.Handler {
	return sharedKeyMiddleware(HeaderMediaKey, key, ChannelMedia)
}

func sharedKeyMiddleware(header, key, channel string) fiber.Handler {
	if key == "" {
		log.Warnf("[Middleware] No key configured for %s, all %s requests will be rejected", header, channel)
	}
	return func(c *fiber.Ctx) error {
		got := extractKey(c, header)
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if !security.EqualKeys(got, key) {
			log.Warnf("[Middleware] Invalid %s key from %s", channel, c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		usercontext.SetCallerContext(c, usercontext.CallerContext{
			CallerID: strings.TrimSpace(c.Get(usercontext.HeaderUserID)),
			IsAdmin:  channel == ChannelAdmin,
			Channel:  channel,
		})
		return c.Next()
	}
}

func extractKey(c *fiber.Ctx, header string) string {
	key := strings.TrimSpace(c.Get(header))
	if key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
