// darwin-ladder-service/middleware/sse_auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type contextKey string

const (
	UserIDContextKey    contextKey = "user_id"
	UserRolesContextKey contextKey = "user_roles"
	DeviceIDContextKey  contextKey = "device_id"
)

// TokenValidator checks an access token + device pair against the external
// auth service. *services.AuthServiceClient satisfies it; tests substitute
// their own.
type TokenValidator interface {
	ValidateToken(accessToken, deviceID string) (userID, device string, roles []string, err error)
}

// SSEAuthMiddleware validates `token` and `device_id` from query params via
// the external auth service. EventSource clients cannot set headers, so the
// match stream authenticates this way instead of through the gateway context.
//
// Usage:
//
//	app.Get("/match/stream", middleware.SSEAuthMiddleware(authClient), ladderService.StreamMatchEvents)
func SSEAuthMiddleware(authClient TokenValidator) func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("token")))
		deviceID := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("device_id")))

		if accessToken == "" || deviceID == "" {
			log.Printf("[SSEAuth] ❌ Missing query params on %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		userID, device, roles, err := authClient.ValidateToken(accessToken, deviceID)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for device %s: %v", deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		// Attach to Fiber context (like UserContextMiddleware, but from query)
		c.Locals(string(UserIDContextKey), userID)
		c.Locals(string(DeviceIDContextKey), device)
		c.Locals(string(UserRolesContextKey), roles)

		return c.Next()
	}
}
