package middleware

import (
	"github.com/gofiber/fiber/v3"
)

const callerIDKey = "callerID"

// CallerIdentity reads the X-Caller-ID header and stores it in request
// locals. The value is trusted as-is; authenticating it is the job of
// the gateway in front of this service.
func CallerIdentity() fiber.Handler {
	return func(c fiber.Ctx) error {
		if id := c.Get("X-Caller-ID"); id != "" {
			c.Locals(callerIDKey, id)
		}
		return c.Next()
	}
}

// GetCallerID returns the caller id set by CallerIdentity, or "".
func GetCallerID(c fiber.Ctx) string {
	id, _ := c.Locals(callerIDKey).(string)
	return id
}
