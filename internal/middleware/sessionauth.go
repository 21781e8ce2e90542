package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/syndexlabs/syndex-messaging/internal/auth"
)

// claimsKey is the fiber locals key the verified claims are stored under.
const claimsKey = "session_claims"

// SessionAuth returns a middleware that requires a valid platform-issued
// token on every request. The token comes from the Authorization header
// or, for websocket upgrades where browsers cannot set headers, from the
// "token" query parameter.
func SessionAuth(verifier *auth.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(strings.TrimPrefix(c.Get("Authorization"), "Bearer"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// ClaimsFromCtx returns the verified claims stored by SessionAuth.
func ClaimsFromCtx(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(claimsKey).(*auth.Claims)
	return claims, ok
}
