package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/phitk/render/internal/auth"
	"github.com/phitk/render/pkg/response"
)

// AnonymousUser is the identity given to requests when auth is disabled.
const AnonymousUser = "local"

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string
}

// NewAuthMiddleware accepts OIDC tokens checked against verifier and, when
// jwtSecret is set, HMAC tokens signed with it. Either may be empty; with
// neither the API is open.
func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// Enabled reports whether requests must carry a token.
func (m *AuthMiddleware) Enabled() bool {
	return m.verifier != nil || m.jwtSecret != ""
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			c.Locals("userId", AnonymousUser)
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		identity, err := m.verify(parts[1])
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("identity", identity)
		c.Locals("userId", identity.Subject)
		c.Locals("email", identity.Email)
		return c.Next()
	}
}

// verify tries the OIDC verifier first and falls back to the shared secret.
func (m *AuthMiddleware) verify(token string) (*auth.Identity, error) {
	if m.verifier != nil {
		identity, err := m.verifier.Verify(token)
		if err == nil || m.jwtSecret == "" {
			return identity, err
		}
	}
	claims, err := auth.ValidateLegacyToken(token, m.jwtSecret)
	if err != nil {
		return nil, err
	}
	return claims.Identity(), nil
}

// RequireScope rejects authenticated callers whose token lacks scope. It is
// a no-op while auth is disabled.
func (m *AuthMiddleware) RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			return c.Next()
		}
		identity, ok := c.Locals("identity").(*auth.Identity)
		if !ok {
			return response.Unauthorized(c, "Missing authorization header")
		}
		if !identity.Allows(scope) {
			return response.Forbidden(c, "Token lacks the "+scope+" scope")
		}
		return c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
