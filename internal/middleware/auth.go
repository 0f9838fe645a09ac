package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/thumbgen/tracker/internal/auth"
	"github.com/thumbgen/tracker/pkg/response"
)

type AuthMiddleware struct {
	jwtSecret string
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		return m.accept(c, parts[1])
	}
}

// AuthenticateUpgrade checks the credential of a websocket handshake before the
// upgrade. Browsers cannot set headers on websocket requests, so the token query
// parameter is accepted too.
func (m *AuthMiddleware) AuthenticateUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			if parts := strings.SplitN(c.Get("Authorization"), " ", 2); len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			return response.Unauthorized(c, "Missing token")
		}
		return m.accept(c, token)
	}
}

func (m *AuthMiddleware) accept(c *fiber.Ctx, token string) error {
	claims, err := auth.ValidateToken(token, m.jwtSecret)
	if err != nil {
		return response.Unauthorized(c, "Invalid or expired token")
	}

	// Store user info in context
	c.Locals("userId", claims.UserID)
	c.Locals("email", claims.Email)
	c.Locals("claims", claims)

	return c.Next()
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
