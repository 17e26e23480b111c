// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/amirphl/wa-relay/app/dto"
	"github.com/amirphl/wa-relay/app/services"
	"github.com/gofiber/fiber/v3"
)

// AuthMiddleware authenticates API clients with a JWT bearer token or a static API key
type AuthMiddleware struct {
	tokenService services.TokenService
	apiKeyHeader string
	apiKeys      []string
}

// NewAuthMiddleware creates a new authentication middleware. tokenService may be nil when only API keys are accepted.
func NewAuthMiddleware(tokenService services.TokenService, apiKeyHeader string, apiKeys []string) *AuthMiddleware {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &AuthMiddleware{
		tokenService: tokenService,
		apiKeyHeader: apiKeyHeader,
		apiKeys:      apiKeys,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// Authenticate is the middleware function that validates credentials
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Static API key takes precedence when present
		if apiKey := c.Get(m.apiKeyHeader); apiKey != "" {
			if !m.validAPIKey(apiKey) {
				return unauthorized(c, "Invalid API key", "INVALID_API_KEY")
			}
			c.Locals("api_client", "api-key")
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header or API key is required", "MISSING_CREDENTIALS")
		}

		// Check if the header starts with "Bearer "
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}
		if m.tokenService == nil {
			return unauthorized(c, "Token authentication is not enabled", "TOKEN_AUTH_DISABLED")
		}

		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			if errors.Is(err, services.ErrTokenExpired) {
				return unauthorized(c, "Access token has expired", "TOKEN_EXPIRED")
			}
			if errors.Is(err, services.ErrTokenInvalid) {
				return unauthorized(c, "Invalid access token", "TOKEN_INVALID")
			}
			return unauthorized(c, "Token validation failed", "TOKEN_VALIDATION_FAILED")
		}

		// Store client information for downstream handlers
		c.Locals("api_client", claims.ClientName)
		c.Locals("token_claims", claims)

		return c.Next()
	}
}

func (m *AuthMiddleware) validAPIKey(key string) bool {
	for _, valid := range m.apiKeys {
		if valid != "" && subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
