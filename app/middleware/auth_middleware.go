// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/app/services"
	"github.com/zapcast/zapcast/config"
)

// TenantIDKey is the fiber locals key holding the authenticated tenant id
const TenantIDKey = "tenant_id"

// AuthMiddleware handles JWT token validation for protected endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate is the middleware function that validates JWT tokens
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Authorization header is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_AUTHORIZATION_HEADER",
				},
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid authorization header format. Expected 'Bearer <token>'",
				Error: dto.ErrorDetail{
					Code: "INVALID_AUTHORIZATION_FORMAT",
				},
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Access token is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_ACCESS_TOKEN",
				},
			})
		}

		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			errorCode := "TOKEN_INVALID"
			message := "Invalid access token"
			if errors.Is(err, services.ErrTokenExpired) {
				errorCode = "TOKEN_EXPIRED"
				message = "Access token has expired"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: message,
				Error: dto.ErrorDetail{
					Code: errorCode,
				},
			})
		}

		c.Locals(TenantIDKey, claims.TenantID)
		return c.Next()
	}
}

// TenantID extracts the authenticated tenant from the request context.
// Returns 0 when the route was not authenticated.
func TenantID(c fiber.Ctx) uint {
	if v, ok := c.Locals(TenantIDKey).(uint); ok {
		return v
	}
	return 0
}

// APIKeyMiddleware validates a shared API key for webhook-style endpoints
// where the caller is another service, not a tenant user.
type APIKeyMiddleware struct {
	cfg config.SecurityConfig
}

// NewAPIKeyMiddleware creates a new API key middleware
func NewAPIKeyMiddleware(cfg config.SecurityConfig) *APIKeyMiddleware {
	return &APIKeyMiddleware{cfg: cfg}
}

// Require rejects requests missing a known API key
func (m *APIKeyMiddleware) Require() fiber.Handler {
	return func(c fiber.Ctx) error {
		if !m.cfg.RequireAPIKey {
			return c.Next()
		}

		header := m.cfg.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		key := c.Get(header)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "API key is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_API_KEY",
				},
			})
		}

		for _, allowed := range m.cfg.AllowedAPIKeys {
			if key == allowed {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
			Success: false,
			Message: "Invalid API key",
			Error: dto.ErrorDetail{
				Code: "INVALID_API_KEY",
			},
		})
	}
}
