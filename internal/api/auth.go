package api

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"herald-go/internal/config"
)

const (
	// TenantHeader names the tenant when authentication is disabled.
	TenantHeader = "X-Tenant-ID"

	// TenantClaim is the JWT claim holding the tenant ID.
	TenantClaim = "tenant_id"

	tenantLocal = "tenant_id"
)

// TenantMiddleware resolves the calling tenant. With auth enabled the tenant
// comes from the tenant_id claim of an HMAC-signed bearer token; otherwise
// from the X-Tenant-ID header.
func TenantMiddleware(cfg *config.AuthConfig, logger *slog.Logger) fiber.Handler {
	secret := []byte(cfg.JWTSecret)

	return func(c *fiber.Ctx) error {
		if !cfg.Enabled {
			tenant := strings.TrimSpace(c.Get(TenantHeader))
			if tenant == "" {
				return BadRequest(c, TenantHeader+" header is required")
			}
			c.Locals(tenantLocal, tenant)
			return c.Next()
		}

		const bearer = "Bearer "
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, bearer) {
			return Unauthorized(c, "bearer token is required")
		}

		token, err := jwt.Parse(header[len(bearer):], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			logger.Debug("rejected token", "error", err)
			if errors.Is(err, jwt.ErrTokenExpired) {
				return Unauthorized(c, "token has expired")
			}
			return Unauthorized(c, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			return Unauthorized(c, "invalid token claims")
		}
		tenant, _ := claims[TenantClaim].(string)
		if tenant == "" {
			return Unauthorized(c, "token has no tenant")
		}

		c.Locals(tenantLocal, tenant)
		return c.Next()
	}
}

// tenantID returns the tenant resolved by TenantMiddleware.
func tenantID(c *fiber.Ctx) string {
	tenant, _ := c.Locals(tenantLocal).(string)
	return tenant
}

// pagination reads limit and offset query parameters.
func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
