package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/pkg/jwt"
	"keycabinet/internal/pkg/password"
	"keycabinet/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Kiosk credential headers
const (
	HeaderKioskCode   = "X-Kiosk-Code"
	HeaderKioskSecret = "X-Kiosk-Secret"
)

// kioskCacheTTL bounds how long a verified secret skips bcrypt
const kioskCacheTTL = 5 * time.Minute

// ============================================================
// Staff (JWT)
// ============================================================

// AuthMiddleware validates the staff bearer token
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return response.Unauthorized(c, "Access token required")
		}
		accessToken := strings.TrimPrefix(authHeader, "Bearer ")

		// 2. Validate token
		claims, err := jwt.ValidateAccessToken(accessToken, secret)
		if err != nil {
			if err == jwt.ErrTokenExpired {
				return response.Unauthorized(c, "Access token expired")
			}
			return response.Unauthorized(c, "Invalid access token")
		}

		// 3. Set user info in context
		c.Locals("userID", claims.UserID)
		c.Locals("code", claims.Code)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// RoleMiddleware creates role-based authorization middleware
func RoleMiddleware(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals("role").(string)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				return c.Next()
			}
		}

		return response.Forbidden(c, "You don't have permission to access this resource")
	}
}

// AdminOnly middleware allows only ADMIN role
func AdminOnly() fiber.Handler {
	return RoleMiddleware("ADMIN")
}

// StaffOrAdmin middleware allows STAFF or ADMIN roles
func StaffOrAdmin() fiber.Handler {
	return RoleMiddleware("STAFF", "ADMIN")
}

// ============================================================
// Kiosk devices
// ============================================================

// KioskLookup finds an active kiosk by code (nil when unknown)
type KioskLookup interface {
	GetByCode(ctx context.Context, code string) (*models.Kiosk, error)
}

type kioskCacheEntry struct {
	kioskID uint
	expires time.Time
}

// KioskAuth verifies X-Kiosk-Code / X-Kiosk-Secret against the bcrypt hash.
// Successful checks are cached by code and SHA-256 of the secret.
func KioskAuth(kiosks KioskLookup) fiber.Handler {
	var cache sync.Map

	return func(c *fiber.Ctx) error {
		code := strings.TrimSpace(c.Get(HeaderKioskCode))
		secret := c.Get(HeaderKioskSecret)
		if code == "" || secret == "" {
			return response.Unauthorized(c, "Kiosk credentials required")
		}

		cacheKey := code + ":" + password.HashToken(secret)
		if v, ok := cache.Load(cacheKey); ok {
			entry := v.(kioskCacheEntry)
			if time.Now().Before(entry.expires) {
				c.Locals("kioskID", entry.kioskID)
				c.Locals("kioskCode", code)
				return c.Next()
			}
			cache.Delete(cacheKey)
		}

		kiosk, err := kiosks.GetByCode(c.UserContext(), code)
		if err != nil {
			return response.ServiceUnavailable(c, "Kiosk verification unavailable")
		}
		if kiosk == nil || !password.Verify(secret, kiosk.SecretHash) {
			return response.Unauthorized(c, "Invalid kiosk credentials")
		}

		cache.Store(cacheKey, kioskCacheEntry{kioskID: kiosk.ID, expires: time.Now().Add(kioskCacheTTL)})
		c.Locals("kioskID", kiosk.ID)
		c.Locals("kioskCode", code)
		return c.Next()
	}
}
