package middleware

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/app/repository"
	"github.com/promptmint/promptmint/internal/pkg/cache"
	"github.com/promptmint/promptmint/internal/pkg/database"
	"github.com/promptmint/promptmint/internal/pkg/usercontext"
)

// Key lookups are cached briefly; rotation and status changes call
// DropCachedUser so a revoked key never outlives the cache entry.
const userCacheTTL = 5 * time.Minute

type cachedUser struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// APIKeyAuthMiddleware authenticates requests carrying a user API key header.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		hash := models.HashAPIKey(apiKey)
		if cu, ok := lookupCachedUser(hash); ok {
			return admitUser(c, cu)
		}

		db := database.GetDB()
		if db == nil {
			log.Print("api key middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetByAPIKeyHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Printf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		cu := cachedUser{ID: user.ID, Name: user.Name, Role: user.Role, Status: user.Status}
		storeCachedUser(hash, cu)
		return admitUser(c, cu)
	}
}

func admitUser(c *fiber.Ctx, cu cachedUser) error {
	if cu.Status != models.STATUS_ACTIVE {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	// Refresh last-used timestamp best-effort.
	repo := repository.GetGlobalFactory().GetUserRepository()
	if err := repo.TouchAPIKeyUsage(cu.ID); err != nil {
		log.Printf("failed to update api key usage timestamp for user %d: %v", cu.ID, err)
	}

	usercontext.Set(c, usercontext.UserContext{
		UserID:     cu.ID,
		Username:   cu.Name,
		IsLoggedIn: true,
		IsAdmin:    cu.Role == models.ROLE_ADMIN,
	})

	return c.Next()
}

func userCacheKey(hash string) string {
	return "apikey:" + hash
}

func lookupCachedUser(hash string) (cachedUser, bool) {
	raw, err := cache.Get(userCacheKey(hash))
	if err != nil {
		return cachedUser{}, false
	}
	var cu cachedUser
	if err := json.Unmarshal([]byte(raw), &cu); err != nil {
		return cachedUser{}, false
	}
	return cu, true
}

func storeCachedUser(hash string, cu cachedUser) {
	raw, err := json.Marshal(cu)
	if err != nil {
		return
	}
	// Best-effort; an unreachable cache just means the next request hits
	// the database again.
	_ = cache.Set(userCacheKey(hash), raw, userCacheTTL)
}

// DropCachedUser removes the cached lookup for an API key hash. Rotating a
// key or changing an account status must call this so the stale entry
// stops authenticating immediately instead of at TTL expiry.
func DropCachedUser(hash string) {
	if hash == "" {
		return
	}
	if err := cache.Delete(userCacheKey(hash)); err != nil {
		log.Printf("failed to drop cached api key entry: %v", err)
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
