package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/promptmint/promptmint/app/controllers"
	"github.com/promptmint/promptmint/internal/pkg/cache"
	"github.com/promptmint/promptmint/internal/pkg/env"
	"github.com/promptmint/promptmint/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PromptMint settlement API",
		})
	})

	// Key recovery authenticates with account credentials instead of the
	// API key, so it sits outside the v1 group.
	api.Post("/auth/api-key", controllers.HandleIssueAPIKey)

	// Operator endpoints for provisioning platform accounts and keys.
	admin := api.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "test"),
		},
	}))
	admin.Post("/users", controllers.HandleAdminCreateUser)
	admin.Post("/users/:id/api-key", controllers.HandleAdminRotateAPIKey)
	admin.Patch("/users/:id/status", controllers.HandleAdminSetUserStatus)
	admin.Put("/users/:id/password", controllers.HandleAdminResetPassword)
	admin.Get("/stats", controllers.HandleAdminStats)

	// API v1 routes, all behind API key authentication.
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Get("/balance", controllers.HandleGetBalance)
	v1.Post("/purchase/promptcoins", controllers.HandlePurchasePromptCoins)
	v1.Post("/smart-prompts/purchase-with-pc", controllers.HandlePurchaseWithPC)
	v1.Post("/exams/purchase-attempts", controllers.HandlePurchaseAttempts)
	v1.Get("/exams/:level/status", controllers.HandleExamStatus)
	v1.Post("/exams/:level/submit", controllers.HandleExamSubmit)
}

// limiterStorage backs the fiber limiter with Redis so request limits hold
// across instances; nil falls back to fiber's in-memory storage.
func limiterStorage() fiber.Storage {
	client := cache.GetClient()
	if client == nil {
		return nil
	}

	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	addr := client.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	if p := client.Options().Password; p != "" {
		password = p
	}

	// Database 1 keeps limiter keys out of the cache keyspace.
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
