package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/promptmint/promptmint/internal/pkg/attemptgate"
	"github.com/promptmint/promptmint/internal/pkg/cache"
	"github.com/promptmint/promptmint/internal/pkg/database"
	"github.com/promptmint/promptmint/internal/pkg/fraudguard"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
	"github.com/promptmint/promptmint/internal/pkg/prompts"
	"github.com/promptmint/promptmint/internal/pkg/security"
)

var validate = validator.New()

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// buildGuard assembles the fraud guard for one request. Counters live in
// Redis so limits hold across instances; when no client is configured the
// process-local fallback keeps single-instance development working.
func buildGuard() *fraudguard.Guard {
	audit := security.NewEventLog(database.GetDB())
	if client := cache.GetClient(); client != nil {
		return fraudguard.NewGuard(fraudguard.NewRedisCounter(client), audit)
	}
	log.Print("fraud guard: no redis client configured, using process-local counters")
	return fraudguard.NewGuard(fraudguard.NewMemoryCounter(), audit)
}

// respondSettlementError maps the service error taxonomy onto the response
// envelope. Unknown errors become an opaque 500.
func respondSettlementError(c *fiber.Ctx, err error) error {
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":     "insufficient_balance",
			"category":  insufficient.Category,
			"required":  insufficient.Required,
			"available": insufficient.Available,
			"shortage":  insufficient.Shortage(),
		})
	}

	var rateLimited *fraudguard.RateLimitError
	if errors.As(err, &rateLimited) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":   "rate_limit_exceeded",
			"message": rateLimited.Error(),
		})
	}

	var fraud *fraudguard.FraudError
	if errors.As(err, &fraud) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "fraud_suspected",
			"message": "Transaction blocked pending manual review",
		})
	}

	var already *prompts.AlreadyPurchasedError
	if errors.As(err, &already) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":     "already_purchased",
			"prompt_id": already.PromptID,
		})
	}

	var noAttempts *attemptgate.NoAttemptsError
	if errors.As(err, &noAttempts) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":         "no_attempts_left",
			"needs_payment": true,
			"attempts_made": noAttempts.AttemptsMade,
			"total_allowed": noAttempts.TotalAllowed,
		})
	}

	var cooldown *attemptgate.CooldownError
	if errors.As(err, &cooldown) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":          "cooldown_active",
			"cooldown_until": formatTimePtr(&cooldown.Until),
		})
	}

	if errors.Is(err, attemptgate.ErrAlreadyPassed) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "already_passed",
		})
	}

	if errors.Is(err, prompts.ErrSelfPurchase) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "self_purchase",
		})
	}

	log.Printf("settlement request failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal_server_error",
	})
}
