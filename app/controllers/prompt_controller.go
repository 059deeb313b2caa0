package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/promptmint/promptmint/internal/pkg/database"
	"github.com/promptmint/promptmint/internal/pkg/prompts"
	"github.com/promptmint/promptmint/internal/pkg/usercontext"
)

// HandlePurchaseWithPC settles a smart prompt purchase paid in PromptCoins.
// The buyer's enhancement balance is debited and the (prompt, buyer) pair
// recorded at most once.
func HandlePurchaseWithPC(c *fiber.Ctx) error {
	userCtx := usercontext.Get(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req prompts.PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	guard := buildGuard()
	ctx := c.UserContext()
	if err := guard.RateLimit(ctx, userCtx.UserID, "purchase_with_pc", 20, time.Minute); err != nil {
		return respondSettlementError(c, err)
	}
	if err := guard.Score(ctx, userCtx.UserID, req.AmountCoins); err != nil {
		return respondSettlementError(c, err)
	}

	result, err := prompts.NewServiceFromDB(database.GetDB()).Purchase(ctx, userCtx.UserID, req)
	if err != nil {
		return respondSettlementError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"prompt_id":    result.PromptID,
		"amount_coins": result.AmountCoins,
		"balance":      result.Balance,
	})
}
