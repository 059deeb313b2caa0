package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/promptmint/promptmint/internal/pkg/coins"
	"github.com/promptmint/promptmint/internal/pkg/database"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
	"github.com/promptmint/promptmint/internal/pkg/usercontext"
)

// purchaseCoinsRequest is the server-to-server settlement body for a coin
// package bought through a payment provider.
type purchaseCoinsRequest struct {
	PaymentProvider string  `json:"payment_provider" validate:"required,oneof=stripe paypal"`
	TransactionID   string  `json:"transaction_id" validate:"required,max=191"`
	AmountUsd       float64 `json:"amount_usd" validate:"required,gt=0"`
}

// HandlePurchasePromptCoins credits a purchased coin package, split over the
// categories by the fixed package ratio. Guarded by FraudGuard before any
// ledger call; idempotent per (provider, transaction id).
func HandlePurchasePromptCoins(c *fiber.Ctx) error {
	userCtx := usercontext.Get(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req purchaseCoinsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	pc, err := coins.UsdToCoins(req.AmountUsd)
	if err != nil || pc == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "amount_usd is out of range"})
	}

	guard := buildGuard()
	ctx := c.UserContext()
	if err := guard.RateLimit(ctx, userCtx.UserID, "purchase_promptcoins", 10, time.Minute); err != nil {
		return respondSettlementError(c, err)
	}
	if err := guard.Score(ctx, userCtx.UserID, pc); err != nil {
		return respondSettlementError(c, err)
	}

	svc := ledger.NewServiceFromDB(database.GetDB())
	result, err := svc.Credit(ctx, userCtx.UserID, coins.SplitPackage(pc), req.PaymentProvider, req.TransactionID, req.AmountUsd)
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		// Settled before; report success without moving coins again.
		return c.JSON(fiber.Map{"success": true, "prompt_coins_added": 0, "duplicate": true})
	}
	if err != nil {
		return respondSettlementError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":            true,
		"prompt_coins_added": result.Added.Total(),
		"reference":          result.Reference,
	})
}

// HandleGetBalance returns the caller's four category balances plus total.
func HandleGetBalance(c *fiber.Ctx) error {
	userCtx := usercontext.Get(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	balance, err := ledger.NewServiceFromDB(database.GetDB()).GetBalance(c.UserContext(), userCtx.UserID)
	if err != nil {
		return respondSettlementError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "balance": balance})
}
