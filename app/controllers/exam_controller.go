package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/promptmint/promptmint/internal/pkg/attemptgate"
	"github.com/promptmint/promptmint/internal/pkg/database"
	"github.com/promptmint/promptmint/internal/pkg/usercontext"
)

type examSubmitRequest struct {
	Passed bool `json:"passed"`
}

type purchaseAttemptsRequest struct {
	Level string `json:"level" validate:"required,max=50"`
}

func buildGate() *attemptgate.Gate {
	return attemptgate.NewGateFromDB(database.GetDB(), attemptgate.BlockCostFromEnv())
}

// HandleExamStatus returns the caller's eligibility for one exam level,
// creating the tracking row on first contact.
func HandleExamStatus(c *fiber.Ctx) error {
	userCtx := usercontext.Get(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	status, err := buildGate().Status(c.UserContext(), userCtx.UserID, c.Params("level"))
	if err != nil {
		return respondSettlementError(c, err)
	}
	return c.JSON(examStatusResponse(status))
}

// HandleExamSubmit records one attempt, pass or fail. A pass certifies the
// level terminally; exhausting the allowance reports needs_payment.
func HandleExamSubmit(c *fiber.Ctx) error {
	userCtx := usercontext.Get(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req examSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}

	result, err := buildGate().RecordAttempt(c.UserContext(), userCtx.UserID, c.Params("level"), req.Passed)
	if err != nil {
		return respondSettlementError(c, err)
	}

	resp := examStatusResponse(result.Status)
	resp["certified"] = result.Certified
	return c.JSON(resp)
}

// HandlePurchaseAttempts sells one attempt block: the exam category is
// debited and the allowance grows in the same transaction.
func HandlePurchaseAttempts(c *fiber.Ctx) error {
	userCtx := usercontext.Get(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req purchaseAttemptsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	gate := buildGate()
	ctx := c.UserContext()
	if err := buildGuard().RateLimit(ctx, userCtx.UserID, "purchase_attempts", 10, time.Minute); err != nil {
		return respondSettlementError(c, err)
	}

	result, err := gate.PurchaseBlock(ctx, userCtx.UserID, req.Level)
	if err != nil {
		return respondSettlementError(c, err)
	}

	resp := examStatusResponse(result.Status)
	resp["cost_pc"] = result.CostPC
	resp["attempts_added"] = result.AttemptsAdded
	resp["balance"] = result.Balance
	return c.JSON(resp)
}

// examStatusResponse renders eligibility. needs_payment and cooldown_until
// are mutually exclusive block reasons.
func examStatusResponse(status *attemptgate.Status) fiber.Map {
	inCooldown := status.CooldownUntil != nil && time.Now().Before(*status.CooldownUntil)
	needsPayment := !status.Passed && status.Remaining == 0 && !inCooldown

	resp := fiber.Map{
		"success":          true,
		"level":            status.Level,
		"attempts_made":    status.AttemptsMade,
		"total_allowed":    status.TotalAllowed,
		"remaining":        status.Remaining,
		"purchased_blocks": status.PurchasedBlocks,
		"passed":           status.Passed,
		"can_take_quiz":    status.CanTakeQuiz && !inCooldown,
		"needs_payment":    needsPayment,
	}
	if inCooldown {
		resp["cooldown_until"] = formatTimePtr(status.CooldownUntil)
	}
	return resp
}
