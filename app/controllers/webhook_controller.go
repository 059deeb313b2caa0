package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/internal/pkg/database"
	"github.com/promptmint/promptmint/internal/pkg/env"
	"github.com/promptmint/promptmint/internal/pkg/idempotency"
	"github.com/promptmint/promptmint/internal/pkg/ledger"
	"github.com/promptmint/promptmint/internal/pkg/security"
	"github.com/promptmint/promptmint/internal/pkg/webhook"
)

// buildGateway assembles the webhook pipeline for one delivery: claims in
// the idempotency store, provider verifiers from env credentials, settlement
// handlers on the ledger.
func buildGateway() *webhook.Gateway {
	db := database.GetDB()
	audit := security.NewEventLog(db)
	allowUnverified := strings.EqualFold(env.GetEnv("WEBHOOK_ALLOW_UNVERIFIED", "false"), "true")

	gw := webhook.NewGateway(idempotency.NewStore(db), audit, allowUnverified)
	gw.RegisterProvider(models.PaymentProviderStripe, webhook.NewStripeVerifier(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")))
	gw.RegisterProvider(models.PaymentProviderPayPal, webhook.NewPayPalClientFromEnv())

	handlers := webhook.NewHandlers(ledger.NewServiceFromDB(db), audit)
	handlers.RegisterAll(gw)
	return gw
}

// HandleStripeWebhook processes Stripe event deliveries.
func HandleStripeWebhook(c *fiber.Ctx) error {
	result := buildGateway().Handle(c.UserContext(), webhook.Delivery{
		Provider: models.PaymentProviderStripe,
		Body:     c.Body(),
		Headers: map[string]string{
			"stripe-signature": c.Get("Stripe-Signature"),
		},
	})
	return respondWebhookResult(c, result)
}

// HandlePayPalWebhook processes PayPal event deliveries and the endpoint
// validation handshake.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	result := buildGateway().Handle(c.UserContext(), webhook.Delivery{
		Provider: models.PaymentProviderPayPal,
		Body:     c.Body(),
		Headers: map[string]string{
			"paypal-auth-algo":         c.Get("Paypal-Auth-Algo"),
			"paypal-transmission-id":   c.Get("Paypal-Transmission-Id"),
			"paypal-cert-url":          c.Get("Paypal-Cert-Url"),
			"paypal-cert-id":           c.Get("Paypal-Cert-Id"),
			"paypal-transmission-sig":  c.Get("Paypal-Transmission-Sig"),
			"paypal-transmission-time": c.Get("Paypal-Transmission-Time"),
		},
		Challenge: c.Query("challenge"),
	})
	return respondWebhookResult(c, result)
}

func respondWebhookResult(c *fiber.Ctx, result webhook.Result) error {
	if result.Status == webhook.StatusChallenge {
		return c.Status(result.HTTPCode).JSON(fiber.Map{"challenge": result.Challenge})
	}
	if result.HTTPCode >= 400 {
		return c.Status(result.HTTPCode).JSON(fiber.Map{"error": result.Status})
	}
	return c.Status(result.HTTPCode).JSON(fiber.Map{"success": true, "status": result.Status})
}
