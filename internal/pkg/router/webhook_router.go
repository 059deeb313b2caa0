package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/promptmint/promptmint/app/controllers"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks")
	webhooks.Post("/stripe", controllers.HandleStripeWebhook)
	// PayPal validates endpoints with a GET carrying a challenge parameter.
	webhooks.Get("/paypal", controllers.HandlePayPalWebhook)
	webhooks.Post("/paypal", controllers.HandlePayPalWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
