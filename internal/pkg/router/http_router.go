package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/globalskillscert/skillscert-api/app/controllers"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize controllers with repositories
	controllers.InitializeControllers()

	// Provider webhook. Signature verification needs the exact raw body, so
	// this route stays outside every group and limiter.
	app.Post("/webhook/stripe", controllers.HandleStripeWebhook)

	app.Get("/health", controllers.HandleHealth)

	// Purchase flow, called by the public storefront before any login exists
	app.Post("/create-checkout-session", controllers.HandleCreateCheckoutSession)
	app.Post("/verify-payment", controllers.HandleVerifyPayment)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
