package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
	"github.com/globalskillscert/skillscert-api/internal/pkg/events"
	"github.com/globalskillscert/skillscert-api/internal/pkg/notify"
	"github.com/globalskillscert/skillscert-api/internal/pkg/payment"
	"github.com/globalskillscert/skillscert-api/internal/pkg/purchase"
)

const paymentRequestTimeout = 20 * time.Second

type createCheckoutRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=150"`
	Phone string `json:"phone" validate:"max=30"`
}

type verifyPaymentRequest struct {
	SessionID string `json:"session_id"`
	// Field name used by the original storefront client.
	SessionIDAlt string `json:"sessionId"`
}

func (r *verifyPaymentRequest) sessionID() string {
	if id := strings.TrimSpace(r.SessionID); id != "" {
		return id
	}
	return strings.TrimSpace(r.SessionIDAlt)
}

// HandleCreateCheckoutSession creates a hosted payment page for the course
// and returns its redirect URL.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "A valid email is required"})
	}

	priceMXN := env.GetEnvInt("COURSE_PRICE_MXN", 500)
	frontendURL := strings.TrimRight(env.GetEnv("FRONTEND_URL", "http://localhost:3000"), "/")

	ctx, cancel := context.WithTimeout(context.Background(), paymentRequestTimeout)
	defer cancel()

	session, err := stripeClient.CreateCheckoutSession(ctx, payment.CheckoutParams{
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.Email)),
		ProductName:   env.GetEnv("COURSE_NAME", "Curso de diseño de cursos de formación"),
		Description:   env.GetEnv("COURSE_DESCRIPTION", ""),
		UnitAmount:    int64(priceMXN) * 100,
		Currency:      env.GetEnv("COURSE_CURRENCY", "MXN"),
		SuccessURL:    frontendURL + "/pago-exitoso?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     frontendURL + "/pago-cancelado",
	})
	if err != nil {
		log.Printf("create checkout session failed: %v", err)
		if errors.Is(err, payment.ErrProviderUnavailable) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "Payment provider is unavailable, try again"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed", "message": "Could not create checkout session"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

// HandleVerifyPayment is the synchronous confirmation path: the frontend
// lands on the success page with the session id and asks us to check the
// payment and hand out the access code. Races freely with the webhook; the
// recorder guarantees a single issuance either way.
func HandleVerifyPayment(c *fiber.Ctx) error {
	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	sessionID := req.sessionID()
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "session_id is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), paymentRequestTimeout)
	defer cancel()

	session, err := stripeClient.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		log.Printf("verify payment: session lookup failed: %v", err)
		if errors.Is(err, payment.ErrProviderUnavailable) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "Payment provider is unavailable, try again"})
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session_not_found", "message": "Unknown checkout session"})
	}
	if !session.IsPaid() {
		// Normal retriable state while the purchaser is still on the hosted
		// checkout page; the client polls again.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false, "status": "pending"})
	}

	access, err := purchaseService.RecordConfirmedPayment(confirmationFromSession(session, "verify", c))
	if err != nil {
		if errors.Is(err, purchase.ErrConfirmationInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "confirmation_in_progress", "message": "Payment is being processed, try again shortly"})
		}
		log.Printf("verify payment: recording failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "confirmation_failed", "message": "Could not record the payment"})
	}

	// Delivery runs detached; a slow mail server must not hold up the
	// storefront success page.
	if !access.Reissued {
		go deliverAccess(access)
	}

	// Key names match the storefront client contract.
	response := fiber.Map{
		"success":   true,
		"email":     access.Email,
		"expiresAt": access.ExpiresAt,
		"reissued":  access.Reissued,
	}
	if access.AccessCode != "" {
		response["accessCode"] = access.AccessCode
	}
	return c.Status(fiber.StatusOK).JSON(response)
}

// HandleStripeWebhook is the asynchronous confirmation path. The signature
// is verified over the raw body before anything else; only then does the
// event get persisted and processed. A storage failure returns 500 so the
// provider redelivers.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	if !payment.VerifyStripeWebhookSignature(rawBody, signature, secret, time.Now()) {
		if err := repos.Activity.Record(&models.ActivityLog{
			Action:        models.ActivityWebhookRejected,
			Description:   "invalid webhook signature",
			IPAddress:     GetClientIP(c),
			CorrelationID: CorrelationID(c),
		}); err != nil {
			log.Printf("Warning: could not record activity log entry: %v", err)
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	event, err := payment.ParseWebhookEvent(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	created, stored, err := repos.WebhookEvent.CreateIfNotExists(&models.PaymentWebhookEvent{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("webhook: persisting event %s failed: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if event.Type != payment.EventCheckoutSessionCompleted {
		_ = repos.WebhookEvent.MarkProcessed(stored.ID, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	session, err := payment.CheckoutSessionFromEvent(event)
	if err != nil {
		_ = repos.WebhookEvent.MarkProcessed(stored.ID, err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if !session.IsPaid() {
		_ = repos.WebhookEvent.MarkProcessed(stored.ID, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	access, err := purchaseService.RecordConfirmedPayment(confirmationFromSession(session, "webhook", c))
	if err != nil && !errors.Is(err, purchase.ErrConfirmationInProgress) {
		_ = repos.WebhookEvent.MarkProcessed(stored.ID, err.Error())
		log.Printf("webhook: recording payment %s failed: %v", session.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "confirmation_failed"})
	}
	_ = repos.WebhookEvent.MarkProcessed(stored.ID, "")

	// Only the confirmation that performed issuance notifies; a concurrent
	// verify call that won the race already did.
	if access != nil && !access.Reissued {
		go deliverAccess(access)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func confirmationFromSession(session *payment.CheckoutSession, source string, c *fiber.Ctx) purchase.Confirmation {
	return purchase.Confirmation{
		PaymentReference: session.ID,
		PaymentIntent:    session.PaymentIntent,
		Email:            session.CustomerDetails.Email,
		Name:             session.CustomerDetails.Name,
		Phone:            session.CustomerDetails.Phone,
		Amount:           decimal.New(session.AmountTotal, -2),
		Currency:         session.Currency,
		Source:           source,
		IPAddress:        GetClientIP(c),
		CorrelationID:    CorrelationID(c),
	}
}

// deliverAccess dispatches the notification for a freshly issued access and
// publishes the issuance event. Replays deliver nothing new.
func deliverAccess(access *purchase.IssuedAccess) *notify.DeliveryReport {
	if access.Reissued {
		return nil
	}

	events.Publish(events.SubjectAccessIssued, fiber.Map{
		"email":      access.Email,
		"expires_at": access.ExpiresAt,
	})

	return dispatcher.NotifyAccessIssued(notify.AccessNotification{
		Email:            access.Email,
		Name:             access.Name,
		Phone:            access.Phone,
		AccessCode:       access.AccessCode,
		ExpiresAt:        access.ExpiresAt,
		ValidityExtended: access.AccessCode == "",
	})
}
