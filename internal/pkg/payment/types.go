package payment

import (
	"encoding/json"
	"errors"
	"strings"
)

// Webhook event kinds. Only the checkout completion drives the pipeline;
// everything else is acknowledged and ignored.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)

// WebhookEvent is the provider event envelope.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent decodes the event envelope. It must only be called after
// the signature over the raw payload has been verified.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, errors.New("webhook event missing id")
	}
	if strings.TrimSpace(event.Type) == "" {
		return nil, errors.New("webhook event missing type")
	}
	return &event, nil
}

// CheckoutSessionFromEvent extracts the session object of a checkout event.
func CheckoutSessionFromEvent(event *WebhookEvent) (*CheckoutSession, error) {
	if event.Type != EventCheckoutSessionCompleted {
		return nil, errors.New("event does not carry a checkout session")
	}
	var session CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("checkout session object missing id")
	}
	return &session, nil
}
