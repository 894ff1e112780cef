package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// Read-only status queries are retried a bounded number of times; session
// creation is not, since a blind retry could mint a second checkout session.
const (
	statusQueryAttempts = 3
	statusQueryBackoff  = 2 * time.Second
)

// ErrProviderUnavailable marks transient upstream failures (timeouts, 5xx).
// Callers surface it as a retriable condition, never as "payment failed".
var ErrProviderUnavailable = errors.New("payment provider unavailable")

type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// CheckoutParams describes the hosted checkout session to create.
type CheckoutParams struct {
	CustomerEmail string
	ProductName   string
	Description   string
	UnitAmount    int64 // smallest currency unit
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession mirrors the subset of the provider session object the
// pipeline consumes.
type CheckoutSession struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	PaymentStatus   string          `json:"payment_status"`
	Status          string          `json:"status"`
	PaymentIntent   string          `json:"payment_intent"`
	AmountTotal     int64           `json:"amount_total"`
	Currency        string          `json:"currency"`
	CustomerDetails CustomerDetails `json:"customer_details"`
}

type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// IsPaid reports whether the provider considers the session settled.
func (s *CheckoutSession) IsPaid() bool {
	return s.PaymentStatus == "paid"
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// IsConfigured reports whether a plausible secret key is present.
func (c *StripeClient) IsConfigured() bool {
	return strings.HasPrefix(c.SecretKey, "sk_")
}

// CreateCheckoutSession creates a hosted checkout session for a one-time
// payment and returns its id and redirect URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if !c.IsConfigured() {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	if params.UnitAmount <= 0 {
		return nil, errors.New("unit amount must be positive")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(params.Currency))
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	if params.Description != "" {
		form.Set("line_items[0][price_data][product_data][description]", params.Description)
	}
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.UnitAmount, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}

	body, err := c.do(ctx, http.MethodPost, "/checkout/sessions", form)
	if err != nil {
		return nil, err
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("checkout session response missing id")
	}
	return &session, nil
}

// GetCheckoutSession retrieves the current state of a checkout session.
// Transient upstream failures are retried with backoff before giving up with
// ErrProviderUnavailable; the query is read-only so redundant attempts are
// harmless.
func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if !c.IsConfigured() {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("checkout session id is required")
	}

	var lastErr error
	for attempt := 0; attempt < statusQueryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(statusQueryBackoff):
			}
		}

		body, err := c.do(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(id), nil)
		if err != nil {
			if errors.Is(err, ErrProviderUnavailable) {
				lastErr = err
				continue
			}
			return nil, err
		}

		var session CheckoutSession
		if err := json.Unmarshal(body, &session); err != nil {
			return nil, err
		}
		return &session, nil
	}
	return nil, lastErr
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status=%d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}
