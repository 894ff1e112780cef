package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

const defaultGraphAPIBaseURL = "https://graph.facebook.com/v18.0"

type messagePayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

type textPayload struct {
	Body string `json:"body"`
}

// IsConfigured reports whether the WhatsApp Cloud API credentials are set.
// The channel is optional; without credentials every send is skipped.
func IsConfigured() bool {
	return env.GetEnv("WHATSAPP_ACCESS_TOKEN", "") != "" && env.GetEnv("WHATSAPP_PHONE_NUMBER_ID", "") != ""
}

// SendText delivers a plain text message via the WhatsApp Cloud API.
func SendText(to string, body string) error {
	token := env.GetEnv("WHATSAPP_ACCESS_TOKEN", "")
	phoneNumberID := env.GetEnv("WHATSAPP_PHONE_NUMBER_ID", "")
	if token == "" || phoneNumberID == "" {
		return fmt.Errorf("WhatsApp credentials are not set")
	}

	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("recipient phone number is empty")
	}

	payload, err := json.Marshal(messagePayload{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             textPayload{Body: body},
	})
	if err != nil {
		return err
	}

	baseURL := strings.TrimRight(env.GetEnv("WHATSAPP_API_BASE_URL", defaultGraphAPIBaseURL), "/")
	url := fmt.Sprintf("%s/%s/messages", baseURL, phoneNumberID)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to WhatsApp API: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("WhatsApp API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SendAccessCode sends the purchased access code to the buyer's phone.
func SendAccessCode(to, name, code string, expiresAt time.Time) error {
	greeting := "Hola"
	if name != "" {
		greeting = "Hola " + name
	}
	body := fmt.Sprintf(
		"%s, ¡gracias por tu compra! Tu código de acceso es: %s\nIngresa con tu correo y este código. Válido hasta el %s.",
		greeting, code, expiresAt.Format("02/01/2006"),
	)
	return SendText(to, body)
}
