package controllers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/globalskillscert/skillscert-api/internal/pkg/access"
	"github.com/globalskillscert/skillscert-api/internal/pkg/cache"
	"github.com/globalskillscert/skillscert-api/internal/pkg/events"
	"github.com/globalskillscert/skillscert-api/internal/pkg/notify"
	"github.com/globalskillscert/skillscert-api/internal/pkg/security"
)

const resendCooldown = 10 * time.Minute

type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,min=6,max=16"`
}

type resendCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleLogin verifies an email/access-code pair and hands out a bearer
// session token.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Email and access code are required"})
	}

	credential, err := accessService.Login(req.Email, req.Code, GetClientIP(c), CorrelationID(c))
	if err != nil {
		switch {
		case errors.Is(err, access.ErrAccountLocked):
			return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": "account_locked", "message": "Too many failed attempts, request a new code"})
		case errors.Is(err, access.ErrAccessExpired):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access_expired", "message": "Your access period has ended"})
		case errors.Is(err, access.ErrInvalidCredentials):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials", "message": "Wrong email or access code"})
		default:
			log.Printf("login failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Login failed"})
		}
	}

	token, expiresAt, err := security.IssueSessionToken(credential.Email, credential.ID)
	if err != nil {
		log.Printf("session token issuance failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Login failed"})
	}

	events.Publish(events.SubjectLoginSucceeded, fiber.Map{
		"email":         credential.Email,
		"credential_id": credential.ID,
	})

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":        true,
		"token":          token,
		"tokenExpiresAt": expiresAt,
		"user": fiber.Map{
			"email":     credential.Email,
			"name":      credential.Name,
			"expiresAt": credential.ExpiresAt,
		},
	})
}

// HandleResendCode rotates the caller's access code and delivers it again.
// The response never reveals whether the email holds a credential.
func HandleResendCode(c *fiber.Ctx) error {
	var req resendCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "A valid email is required"})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	// One resend per address per cooldown window, across all instances.
	allowed, err := cache.SetNX("resend_cooldown:"+email, 1, resendCooldown)
	if err != nil {
		log.Printf("resend cooldown check failed: %v", err)
	} else if !allowed {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests", "message": "A code was sent recently, wait before requesting another"})
	}

	genericResponse := fiber.Map{"message": "If that email holds access, a new code is on its way"}

	result, err := accessService.ResendCode(email, GetClientIP(c), CorrelationID(c))
	if err != nil {
		if errors.Is(err, access.ErrAccessExpired) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access_expired", "message": "Your access period has ended"})
		}
		if !errors.Is(err, access.ErrInvalidCredentials) {
			log.Printf("resend code failed: %v", err)
		}
		// Same response as success, so the endpoint cannot be used to probe
		// which emails hold access.
		return c.Status(fiber.StatusAccepted).JSON(genericResponse)
	}

	go dispatcher.NotifyAccessIssued(notify.AccessNotification{
		Email:      result.Email,
		Name:       result.Name,
		Phone:      result.Phone,
		AccessCode: result.AccessCode,
		ExpiresAt:  result.ExpiresAt,
	})

	return c.Status(fiber.StatusAccepted).JSON(genericResponse)
}
