package controllers

import (
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/globalskillscert/skillscert-api/internal/pkg/events"
)

type deactivateRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleAdminStats returns operator counters: purchases, active credentials,
// stored projects and this month's revenue.
func HandleAdminStats(c *fiber.Ctx) error {
	completed, err := repos.Purchase.CountCompleted()
	if err != nil {
		log.Printf("admin stats: purchase count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	activeCredentials, err := repos.Credential.CountActive()
	if err != nil {
		log.Printf("admin stats: credential count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	projectCount, err := repos.Project.Count()
	if err != nil {
		log.Printf("admin stats: project count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	revenue, err := repos.Purchase.MonthlyRevenue(time.Now())
	if err != nil {
		log.Printf("admin stats: revenue query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"completed_purchases": completed,
		"active_credentials":  activeCredentials,
		"projects":            projectCount,
		"monthly_revenue":     revenue,
	})
}

// HandleAdminDeactivateCredentials revokes every credential of an email.
// Existing session tokens die on their next request because the middleware
// re-checks the credential.
func HandleAdminDeactivateCredentials(c *fiber.Ctx) error {
	var req deactivateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "A valid email is required"})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	affected, err := repos.Credential.Deactivate(email)
	if err != nil {
		log.Printf("admin deactivate failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not deactivate credentials"})
	}

	if affected > 0 {
		events.Publish(events.SubjectCredentialRevoked, fiber.Map{"email": email})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deactivated": affected})
}
