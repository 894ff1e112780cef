package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/globalskillscert/skillscert-api/app/repository"
	"github.com/globalskillscert/skillscert-api/internal/pkg/security"
	"github.com/globalskillscert/skillscert-api/internal/pkg/usercontext"
)

// SessionAuthMiddleware authenticates requests carrying a bearer session
// token. The credential is re-checked on every request so an admin
// deactivation takes effect immediately, not at token expiry.
func SessionAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing session token"})
		}

		claims, err := security.ParseSessionToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid session token"})
		}

		repo := repository.GetGlobalFactory().GetCredentialRepository()
		credential, err := repo.GetByID(claims.CredentialID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid session token"})
			}
			log.Printf("session credential lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Session verification failed"})
		}

		if !credential.Active || credential.Locked {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Access revoked"})
		}
		if credential.IsExpired() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Access expired"})
		}

		userCtx := usercontext.UserContext{
			Email:        credential.Email,
			CredentialID: credential.ID,
			IsLoggedIn:   true,
		}
		c.Locals(usercontext.KeyUserContext, userCtx)
		c.Locals(usercontext.KeyEmail, credential.Email)
		c.Locals(usercontext.KeyCredentialID, credential.ID)

		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
