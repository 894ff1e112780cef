package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/globalskillscert/skillscert-api/app/repository"
	"github.com/globalskillscert/skillscert-api/internal/pkg/access"
	"github.com/globalskillscert/skillscert-api/internal/pkg/notify"
	"github.com/globalskillscert/skillscert-api/internal/pkg/payment"
	"github.com/globalskillscert/skillscert-api/internal/pkg/purchase"
)

var (
	repos           *repository.Repositories
	purchaseService *purchase.Service
	accessService   *access.Service
	dispatcher      *notify.Dispatcher
	stripeClient    *payment.StripeClient
)

// InitializeControllers wires the controllers onto the global repositories.
// Must run after the database and cache are set up. Handlers read the
// package-level repos handle, so tests can install fakes in its place.
func InitializeControllers() {
	repos = repository.GetGlobalFactory().GetRepositories()
	purchaseService = purchase.NewService(repos, purchase.NewRedisCodeCache())
	accessService = access.NewService(repos)
	dispatcher = notify.NewDispatcher()
	stripeClient = payment.NewStripeClientFromEnv()
}

// GetClientIP determines the actual client IP address considering proxies
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	return c.IP()
}

// CorrelationID returns the request id propagated by the client, or mints a
// fresh one so log lines and activity entries of one request can be joined.
func CorrelationID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get("X-Request-ID")); id != "" && len(id) <= 36 {
		return id
	}
	return uuid.NewString()
}
