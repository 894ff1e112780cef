package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/globalskillscert/skillscert-api/internal/pkg/cache"
	"github.com/globalskillscert/skillscert-api/internal/pkg/database"
	"github.com/globalskillscert/skillscert-api/internal/pkg/events"
)

// HandleHealth reports service liveness plus the state of its dependencies.
// The cache being down degrades the service but does not fail the check;
// without the database nothing works, so that one flips the status code.
func HandleHealth(c *fiber.Ctx) error {
	dbStatus := "ok"
	db := database.GetDB()
	if db == nil {
		dbStatus = "down"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		dbStatus = "down"
	}

	cacheStatus := "ok"
	if err := cache.Ping(); err != nil {
		cacheStatus = "down"
	}

	stripeStatus := "ok"
	if stripeClient == nil || !stripeClient.IsConfigured() {
		stripeStatus = "unconfigured"
	}

	eventsStatus := "ok"
	if !events.Connected() {
		eventsStatus = "disabled"
	}

	status := fiber.StatusOK
	overall := "ok"
	if dbStatus != "ok" {
		status = fiber.StatusServiceUnavailable
		overall = "down"
	} else if cacheStatus != "ok" || stripeStatus != "ok" {
		overall = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"cache":    cacheStatus,
		"stripe":   stripeStatus,
		"events":   eventsStatus,
	})
}
