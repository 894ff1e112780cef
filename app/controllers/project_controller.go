package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/globalskillscert/skillscert-api/internal/pkg/usercontext"
)

type saveProjectRequest struct {
	ProjectKey string `json:"project_key"`
	// Field name used by the original storefront client.
	ProjectID string          `json:"projectId"`
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

func (r *saveProjectRequest) key() string {
	if key := strings.TrimSpace(r.ProjectKey); key != "" {
		return key
	}
	return strings.TrimSpace(r.ProjectID)
}

// HandleSaveProject upserts a course-design project for the logged-in
// purchaser. The project payload is opaque to the server.
func HandleSaveProject(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req saveProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}

	project := &models.Project{
		Email:      userCtx.Email,
		ProjectKey: req.key(),
		Name:       strings.TrimSpace(req.Name),
		Version:    strings.TrimSpace(req.Version),
		DataJSON:   string(req.Data),
	}
	if project.Version == "" {
		project.Version = "1.0.0"
	}
	if err := project.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "project_key is required"})
	}

	if err := repos.Project.Upsert(project); err != nil {
		log.Printf("project upsert failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not save project"})
	}

	if err := repos.Activity.Record(&models.ActivityLog{
		Email:         userCtx.Email,
		Action:        models.ActivityProjectSaved,
		Description:   "project " + project.ProjectKey + " saved",
		IPAddress:     GetClientIP(c),
		CorrelationID: CorrelationID(c),
	}); err != nil {
		log.Printf("Warning: could not record activity log entry: %v", err)
	}

	return c.Status(fiber.StatusOK).JSON(project)
}

// HandleGetProject returns one project of the logged-in purchaser.
func HandleGetProject(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	projectKey := strings.TrimSpace(c.Params("key"))
	if projectKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "project key is required"})
	}

	project, err := repos.Project.GetByKey(userCtx.Email, projectKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown project"})
		}
		log.Printf("project lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not load project"})
	}

	return c.Status(fiber.StatusOK).JSON(project)
}

// HandleListProjects returns all projects of the logged-in purchaser.
func HandleListProjects(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	projects, err := repos.Project.ListByEmail(userCtx.Email)
	if err != nil {
		log.Printf("project list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not load projects"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"projects": projects})
}
