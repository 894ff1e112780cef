package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated purchaser for a request
type UserContext struct {
	Email        string `json:"email"`
	CredentialID uint   `json:"credential_id"`
	IsLoggedIn   bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsLoggedIn: false}
}

// IsLoggedIn checks if the current request carries a valid session
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetEmail returns the current purchaser's email, or empty string if not logged in
func GetEmail(c *fiber.Ctx) string {
	return GetUserContext(c).Email
}

// GetCredentialID returns the current credential's ID, or 0 if not logged in
func GetCredentialID(c *fiber.Ctx) uint {
	return GetUserContext(c).CredentialID
}
