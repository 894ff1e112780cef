package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/globalskillscert/skillscert-api/app/controllers"
	"github.com/globalskillscert/skillscert-api/internal/pkg/cache"
	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
	"github.com/globalskillscert/skillscert-api/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 60),
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))

	auth := api.Group("/auth")
	auth.Post("/login", controllers.HandleLogin)
	auth.Post("/resend-code", controllers.HandleResendCode)

	projects := api.Group("/projects", middleware.SessionAuthMiddleware())
	projects.Post("/", controllers.HandleSaveProject)
	projects.Get("/", controllers.HandleListProjects)
	projects.Get("/:key", controllers.HandleGetProject)

	admin := api.Group("/admin", middleware.AdminKeyMiddleware())
	admin.Get("/stats", controllers.HandleAdminStats)
	admin.Post("/credentials/deactivate", controllers.HandleAdminDeactivateCredentials)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances. Connection settings are reused from the cache client; database 1
// keeps limiter keys apart from cache entries.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")

	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
