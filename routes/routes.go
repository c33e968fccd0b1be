package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsletter-backend/controllers"
	"newsletter-backend/middlewares"
)

// Handlers groups everything Register wires.
type Handlers struct {
	DB            *gorm.DB
	Log           *zap.Logger
	Auth          *middlewares.Auth
	Users         *controllers.AuthController
	Subscriptions *controllers.SubscriptionController
	Newsletters   *controllers.NewsletterController
}

// Register wires all HTTP routes.
func Register(app *fiber.App, h Handlers) {
	app.Get("/health_check", controllers.HealthCheck)

	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/login", h.Users.Login)
	api.Post("/logout", h.Users.Logout)

	// Subscriptions run in a per-request transaction
	subscriptions := api.Group("/subscriptions", middlewares.Tx(h.DB, h.Log))
	subscriptions.Post("", h.Subscriptions.Subscribe)
	subscriptions.Get("/confirm", h.Subscriptions.Confirm)

	// Protected endpoints (JWT auth)
	admin := api.Group("/admin")
	admin.Use(h.Auth.IsAuthenticatedHeader())

	admin.Get("/dashboard", h.Users.Dashboard)
	admin.Put("/password", h.Users.ChangePassword)

	// Publishing manages its own transaction around the idempotency claim
	admin.Post("/newsletters", middlewares.IdempotencyKey(), h.Newsletters.Publish)
	admin.Get("/newsletters/:id", h.Newsletters.GetIssue)
}
