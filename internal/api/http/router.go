package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/reshala/support-desk/internal/api/http/handlers"
	"github.com/reshala/support-desk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Settings       *handlers.SettingsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	api := app.Group("/api")

	api.Get("/health/live", cfg.Health.Live)
	api.Get("/health/ready", cfg.Health.Ready)
	api.Get("/metrics", cfg.Settings.Metrics)

	authGroup := api.Group("/auth")
	authGroup.Post("/webapp", cfg.Auth.WebApp)
	authGroup.Post("/service", cfg.Auth.Service)

	protected := api.Group("", cfg.AuthMiddleware.Handle, auth.RequireManager())
	protected.Get("/settings/status", cfg.Settings.Status)

	tickets := protected.Group("/tickets")
	tickets.Get("/active", cfg.Tickets.Active)
	tickets.Get("/escalated", cfg.Tickets.Escalated)
	tickets.Get("/suspicious", cfg.Tickets.Suspicious)
	tickets.Get("/by-client/:client_id", cfg.Tickets.ByClient)
	tickets.Post("/create", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/audit", cfg.Tickets.Audit)
	tickets.Post("/:id/reply", cfg.Tickets.Reply)
	tickets.Post("/:id/close", cfg.Tickets.Close)
	tickets.Post("/:id/remove", cfg.Tickets.Remove)
	tickets.Post("/:id/escalate", cfg.Tickets.Escalate)
	tickets.Post("/:id/mark-suspicious", cfg.Tickets.MarkSuspicious)
	tickets.Post("/:id/add-attachment", cfg.Tickets.AddAttachment)
	tickets.Post("/:id/ai", cfg.Tickets.SetAI)
}
