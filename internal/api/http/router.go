package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-service/internal/api/http/handlers"
	"github.com/spec-kit/field-service/internal/auth"
	"github.com/spec-kit/field-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Assignments    *handlers.AssignmentsHandler
	Envelopes      *handlers.EnvelopesHandler
	Technicians    *handlers.TechniciansHandler
	Evidence       *handlers.EvidenceHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/staff/login", cfg.Auth.StaffLogin)
	authGroup.Post("/technicians/login", cfg.Auth.TechnicianLogin)
	authGroup.Post("/technicians/register", cfg.Auth.Register)
	authGroup.Post("/codes/request", cfg.Auth.RequestCode)
	authGroup.Post("/password/reset", cfg.Auth.ResetPassword)

	staffOnly := auth.RequireStaffRole(domain.StaffRoleOfficer, domain.StaffRoleAdmin, domain.StaffRoleSystem)
	adminOnly := auth.RequireStaffRole(domain.StaffRoleAdmin)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Get("/claimable", auth.RequireTechnician(), cfg.Tickets.ListClaimable)
	tickets.Post("/", staffOnly, cfg.Tickets.Create)
	tickets.Get("/", staffOnly, cfg.Tickets.List)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Get("/:id/history", staffOnly, cfg.Tickets.History)
	tickets.Post("/:id/approve", staffOnly, cfg.Tickets.Approve)
	tickets.Post("/:id/reject", staffOnly, cfg.Tickets.Reject)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Delete("/:id", adminOnly, cfg.Tickets.Delete)

	tickets.Post("/:id/assign", staffOnly, cfg.Assignments.Assign)
	tickets.Post("/:id/claim", auth.RequireTechnician(), cfg.Assignments.Claim)
	tickets.Post("/:id/confirm", cfg.Assignments.Confirm)

	envelopes := app.Group("/envelopes", cfg.AuthMiddleware.Handle, staffOnly)
	envelopes.Get("/", cfg.Envelopes.List)
	envelopes.Post("/:id/retry", cfg.Envelopes.Retry)

	technicians := app.Group("/technicians", cfg.AuthMiddleware.Handle)
	technicians.Get("/me/assignments", auth.RequireTechnician(), cfg.Assignments.Mine)
	technicians.Patch("/me/available", auth.RequireTechnician(), cfg.Technicians.SetAvailable)
	technicians.Post("/", staffOnly, cfg.Technicians.Create)
	technicians.Get("/", staffOnly, cfg.Technicians.List)
	technicians.Patch("/:id/active", adminOnly, cfg.Technicians.SetActive)

	app.Post("/evidence", cfg.AuthMiddleware.Handle, cfg.Evidence.Upload)
}
