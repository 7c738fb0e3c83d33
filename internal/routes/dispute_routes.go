package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"contralock/internal/handlers"
	"contralock/internal/middleware"
)

func SetupDisputeRoutes(app *fiber.App, h *handlers.Handler, db *gorm.DB, jwtSecret string) {
	dispute := app.Group("/api/disputes", middleware.Protected(jwtSecret))

	// Raise a dispute
	dispute.Post("/", h.OpenDispute)

	// Get specific dispute
	dispute.Get("/:id", h.GetDispute)

	// Conversation and evidence
	dispute.Post("/:id/messages", h.AddDisputeMessage)
	dispute.Post("/:id/evidence", h.AddDisputeEvidence)

	// Resolution surface, limited to the assigned humans and admins
	resolution := dispute.Group("", middleware.RequireRole(db, "mediator", "arbitrator", "admin"))
	resolution.Post("/:id/resolve", h.ResolveDispute)
	resolution.Post("/:id/escalate", h.EscalateDispute)
}
