package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"contralock/internal/handlers"
	"contralock/internal/middleware"
)

func SetupAdminRoutes(app *fiber.App, h *handlers.Handler, db *gorm.DB, jwtSecret string) {
	admin := app.Group("/api/admin", middleware.Protected(jwtSecret), middleware.RequireRole(db, "admin"))

	// Dead-letter remediation
	admin.Get("/jobs/dead-letter", h.ListDeadLetters)
	admin.Post("/jobs/:id/requeue", h.RequeueDeadLetter)

	// Wallet repairs
	admin.Post("/wallets/adjust", h.AdminAdjust)

	// Dispute assignment
	admin.Post("/disputes/:id/assign", h.AssignDispute)

	// Audit and settlement history
	admin.Get("/audit", h.ListAuditTrail)
	admin.Get("/projects/:id/transactions", h.ListTransactions)
}
