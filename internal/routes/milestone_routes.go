package routes

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/handlers"
	"contralock/internal/middleware"
)

func SetupMilestoneRoutes(app *fiber.App, h *handlers.Handler, jwtSecret string) {
	milestone := app.Group("/api/milestones", middleware.Protected(jwtSecret))

	milestone.Get("/:id", h.GetMilestone)
	milestone.Post("/:id/start", h.StartMilestone)
	milestone.Post("/:id/submit", h.SubmitMilestone)
	milestone.Post("/:id/approve", h.ApproveMilestone)
	milestone.Post("/:id/revision", h.RequestRevision)
}
