package routes

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/handlers"
	"contralock/internal/middleware"
)

func SetupProjectRoutes(app *fiber.App, h *handlers.Handler, jwtSecret string) {
	project := app.Group("/api/projects", middleware.Protected(jwtSecret))

	project.Post("/", h.CreateProject)
	project.Get("/", h.ListProjects)
	project.Get("/:id", h.GetProject)
	project.Post("/:id/fund", h.FundProject)
	project.Get("/:id/escrow", h.GetProjectEscrow)
}
