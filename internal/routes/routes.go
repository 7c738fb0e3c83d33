package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"contralock/internal/handlers"
)

// Setup wires every route group. The handler and its dependencies are built
// in main and passed down; route files only bind paths.
func Setup(app *fiber.App, h *handlers.Handler, db *gorm.DB, jwtSecret string) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupProjectRoutes(app, h, jwtSecret)
	SetupMilestoneRoutes(app, h, jwtSecret)
	SetupDisputeRoutes(app, h, db, jwtSecret)
	SetupWalletRoutes(app, h, jwtSecret)
	SetupNotificationRoutes(app, h, jwtSecret)
	SetupAdminRoutes(app, h, db, jwtSecret)
}
