package routes

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/handlers"
	"contralock/internal/middleware"
)

func SetupNotificationRoutes(app *fiber.App, h *handlers.Handler, jwtSecret string) {
	notification := app.Group("/api/notifications", middleware.Protected(jwtSecret))

	notification.Get("/", h.ListNotifications)
	notification.Post("/:id/read", h.MarkNotificationRead)
}
