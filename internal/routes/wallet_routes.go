package routes

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/handlers"
	"contralock/internal/middleware"
)

func SetupWalletRoutes(app *fiber.App, h *handlers.Handler, jwtSecret string) {
	wallet := app.Group("/api/wallet", middleware.Protected(jwtSecret))

	wallet.Get("/", h.GetWallet)
	wallet.Post("/deposit/initialize", h.InitializeDeposit)
	wallet.Post("/deposit/verify", h.VerifyDeposit)
	wallet.Post("/withdraw", h.Withdraw)
}
