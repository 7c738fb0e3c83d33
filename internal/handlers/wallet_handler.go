package handlers

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/ledger"
	"contralock/internal/models"
)

type InitializeDepositRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	CallbackURL string `json:"callback_url"`
}

type VerifyDepositRequest struct {
	Reference string `json:"reference" validate:"required"`
}

type WithdrawRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Destination string `json:"destination" validate:"required"`
}

// GetWallet returns the caller's wallet and recent activity.
func (h *Handler) GetWallet(c *fiber.Ctx) error {
	userID := authedUser(c)

	var wallet models.Wallet
	if err := h.db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return h.fail(c, err)
	}

	var transactions []models.WalletTransaction
	err := h.db.
		Where("from_wallet_id = ? OR to_wallet_id = ?", wallet.ID, wallet.ID).
		Order("created_at DESC").
		Limit(50).
		Find(&transactions).Error
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"wallet":       wallet,
		"transactions": transactions,
	})
}

// InitializeDeposit starts a hosted checkout for a wallet top-up. The credit
// itself happens in VerifyDeposit after the gateway confirms.
func (h *Handler) InitializeDeposit(c *fiber.Ctx) error {
	req := new(InitializeDepositRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	userID := authedUser(c)

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		return h.fail(c, err)
	}

	reference := ledger.Reference("DEP")
	resp, err := h.paystack.InitializePayment(c.Context(), user.Email, req.Amount, reference, req.CallbackURL)
	if err != nil {
		h.log.Error("failed to initialize deposit for user %d: %v", userID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Payment provider unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"authorization_url": resp.Data.AuthorizationURL,
		"reference":         resp.Data.Reference,
	})
}

// VerifyDeposit confirms a checkout with the gateway and credits the wallet.
func (h *Handler) VerifyDeposit(c *fiber.Ctx) error {
	req := new(VerifyDepositRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	userID := authedUser(c)

	resp, err := h.paystack.VerifyPayment(c.Context(), req.Reference)
	if err != nil {
		h.log.Error("failed to verify deposit %s: %v", req.Reference, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Payment provider unavailable",
		})
	}
	if resp.Data.Status != "success" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Payment was not successful",
		})
	}

	wt, err := h.ledger.Deposit(c.Context(), userID, resp.Data.Amount, "paystack", resp.Data.Reference)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "Deposit successful",
		"transaction": wt,
	})
}

// Withdraw debits the caller's available balance. Locked escrow is never
// withdrawable.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	req := new(WithdrawRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	wt, err := h.ledger.Withdraw(c.Context(), authedUser(c), req.Amount, req.Destination)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "Withdrawal initiated",
		"transaction": wt,
	})
}
