package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"contralock/internal/ledger"
	"contralock/internal/lifecycle"
	"contralock/internal/logger"
	"contralock/internal/queue"
	"contralock/internal/services"
)

var validate = validator.New()

// Handler bundles the request-facing dependencies. Everything is passed in
// at construction; handlers hold no package-level state.
type Handler struct {
	db            *gorm.DB
	log           *logger.Logger
	ledger        *ledger.Service
	milestones    *lifecycle.MilestoneController
	disputes      *lifecycle.DisputeController
	jobs          *queue.Service
	paystack      *services.PaystackService
	notifications *services.NotificationService
}

func New(
	db *gorm.DB,
	log *logger.Logger,
	l *ledger.Service,
	milestones *lifecycle.MilestoneController,
	disputes *lifecycle.DisputeController,
	jobs *queue.Service,
	paystack *services.PaystackService,
	notifications *services.NotificationService,
) *Handler {
	return &Handler{
		db:            db,
		log:           log,
		ledger:        l,
		milestones:    milestones,
		disputes:      disputes,
		jobs:          jobs,
		paystack:      paystack,
		notifications: notifications,
	}
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return err
	}
	return nil
}

// fail maps a domain error to its HTTP status. Unknown errors are logged and
// reported as a generic 500 so internals never leak.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrDisputeExists),
		errors.Is(err, ledger.ErrDuplicateSettlement):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientEscrow):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ledger.ErrWalletNotActive):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	default:
		h.log.Error("request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong"})
	}
}

func authedUser(c *fiber.Ctx) uint {
	if id, ok := c.Locals("user_id").(uint); ok {
		return id
	}
	return 0
}
