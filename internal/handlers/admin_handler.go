package handlers

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/models"
)

type AdminAdjustRequest struct {
	UserID    uint   `json:"user_id" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Credit    bool   `json:"credit"`
	Reason    string `json:"reason" validate:"required"`
	ProjectID *uint  `json:"project_id"`
}

// ListDeadLetters shows jobs that exhausted their retry budget.
func (h *Handler) ListDeadLetters(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	jobs, err := h.jobs.DeadLetters(c.Context(), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// RequeueDeadLetter gives a dead-lettered job a fresh retry budget after the
// underlying issue was fixed.
func (h *Handler) RequeueDeadLetter(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid job id"})
	}

	if err := h.jobs.RequeueDeadLetter(c.Context(), jobID); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "Job requeued"})
}

// AdminAdjust moves money in or out of a wallet with an audited reason.
// Existing ledger rows are never edited; this adds a new one.
func (h *Handler) AdminAdjust(c *fiber.Ctx) error {
	req := new(AdminAdjustRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	wt, err := h.ledger.AdminAdjust(c.Context(), authedUser(c), req.UserID, req.Amount, req.Credit, req.Reason, req.ProjectID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "Adjustment applied",
		"transaction": wt,
	})
}

// ListAuditTrail queries the append-only audit log, filterable by entity or
// trace id.
func (h *Handler) ListAuditTrail(c *fiber.Ctx) error {
	query := h.db.Model(&models.AuditTrail{}).Order("id DESC").Limit(c.QueryInt("limit", 100))

	if entityType := c.Query("entity_type"); entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if entityID := c.QueryInt("entity_id", 0); entityID > 0 {
		query = query.Where("entity_id = ?", entityID)
	}
	if traceID := c.Query("trace_id"); traceID != "" {
		query = query.Where("trace_id = ?", traceID)
	}

	var rows []models.AuditTrail
	if err := query.Find(&rows).Error; err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"audit": rows})
}

// ListTransactions shows a project's settlement history, failed attempts
// included.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid project id"})
	}

	var transactions []models.Transaction
	err = h.db.
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&transactions).Error
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"transactions": transactions})
}
