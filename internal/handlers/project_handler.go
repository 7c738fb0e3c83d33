package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"contralock/internal/ledger"
	"contralock/internal/lifecycle"
	"contralock/internal/models"
)

type MilestoneRequest struct {
	Title              string `json:"title" validate:"required"`
	Amount             int64  `json:"amount" validate:"required,gt=0"`
	Deadline           string `json:"deadline"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
}

type CreateProjectRequest struct {
	FreelancerID    uint               `json:"freelancer_id" validate:"required"`
	Title           string             `json:"title" validate:"required"`
	Description     string             `json:"description"`
	Budget          int64              `json:"budget" validate:"required,gt=0"`
	AutoApproveDays int                `json:"auto_approve_days"`
	Milestones      []MilestoneRequest `json:"milestones" validate:"required,min=1,dive"`
}

// CreateProject creates a project with its milestone plan. The caller is the
// client; amounts are integer minor units and must sum to the budget.
func (h *Handler) CreateProject(c *fiber.Ctx) error {
	req := new(CreateProjectRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	clientID := authedUser(c)

	milestones := make([]lifecycle.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		input := lifecycle.MilestoneInput{
			Title:              m.Title,
			Amount:             m.Amount,
			AcceptanceCriteria: m.AcceptanceCriteria,
		}
		if m.Deadline != "" {
			deadline, err := time.Parse(time.RFC3339, m.Deadline)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "deadline must be RFC3339",
				})
			}
			input.Deadline = &deadline
		}
		milestones = append(milestones, input)
	}

	project, err := h.milestones.CreateProject(c.Context(), lifecycle.CreateProjectParams{
		ClientID:        clientID,
		FreelancerID:    req.FreelancerID,
		Title:           req.Title,
		Description:     req.Description,
		Budget:          req.Budget,
		AutoApproveDays: req.AutoApproveDays,
		Milestones:      milestones,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Project created. Fund the escrow to activate it.",
		"project": project,
	})
}

// FundProject locks the project budget from the client's wallet into escrow
// and activates the project.
func (h *Handler) FundProject(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid project id"})
	}
	userID := authedUser(c)

	var project models.Project
	if err := h.db.First(&project, projectID).Error; err != nil {
		return h.fail(c, err)
	}
	if project.ClientID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Only the client can fund the project",
		})
	}

	txn, err := h.ledger.FundProject(c.Context(), project.ID, project.ClientID, project.Budget)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.milestones.MarkFunded(c.Context(), project.ID); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "Escrow funded. The project is now active.",
		"transaction": txn,
	})
}

// GetProject returns a project with its milestones, visible to its parties
// only.
func (h *Handler) GetProject(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid project id"})
	}
	userID := authedUser(c)

	var project models.Project
	if err := h.db.Preload("Milestones").First(&project, projectID).Error; err != nil {
		return h.fail(c, err)
	}
	if project.ClientID != userID && project.FreelancerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You are not a party to this project",
		})
	}

	return c.JSON(fiber.Map{"project": project})
}

// ListProjects returns the caller's projects on either side of the table.
func (h *Handler) ListProjects(c *fiber.Ctx) error {
	userID := authedUser(c)

	var projects []models.Project
	err := h.db.
		Where("client_id = ? OR freelancer_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&projects).Error
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"projects": projects})
}

// GetProjectEscrow reports what remains releasable from the project's escrow.
func (h *Handler) GetProjectEscrow(c *fiber.Ctx) error {
	projectID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid project id"})
	}
	userID := authedUser(c)

	var project models.Project
	if err := h.db.First(&project, projectID).Error; err != nil {
		return h.fail(c, err)
	}
	if project.ClientID != userID && project.FreelancerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You are not a party to this project",
		})
	}

	balance, err := ledger.ProjectEscrowBalance(h.db, project.ID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"project_id": project.ID,
		"escrow":     balance,
	})
}
