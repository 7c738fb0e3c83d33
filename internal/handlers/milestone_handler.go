package handlers

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/lifecycle"
	"contralock/internal/models"
)

type SubmitMilestoneRequest struct {
	Deliverables []DeliverableRequest `json:"deliverables" validate:"dive"`
	Notes        string               `json:"notes"`
}

type DeliverableRequest struct {
	URL  string `json:"url" validate:"required"`
	Note string `json:"note"`
}

type RevisionRequest struct {
	Notes string `json:"notes" validate:"required"`
}

// StartMilestone moves a milestone into progress.
func (h *Handler) StartMilestone(c *fiber.Ctx) error {
	milestoneID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid milestone id"})
	}

	if err := h.milestones.Start(c.Context(), uint(milestoneID), authedUser(c)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Milestone started"})
}

// SubmitMilestone marks the work as delivered and starts the client's review
// window.
func (h *Handler) SubmitMilestone(c *fiber.Ctx) error {
	milestoneID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid milestone id"})
	}
	req := new(SubmitMilestoneRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	deliverables := make([]lifecycle.DeliverableInput, 0, len(req.Deliverables))
	for _, d := range req.Deliverables {
		deliverables = append(deliverables, lifecycle.DeliverableInput{URL: d.URL, Note: d.Note})
	}

	if err := h.milestones.Submit(c.Context(), uint(milestoneID), authedUser(c), deliverables, req.Notes); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Milestone submitted for review"})
}

// ApproveMilestone accepts the submission and queues the escrow release.
func (h *Handler) ApproveMilestone(c *fiber.Ctx) error {
	milestoneID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid milestone id"})
	}
	userID := authedUser(c)

	if err := h.milestones.Approve(c.Context(), uint(milestoneID), &userID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Milestone approved. Payment is being settled."})
}

// RequestRevision sends the submission back with notes.
func (h *Handler) RequestRevision(c *fiber.Ctx) error {
	milestoneID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid milestone id"})
	}
	req := new(RevisionRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.milestones.RequestRevision(c.Context(), uint(milestoneID), authedUser(c), req.Notes); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Revision requested"})
}

// GetMilestone returns a milestone with its deliverables and revision log.
func (h *Handler) GetMilestone(c *fiber.Ctx) error {
	milestoneID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid milestone id"})
	}
	userID := authedUser(c)

	var milestone models.Milestone
	if err := h.db.
		Preload("Deliverables").
		Preload("RevisionHistory").
		First(&milestone, milestoneID).Error; err != nil {
		return h.fail(c, err)
	}
	var project models.Project
	if err := h.db.First(&project, milestone.ProjectID).Error; err != nil {
		return h.fail(c, err)
	}
	if project.ClientID != userID && project.FreelancerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You are not a party to this project",
		})
	}

	return c.JSON(fiber.Map{"milestone": milestone})
}
