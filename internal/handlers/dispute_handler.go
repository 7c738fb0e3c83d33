package handlers

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/lifecycle"
	"contralock/internal/models"
)

type OpenDisputeRequest struct {
	MilestoneID uint              `json:"milestone_id" validate:"required"`
	Reason      string            `json:"reason" validate:"required"`
	Description string            `json:"description" validate:"required"`
	Evidence    []EvidenceRequest `json:"evidence" validate:"dive"`
}

type EvidenceRequest struct {
	URL  string `json:"url" validate:"required"`
	Note string `json:"note"`
}

type ResolveDisputeRequest struct {
	Decision           string `json:"decision" validate:"required"`
	AmountToFreelancer int64  `json:"amount_to_freelancer" validate:"gte=0"`
	AmountToClient     int64  `json:"amount_to_client" validate:"gte=0"`
}

type EscalateDisputeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type AssignDisputeRequest struct {
	AssigneeID uint   `json:"assignee_id" validate:"required"`
	Role       string `json:"role" validate:"required,oneof=mediator arbitrator"`
}

type DisputeMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

// OpenDispute freezes a milestone's funds in escrow and queues automated
// triage.
func (h *Handler) OpenDispute(c *fiber.Ctx) error {
	req := new(OpenDisputeRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	evidence := make([]lifecycle.EvidenceInput, 0, len(req.Evidence))
	for _, e := range req.Evidence {
		evidence = append(evidence, lifecycle.EvidenceInput{URL: e.URL, Note: e.Note})
	}

	dispute, err := h.disputes.Open(c.Context(), lifecycle.OpenParams{
		MilestoneID: req.MilestoneID,
		RaisedBy:    authedUser(c),
		Reason:      models.DisputeReason(req.Reason),
		Description: req.Description,
		Evidence:    evidence,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Dispute opened. The funds stay locked in escrow until it is resolved.",
		"dispute": dispute,
	})
}

// ResolveDispute records the decision and queues the settlement split.
// Mediator, arbitrator, and admin roles reach this through the route guard.
func (h *Handler) ResolveDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	req := new(ResolveDisputeRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	err = h.disputes.Resolve(c.Context(), lifecycle.ResolveParams{
		DisputeID:          uint(disputeID),
		Decision:           req.Decision,
		AmountToFreelancer: req.AmountToFreelancer,
		AmountToClient:     req.AmountToClient,
		DecidedBy:          authedUser(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Dispute resolved. Settlement is being processed."})
}

// EscalateDispute hands the case to human assignment.
func (h *Handler) EscalateDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	req := new(EscalateDisputeRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.disputes.Escalate(c.Context(), uint(disputeID), authedUser(c), req.Reason); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Dispute escalated"})
}

// AssignDispute attaches a mediator or arbitrator. Admin only.
func (h *Handler) AssignDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	req := new(AssignDisputeRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.disputes.Assign(c.Context(), uint(disputeID), req.AssigneeID, req.Role); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Dispute assigned"})
}

// AddDisputeMessage appends to the dispute conversation.
func (h *Handler) AddDisputeMessage(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	req := new(DisputeMessageRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.disputes.AddMessage(c.Context(), uint(disputeID), authedUser(c), req.Body); err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Message added"})
}

// AddDisputeEvidence attaches another evidence reference to an open dispute.
func (h *Handler) AddDisputeEvidence(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	req := new(EvidenceRequest)
	if err := parseBody(c, req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	err = h.disputes.AddEvidence(c.Context(), uint(disputeID), authedUser(c), lifecycle.EvidenceInput{
		URL:  req.URL,
		Note: req.Note,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Evidence added"})
}

// GetDispute returns a dispute with its evidence and messages.
func (h *Handler) GetDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	userID := authedUser(c)

	var dispute models.Dispute
	if err := h.db.
		Preload("Evidence").
		Preload("Messages").
		First(&dispute, disputeID).Error; err != nil {
		return h.fail(c, err)
	}

	var project models.Project
	if err := h.db.First(&project, dispute.ProjectID).Error; err != nil {
		return h.fail(c, err)
	}
	isParty := project.ClientID == userID || project.FreelancerID == userID
	isAssigned := (dispute.MediatorID != nil && *dispute.MediatorID == userID) ||
		(dispute.ArbitratorID != nil && *dispute.ArbitratorID == userID)
	if !isParty && !isAssigned {
		var user models.User
		if err := h.db.First(&user, userID).Error; err != nil || !user.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You have no access to this dispute",
			})
		}
	}

	return c.JSON(fiber.Map{"dispute": dispute})
}
