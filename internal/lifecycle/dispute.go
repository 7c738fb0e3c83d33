package lifecycle

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"contralock/internal/config"
	"contralock/internal/ledger"
	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/queue"
)

// DisputePayload is the body shared by the dispute triage and notification
// jobs.
type DisputePayload struct {
	DisputeID uint   `json:"dispute_id"`
	TraceID   string `json:"trace_id"`
}

// DisputeSettlementPayload is one leg of a resolved dispute's split.
type DisputeSettlementPayload struct {
	DisputeID   uint   `json:"dispute_id"`
	ProjectID   uint   `json:"project_id"`
	MilestoneID uint   `json:"milestone_id"`
	Recipient   string `json:"recipient"`
	UserID      uint   `json:"user_id"`
	Amount      int64  `json:"amount"`
	TraceID     string `json:"trace_id"`
}

// DisputeController enforces the dispute state machine: PENDING_REVIEW →
// IN_MEDIATION|IN_ARBITRATION → RESOLVED|ESCALATED, with human assignment
// required after escalation.
type DisputeController struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     *queue.Service
	policy   config.PolicyConfig
	queueCfg config.QueueConfig
}

func NewDisputeController(db *gorm.DB, log *logger.Logger, jobs *queue.Service, policy config.PolicyConfig, queueCfg config.QueueConfig) *DisputeController {
	return &DisputeController{db: db, log: log, jobs: jobs, policy: policy, queueCfg: queueCfg}
}

// EvidenceInput is one artifact reference attached when opening a dispute.
type EvidenceInput struct {
	URL  string
	Note string
}

// OpenParams describes a new dispute.
type OpenParams struct {
	MilestoneID uint
	RaisedBy    uint
	Reason      models.DisputeReason
	Description string
	Evidence    []EvidenceInput
}

// Open creates a dispute on a submitted or approved milestone, flips the
// milestone to disputed, and enqueues triage plus party notification. Escrow
// is untouched; the raiser pays the filing fee.
func (c *DisputeController) Open(ctx context.Context, p OpenParams) (*models.Dispute, error) {
	if p.Description == "" {
		return nil, fmt.Errorf("%w: dispute description is required", ErrValidation)
	}

	var milestone models.Milestone
	if err := c.db.WithContext(ctx).First(&milestone, p.MilestoneID).Error; err != nil {
		return nil, err
	}
	var project models.Project
	if err := c.db.WithContext(ctx).First(&project, milestone.ProjectID).Error; err != nil {
		return nil, err
	}
	if p.RaisedBy != project.ClientID && p.RaisedBy != project.FreelancerID {
		return nil, fmt.Errorf("%w: only a project party can raise a dispute", ErrForbidden)
	}

	var existing int64
	err := c.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("project_id = ? AND milestone_id = ? AND raised_by = ? AND status <> ?",
			project.ID, p.MilestoneID, p.RaisedBy, models.DisputeResolved).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrDisputeExists
	}

	traceID := ledger.NewTraceID()
	dispute := &models.Dispute{
		ProjectID:       project.ID,
		MilestoneID:     p.MilestoneID,
		RaisedBy:        p.RaisedBy,
		Reason:          p.Reason,
		Description:     p.Description,
		Status:          models.DisputePendingReview,
		ResolutionPhase: models.PhaseAutoReview,
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Milestone{}).
			Where("id = ? AND status IN ?", p.MilestoneID, []models.MilestoneStatus{models.MilestoneSubmitted, models.MilestoneApproved}).
			Update("status", models.MilestoneDisputed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot dispute milestone with status %s", ErrInvalidTransition, milestone.Status)
		}

		if err := tx.Create(dispute).Error; err != nil {
			return err
		}

		// The raiser pays the filing fee up front; an unfunded wallet blocks
		// the dispute entirely.
		if c.policy.DisputeFee > 0 {
			if _, err := ledger.ChargeDisputeFee(tx, p.RaisedBy, &dispute.ID, c.policy.DisputeFee); err != nil {
				return err
			}
			if err := tx.Model(dispute).Update("dispute_fee_paid", true).Error; err != nil {
				return err
			}
			dispute.DisputeFeePaid = true
		}

		for _, e := range p.Evidence {
			row := models.DisputeEvidence{
				DisputeID:   dispute.ID,
				SubmittedBy: p.RaisedBy,
				URL:         e.URL,
				Note:        e.Note,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		payload := DisputePayload{DisputeID: dispute.ID, TraceID: traceID}
		if _, err := c.jobs.EnqueueTx(tx, DisputeQueue, JobAiAnalysis, payload); err != nil {
			return err
		}
		if _, err := c.jobs.EnqueueTx(tx, EmailQueue, JobNotifyParties, payload,
			queue.WithMaxAttempts(c.queueCfg.NotifyMaxAttempts),
			queue.WithBackoff(30*time.Second),
		); err != nil {
			return err
		}

		if err := ledger.Audit(tx, "dispute.opened", &p.RaisedBy, "dispute", dispute.ID, nil, dispute, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "dispute.opened", map[string]interface{}{
			"dispute_id":    dispute.ID,
			"project_id":    project.ID,
			"milestone_id":  p.MilestoneID,
			"raised_by":     p.RaisedBy,
			"client_id":     project.ClientID,
			"freelancer_id": project.FreelancerID,
			"reason":        p.Reason,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// ResolveParams carries a resolution decision and its amount split.
type ResolveParams struct {
	DisputeID          uint
	Decision           string
	AmountToFreelancer int64
	AmountToClient     int64
	DecidedBy          uint
}

// Resolve validates the split, flips the dispute to resolved, and enqueues
// the settlement legs in the same transaction. The split check runs before
// anything is enqueued; the two legs are independent idempotent jobs.
func (c *DisputeController) Resolve(ctx context.Context, p ResolveParams) error {
	if p.AmountToFreelancer < 0 || p.AmountToClient < 0 {
		return fmt.Errorf("%w: split amounts must be non-negative", ErrValidation)
	}

	var dispute models.Dispute
	if err := c.db.WithContext(ctx).First(&dispute, p.DisputeID).Error; err != nil {
		return err
	}
	var milestone models.Milestone
	if err := c.db.WithContext(ctx).First(&milestone, dispute.MilestoneID).Error; err != nil {
		return err
	}
	var project models.Project
	if err := c.db.WithContext(ctx).First(&project, dispute.ProjectID).Error; err != nil {
		return err
	}

	if p.AmountToFreelancer+p.AmountToClient != milestone.Amount {
		return fmt.Errorf("%w: split %d + %d does not sum to milestone amount %d",
			ErrValidation, p.AmountToFreelancer, p.AmountToClient, milestone.Amount)
	}
	if dispute.Status == models.DisputeEscalated && dispute.MediatorID == nil && dispute.ArbitratorID == nil {
		return fmt.Errorf("%w: escalated dispute needs an assigned mediator or arbitrator before resolution", ErrInvalidTransition)
	}

	traceID := ledger.NewTraceID()
	now := time.Now()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Dispute{}).
			Where("id = ? AND status IN ?", p.DisputeID, []models.DisputeStatus{
				models.DisputeInMediation, models.DisputeInArbitration, models.DisputeEscalated,
			}).
			Updates(map[string]interface{}{
				"status":                   models.DisputeResolved,
				"resolution_phase":         models.PhaseClosed,
				"resolution_decision":      p.Decision,
				"resolution_to_freelancer": p.AmountToFreelancer,
				"resolution_to_client":     p.AmountToClient,
				"resolution_decided_by":    p.DecidedBy,
				"resolution_decided_at":    now,
				"resolved_at":              now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot resolve dispute with status %s", ErrInvalidTransition, dispute.Status)
		}

		legs := []DisputeSettlementPayload{}
		if p.AmountToFreelancer > 0 {
			legs = append(legs, DisputeSettlementPayload{
				DisputeID:   p.DisputeID,
				ProjectID:   project.ID,
				MilestoneID: milestone.ID,
				Recipient:   "freelancer",
				UserID:      project.FreelancerID,
				Amount:      p.AmountToFreelancer,
				TraceID:     traceID,
			})
		}
		if p.AmountToClient > 0 {
			legs = append(legs, DisputeSettlementPayload{
				DisputeID:   p.DisputeID,
				ProjectID:   project.ID,
				MilestoneID: milestone.ID,
				Recipient:   "client",
				UserID:      project.ClientID,
				Amount:      p.AmountToClient,
				TraceID:     traceID,
			})
		}
		for _, leg := range legs {
			jobType := JobDisputePayment
			if leg.Recipient == "client" {
				jobType = JobDisputeRefund
			}
			if _, err := c.jobs.EnqueueTx(tx, PaymentQueue, jobType, leg,
				queue.WithMaxAttempts(c.queueCfg.PaymentMaxAttempts),
				queue.WithBackoff(2*time.Second),
				queue.WithPriority(10),
			); err != nil {
				return err
			}
		}

		payload := DisputePayload{DisputeID: p.DisputeID, TraceID: traceID}
		if _, err := c.jobs.EnqueueTx(tx, EmailQueue, JobNotifyParties, payload,
			queue.WithMaxAttempts(c.queueCfg.NotifyMaxAttempts),
			queue.WithBackoff(30*time.Second),
		); err != nil {
			return err
		}

		if err := ledger.Audit(tx, "dispute.resolved", &p.DecidedBy, "dispute", p.DisputeID,
			map[string]interface{}{"status": dispute.Status},
			map[string]interface{}{
				"status":               models.DisputeResolved,
				"amount_to_freelancer": p.AmountToFreelancer,
				"amount_to_client":     p.AmountToClient,
			}, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "dispute.resolved", map[string]interface{}{
			"dispute_id":           p.DisputeID,
			"project_id":           project.ID,
			"milestone_id":         milestone.ID,
			"client_id":            project.ClientID,
			"freelancer_id":        project.FreelancerID,
			"amount_to_freelancer": p.AmountToFreelancer,
			"amount_to_client":     p.AmountToClient,
			"decision":             p.Decision,
		}, traceID)
	})
}

// Escalate hands a dispute to human assignment. Resolve stays blocked until
// a mediator or arbitrator is assigned.
func (c *DisputeController) Escalate(ctx context.Context, disputeID, actorID uint, reason string) error {
	var dispute models.Dispute
	if err := c.db.WithContext(ctx).First(&dispute, disputeID).Error; err != nil {
		return err
	}

	traceID := ledger.NewTraceID()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Dispute{}).
			Where("id = ? AND status IN ?", disputeID, []models.DisputeStatus{
				models.DisputeInMediation, models.DisputeInArbitration,
			}).
			Update("status", models.DisputeEscalated)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot escalate dispute with status %s", ErrInvalidTransition, dispute.Status)
		}

		if err := ledger.Audit(tx, "dispute.escalated", &actorID, "dispute", disputeID,
			map[string]interface{}{"status": dispute.Status},
			map[string]interface{}{"status": models.DisputeEscalated, "reason": reason}, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "dispute.escalated", map[string]interface{}{
			"dispute_id": disputeID,
			"reason":     reason,
		}, traceID)
	})
}

// Assign attaches a human mediator or arbitrator.
func (c *DisputeController) Assign(ctx context.Context, disputeID, assigneeID uint, role string) error {
	column := ""
	switch role {
	case "mediator":
		column = "mediator_id"
	case "arbitrator":
		column = "arbitrator_id"
	default:
		return fmt.Errorf("%w: role must be mediator or arbitrator", ErrValidation)
	}

	res := c.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", disputeID, []models.DisputeStatus{
			models.DisputeInMediation, models.DisputeInArbitration, models.DisputeEscalated,
		}).
		Update(column, assigneeID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// AddMessage appends to the dispute conversation log.
func (c *DisputeController) AddMessage(ctx context.Context, disputeID, authorID uint, body string) error {
	if body == "" {
		return fmt.Errorf("%w: message body is required", ErrValidation)
	}
	var dispute models.Dispute
	if err := c.db.WithContext(ctx).First(&dispute, disputeID).Error; err != nil {
		return err
	}
	if dispute.Status == models.DisputeResolved {
		return fmt.Errorf("%w: dispute is already resolved", ErrInvalidTransition)
	}
	return c.db.WithContext(ctx).Create(&models.DisputeMessage{
		DisputeID: disputeID,
		AuthorID:  authorID,
		Body:      body,
	}).Error
}

// AddEvidence appends an evidence reference to an open dispute.
func (c *DisputeController) AddEvidence(ctx context.Context, disputeID, userID uint, e EvidenceInput) error {
	if e.URL == "" {
		return fmt.Errorf("%w: evidence URL is required", ErrValidation)
	}
	var dispute models.Dispute
	if err := c.db.WithContext(ctx).First(&dispute, disputeID).Error; err != nil {
		return err
	}
	if dispute.Status == models.DisputeResolved {
		return fmt.Errorf("%w: dispute is already resolved", ErrInvalidTransition)
	}
	return c.db.WithContext(ctx).Create(&models.DisputeEvidence{
		DisputeID:   disputeID,
		SubmittedBy: userID,
		URL:         e.URL,
		Note:        e.Note,
	}).Error
}
