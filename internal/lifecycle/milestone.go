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

// Queue and job names used by the controllers and registered by the workers.
const (
	PaymentQueue = "payment"
	DisputeQueue = "dispute"
	EmailQueue   = "email"

	JobMilestoneRelease = "milestone_release"
	JobDisputePayment   = "dispute_payment"
	JobDisputeRefund    = "dispute_refund"
	JobAiAnalysis       = "ai_analysis"
	JobNotifyParties    = "notify_parties"
)

// ReleasePayload is the payment job body for a milestone payout.
type ReleasePayload struct {
	ProjectID   uint   `json:"project_id"`
	MilestoneID uint   `json:"milestone_id"`
	ToUserID    uint   `json:"to_user_id"`
	FromUserID  uint   `json:"from_user_id"`
	Amount      int64  `json:"amount"`
	TraceID     string `json:"trace_id"`
}

// MilestoneController enforces the milestone state machine and triggers
// settlement jobs on transitions. Every transition is a guarded update, so
// two concurrent calls cannot both win.
type MilestoneController struct {
	db     *gorm.DB
	log    *logger.Logger
	jobs   *queue.Service
	policy config.PolicyConfig
	queueCfg config.QueueConfig
}

func NewMilestoneController(db *gorm.DB, log *logger.Logger, jobs *queue.Service, policy config.PolicyConfig, queueCfg config.QueueConfig) *MilestoneController {
	return &MilestoneController{db: db, log: log, jobs: jobs, policy: policy, queueCfg: queueCfg}
}

// MilestoneInput is one milestone of a project at creation time.
type MilestoneInput struct {
	Title              string
	Amount             int64
	Deadline           *time.Time
	AcceptanceCriteria string
}

// CreateProjectParams bundles a project with its full milestone plan.
type CreateProjectParams struct {
	ClientID        uint
	FreelancerID    uint
	Title           string
	Description     string
	Budget          int64
	AutoApproveDays int
	Milestones      []MilestoneInput
}

// CreateProject validates the milestone plan against the budget and persists
// project plus milestones atomically.
func (c *MilestoneController) CreateProject(ctx context.Context, p CreateProjectParams) (*models.Project, error) {
	if p.ClientID == p.FreelancerID {
		return nil, fmt.Errorf("%w: client and freelancer must differ", ErrValidation)
	}
	if p.Budget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrValidation)
	}
	if len(p.Milestones) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone is required", ErrValidation)
	}
	var total int64
	for _, m := range p.Milestones {
		if m.Amount < c.policy.MinMilestoneAmount {
			return nil, fmt.Errorf("%w: milestone amount %d is below the minimum of %d", ErrValidation, m.Amount, c.policy.MinMilestoneAmount)
		}
		total += m.Amount
	}
	if total != p.Budget {
		return nil, fmt.Errorf("%w: milestone amounts sum to %d, budget is %d", ErrValidation, total, p.Budget)
	}

	autoApprove := p.AutoApproveDays
	if autoApprove <= 0 {
		autoApprove = c.policy.AutoApproveDays
	}

	traceID := ledger.NewTraceID()
	project := &models.Project{
		ClientID:        p.ClientID,
		FreelancerID:    p.FreelancerID,
		Title:           p.Title,
		Description:     p.Description,
		Budget:          p.Budget,
		AutoApproveDays: autoApprove,
		Status:          models.ProjectDraft,
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return err
		}
		for _, m := range p.Milestones {
			milestone := models.Milestone{
				ProjectID:          project.ID,
				Title:              m.Title,
				Amount:             m.Amount,
				Deadline:           m.Deadline,
				AcceptanceCriteria: m.AcceptanceCriteria,
				Status:             models.MilestonePending,
			}
			if err := tx.Create(&milestone).Error; err != nil {
				return err
			}
		}
		if err := ledger.Audit(tx, "project.created", &p.ClientID, "project", project.ID, nil, project, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "project.created", map[string]interface{}{
			"project_id":    project.ID,
			"client_id":     p.ClientID,
			"freelancer_id": p.FreelancerID,
			"budget":        p.Budget,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// MarkFunded flips a draft project to funded after the ledger recorded the
// escrow deposit.
func (c *MilestoneController) MarkFunded(ctx context.Context, projectID uint) error {
	now := time.Now()
	res := c.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ? AND status = ?", projectID, models.ProjectDraft).
		Updates(map[string]interface{}{
			"status":    models.ProjectActive,
			"funded_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Start moves a milestone into progress. Valid from pending or
// revision_requested (the revision loop).
func (c *MilestoneController) Start(ctx context.Context, milestoneID, actorID uint) error {
	milestone, project, err := c.loadMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if actorID != project.FreelancerID {
		return fmt.Errorf("%w: only the freelancer can start a milestone", ErrForbidden)
	}

	res := c.db.WithContext(ctx).Model(&models.Milestone{}).
		Where("id = ? AND status IN ?", milestoneID, []models.MilestoneStatus{models.MilestonePending, models.MilestoneRevisionRequested}).
		Update("status", models.MilestoneInProgress)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: cannot start milestone with status %s", ErrInvalidTransition, milestone.Status)
	}
	return nil
}

// DeliverableInput is one submitted artifact reference.
type DeliverableInput struct {
	URL  string
	Note string
}

// Submit marks a milestone as delivered. Requires at least one deliverable
// or non-empty notes; moves no money.
func (c *MilestoneController) Submit(ctx context.Context, milestoneID, actorID uint, deliverables []DeliverableInput, notes string) error {
	milestone, project, err := c.loadMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if actorID != project.FreelancerID {
		return fmt.Errorf("%w: only the freelancer can submit a milestone", ErrForbidden)
	}
	if len(deliverables) == 0 && notes == "" {
		return fmt.Errorf("%w: submission requires deliverables or notes", ErrValidation)
	}

	traceID := ledger.NewTraceID()
	now := time.Now()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Milestone{}).
			Where("id = ? AND status IN ?", milestoneID, []models.MilestoneStatus{models.MilestonePending, models.MilestoneInProgress}).
			Updates(map[string]interface{}{
				"status":       models.MilestoneSubmitted,
				"submitted_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot submit milestone with status %s", ErrInvalidTransition, milestone.Status)
		}

		for _, d := range deliverables {
			row := models.Deliverable{
				MilestoneID: milestoneID,
				URL:         d.URL,
				Note:        d.Note,
				SubmittedBy: actorID,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		if len(deliverables) == 0 && notes != "" {
			row := models.Deliverable{
				MilestoneID: milestoneID,
				Note:        notes,
				SubmittedBy: actorID,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if err := ledger.Audit(tx, "milestone.submitted", &actorID, "milestone", milestoneID,
			map[string]interface{}{"status": milestone.Status},
			map[string]interface{}{"status": models.MilestoneSubmitted}, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "milestone.submitted", map[string]interface{}{
			"project_id":    project.ID,
			"milestone_id":  milestoneID,
			"client_id":     project.ClientID,
			"freelancer_id": project.FreelancerID,
			"notes":         notes,
		}, traceID)
	})
}

// Approve flips a submitted milestone to approved and enqueues the release
// job in the same transaction, so the settlement job exists if and only if
// the approval committed. The guarded update makes a concurrent second
// approve lose with ErrInvalidTransition before any duplicate job is queued.
func (c *MilestoneController) Approve(ctx context.Context, milestoneID uint, actorID *uint) error {
	milestone, project, err := c.loadMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if actorID != nil && *actorID != project.ClientID {
		return fmt.Errorf("%w: only the client can approve a milestone", ErrForbidden)
	}

	traceID := ledger.NewTraceID()
	now := time.Now()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := ledger.CompletedSettlementExists(tx, ledger.MilestoneReleaseKey(milestoneID))
		if err != nil {
			return err
		}
		if exists {
			return ledger.ErrDuplicateSettlement
		}

		res := tx.Model(&models.Milestone{}).
			Where("id = ? AND status = ?", milestoneID, models.MilestoneSubmitted).
			Updates(map[string]interface{}{
				"status":      models.MilestoneApproved,
				"approved_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot approve milestone with status %s", ErrInvalidTransition, milestone.Status)
		}

		_, err = c.jobs.EnqueueTx(tx, PaymentQueue, JobMilestoneRelease, ReleasePayload{
			ProjectID:   project.ID,
			MilestoneID: milestoneID,
			ToUserID:    project.FreelancerID,
			FromUserID:  project.ClientID,
			Amount:      milestone.Amount,
			TraceID:     traceID,
		},
			queue.WithMaxAttempts(c.queueCfg.PaymentMaxAttempts),
			queue.WithBackoff(2*time.Second),
			queue.WithPriority(10),
		)
		if err != nil {
			return err
		}

		if err := ledger.Audit(tx, "milestone.approved", actorID, "milestone", milestoneID,
			map[string]interface{}{"status": milestone.Status},
			map[string]interface{}{"status": models.MilestoneApproved}, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "milestone.approved", map[string]interface{}{
			"project_id":    project.ID,
			"milestone_id":  milestoneID,
			"client_id":     project.ClientID,
			"freelancer_id": project.FreelancerID,
			"amount":        milestone.Amount,
			"by_system":     actorID == nil,
		}, traceID)
	})
}

// RequestRevision loops a submitted milestone back for more work.
func (c *MilestoneController) RequestRevision(ctx context.Context, milestoneID, actorID uint, notes string) error {
	milestone, project, err := c.loadMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if actorID != project.ClientID {
		return fmt.Errorf("%w: only the client can request a revision", ErrForbidden)
	}
	if notes == "" {
		return fmt.Errorf("%w: revision notes are required", ErrValidation)
	}

	traceID := ledger.NewTraceID()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Milestone{}).
			Where("id = ? AND status = ?", milestoneID, models.MilestoneSubmitted).
			Update("status", models.MilestoneRevisionRequested)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cannot request revision with status %s", ErrInvalidTransition, milestone.Status)
		}

		revision := models.MilestoneRevision{
			MilestoneID: milestoneID,
			RequestedBy: actorID,
			Notes:       notes,
		}
		if err := tx.Create(&revision).Error; err != nil {
			return err
		}

		if err := ledger.Audit(tx, "milestone.revision_requested", &actorID, "milestone", milestoneID,
			map[string]interface{}{"status": milestone.Status},
			map[string]interface{}{"status": models.MilestoneRevisionRequested}, traceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "milestone.revision_requested", map[string]interface{}{
			"project_id":    project.ID,
			"milestone_id":  milestoneID,
			"client_id":     project.ClientID,
			"freelancer_id": project.FreelancerID,
			"notes":         notes,
		}, traceID)
	})
}

// AutoApproveDue promotes submitted milestones past their project's
// auto-approve window, attributing the approval to the system. Called by the
// scheduler sweep.
func (c *MilestoneController) AutoApproveDue(ctx context.Context) (int, error) {
	var due []models.Milestone
	err := c.db.WithContext(ctx).
		Joins("JOIN projects ON projects.id = milestones.project_id").
		Where("milestones.status = ?", models.MilestoneSubmitted).
		Where("milestones.submitted_at IS NOT NULL").
		Where("milestones.submitted_at <= ?", time.Now().Add(-24*time.Hour)). // cheap pre-filter, exact check below
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	approved := 0
	for _, m := range due {
		var project models.Project
		if err := c.db.WithContext(ctx).First(&project, m.ProjectID).Error; err != nil {
			c.log.Error("auto-approve: failed to load project %d: %v", m.ProjectID, err)
			continue
		}
		window := time.Duration(project.AutoApproveDays) * 24 * time.Hour
		if m.SubmittedAt == nil || time.Since(*m.SubmittedAt) < window {
			continue
		}
		if err := c.Approve(ctx, m.ID, nil); err != nil {
			c.log.Error("auto-approve: milestone %d: %v", m.ID, err)
			continue
		}
		c.log.Info("auto-approved milestone %d after %d days", m.ID, project.AutoApproveDays)
		approved++
	}
	return approved, nil
}

func (c *MilestoneController) loadMilestone(ctx context.Context, milestoneID uint) (*models.Milestone, *models.Project, error) {
	var milestone models.Milestone
	if err := c.db.WithContext(ctx).First(&milestone, milestoneID).Error; err != nil {
		return nil, nil, err
	}
	var project models.Project
	if err := c.db.WithContext(ctx).First(&project, milestone.ProjectID).Error; err != nil {
		return nil, nil, err
	}
	return &milestone, &project, nil
}
