package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"contralock/internal/config"
	"contralock/internal/ledger"
	"contralock/internal/lifecycle"
	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/services"
)

// aiSchemaVersion tags the triage result layout persisted on the dispute.
const aiSchemaVersion = 1

// DisputeWorker runs the asynchronous dispute jobs: automated triage and
// party notification fan-out.
type DisputeWorker struct {
	db       *gorm.DB
	log      *logger.Logger
	policy   config.PolicyConfig
	notifier services.Notifier
}

func NewDisputeWorker(db *gorm.DB, log *logger.Logger, policy config.PolicyConfig, notifier services.Notifier) *DisputeWorker {
	return &DisputeWorker{db: db, log: log, policy: policy, notifier: notifier}
}

// HandleAiAnalysis triages a pending dispute and routes it to mediation or
// arbitration. Low confidence or a large disputed amount always goes to
// arbitration. The routing update is guarded on pending_review, so a
// redelivered job after a crash-then-commit finds nothing to do.
func (w *DisputeWorker) HandleAiAnalysis(ctx context.Context, job *models.Job) error {
	var p lifecycle.DisputePayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return fmt.Errorf("bad dispute triage payload: %w", err)
	}

	var dispute models.Dispute
	if err := w.db.WithContext(ctx).First(&dispute, p.DisputeID).Error; err != nil {
		return err
	}
	if dispute.Status != models.DisputePendingReview {
		w.log.Info("dispute %d already triaged (status %s), skipping", dispute.ID, dispute.Status)
		return nil
	}
	var milestone models.Milestone
	if err := w.db.WithContext(ctx).First(&milestone, dispute.MilestoneID).Error; err != nil {
		return err
	}
	var evidenceCount int64
	if err := w.db.WithContext(ctx).Model(&models.DisputeEvidence{}).
		Where("dispute_id = ?", dispute.ID).
		Count(&evidenceCount).Error; err != nil {
		return err
	}

	analysis := w.triage(&dispute, evidenceCount)

	status := models.DisputeInMediation
	phase := models.PhaseMediation
	if analysis.Confidence < w.policy.ArbitrationConfidence || milestone.Amount >= w.policy.ArbitrationAmountFloor {
		status = models.DisputeInArbitration
		phase = models.PhaseArbitration
	}

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Dispute{}).
			Where("id = ? AND status = ?", dispute.ID, models.DisputePendingReview).
			Updates(map[string]interface{}{
				"status":            status,
				"resolution_phase":  phase,
				"ai_schema_version": analysis.SchemaVersion,
				"ai_confidence":     analysis.Confidence,
				"ai_key_issues":     analysis.KeyIssues,
				"ai_recommended":    analysis.Recommended,
				"ai_reasoning":      analysis.Reasoning,
				"ai_analyzed_at":    analysis.AnalyzedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race with another delivery; the dispute is routed.
			return nil
		}

		if err := ledger.Audit(tx, "dispute.triaged", nil, "dispute", dispute.ID,
			map[string]interface{}{"status": models.DisputePendingReview},
			map[string]interface{}{"status": status, "confidence": analysis.Confidence}, p.TraceID); err != nil {
			return err
		}
		return ledger.AppendEvent(tx, "dispute.phase_changed", map[string]interface{}{
			"dispute_id": dispute.ID,
			"status":     status,
			"phase":      phase,
			"confidence": analysis.Confidence,
		}, p.TraceID)
	})
}

// triage scores the dispute from the signals on file. The score only decides
// which human track handles the case, never the outcome itself.
func (w *DisputeWorker) triage(d *models.Dispute, evidenceCount int64) models.AiAnalysis {
	confidence := 0.5
	var reasons []string

	if evidenceCount > 0 {
		boost := 0.1 * float64(evidenceCount)
		if boost > 0.3 {
			boost = 0.3
		}
		confidence += boost
		reasons = append(reasons, fmt.Sprintf("%d evidence item(s) on file", evidenceCount))
	} else {
		confidence -= 0.1
		reasons = append(reasons, "no evidence attached")
	}

	if len(d.Description) >= 200 {
		confidence += 0.1
		reasons = append(reasons, "detailed description")
	}

	switch d.Reason {
	case models.ReasonLate, models.ReasonNonPayment:
		// Objectively checkable against timestamps and the ledger.
		confidence += 0.1
		reasons = append(reasons, "claim is verifiable against records")
	case models.ReasonQuality, models.ReasonScope:
		confidence -= 0.1
		reasons = append(reasons, "claim is subjective")
	}

	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0.1 {
		confidence = 0.1
	}

	recommended := "mediated settlement"
	if confidence < w.policy.ArbitrationConfidence {
		recommended = "arbitration review"
	}

	now := time.Now()
	return models.AiAnalysis{
		SchemaVersion: aiSchemaVersion,
		Confidence:    confidence,
		KeyIssues:     string(d.Reason),
		Recommended:   recommended,
		Reasoning:     strings.Join(reasons, "; "),
		AnalyzedAt:    &now,
	}
}

// HandleNotifyParties tells both project parties about the dispute's current
// state. Delivery is best-effort inside the notifier; this handler only fails
// when the dispute itself cannot be loaded.
func (w *DisputeWorker) HandleNotifyParties(ctx context.Context, job *models.Job) error {
	var p lifecycle.DisputePayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return fmt.Errorf("bad dispute notification payload: %w", err)
	}

	var dispute models.Dispute
	if err := w.db.WithContext(ctx).First(&dispute, p.DisputeID).Error; err != nil {
		return err
	}
	var project models.Project
	if err := w.db.WithContext(ctx).First(&project, dispute.ProjectID).Error; err != nil {
		return err
	}

	data := map[string]interface{}{
		"dispute_id":   dispute.ID,
		"project_id":   dispute.ProjectID,
		"milestone_id": dispute.MilestoneID,
		"status":       dispute.Status,
	}

	var notifType models.NotificationType
	var title, message string
	switch dispute.Status {
	case models.DisputeResolved:
		notifType = models.NotificationDisputeResolved
		title = "Dispute resolved"
		message = fmt.Sprintf("The dispute on project %q has been resolved: %d to the freelancer, %d refunded to the client.",
			project.Title, dispute.Resolution.AmountToFreelancer, dispute.Resolution.AmountToClient)
	case models.DisputePendingReview:
		notifType = models.NotificationDisputeRaised
		title = "Dispute opened"
		message = fmt.Sprintf("A dispute has been opened on project %q. The disputed funds stay locked in escrow until it is resolved.", project.Title)
	default:
		notifType = models.NotificationDisputePhaseChanged
		title = "Dispute update"
		message = fmt.Sprintf("The dispute on project %q moved to %s.", project.Title, dispute.Status)
	}

	w.notifier.Notify(ctx, project.ClientID, notifType, title, message, data)
	w.notifier.Notify(ctx, project.FreelancerID, notifType, title, message, data)
	return nil
}
