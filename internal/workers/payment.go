package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"contralock/internal/ledger"
	"contralock/internal/lifecycle"
	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/services"
)

// PaymentWorker executes the settlement jobs enqueued by the milestone and
// dispute controllers. Every handler is idempotent: the ledger operations key
// on the settlement's idempotency key, so a redelivered job converges on the
// same end-state.
type PaymentWorker struct {
	ledger *ledger.Service
	rail   services.PaymentRail
	log    *logger.Logger
}

func NewPaymentWorker(l *ledger.Service, rail services.PaymentRail, log *logger.Logger) *PaymentWorker {
	return &PaymentWorker{ledger: l, rail: rail, log: log}
}

// HandleMilestoneRelease settles an approved milestone. A failed attempt
// records a failed transaction row under the settlement key before the job is
// handed back to the queue for retry, so the failure is visible while the
// milestone stays approved.
func (w *PaymentWorker) HandleMilestoneRelease(ctx context.Context, job *models.Job) error {
	var p lifecycle.ReleasePayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return fmt.Errorf("bad milestone release payload: %w", err)
	}

	// A redelivered job must not hit the rail a second time.
	key := ledger.MilestoneReleaseKey(p.MilestoneID)
	done, err := ledger.CompletedSettlementExists(w.ledger.DB(), key)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	// A failed attempt that already captured on the rail left its reference
	// behind; reuse it instead of charging again.
	provider, providerRef, err := ledger.SettlementProviderRef(w.ledger.DB(), key)
	if err != nil {
		return err
	}
	if providerRef == "" && w.rail != nil {
		ref, err := w.rail.Capture(ctx, p.Amount, "NGN", "escrow")
		if err != nil {
			w.recordFailure(ctx, p.ProjectID, &p.MilestoneID, nil,
				models.TransactionMilestoneRelease, p.Amount, key, "", "",
				fmt.Sprintf("payment rail capture failed: %v", err))
			return fmt.Errorf("payment rail capture failed: %w", err)
		}
		provider = "paystack"
		providerRef = ref
	}

	_, err = w.ledger.ReleaseMilestone(ctx, ledger.ReleaseParams{
		ProjectID:   p.ProjectID,
		MilestoneID: p.MilestoneID,
		FromUserID:  p.FromUserID,
		ToUserID:    p.ToUserID,
		Amount:      p.Amount,
		Provider:    provider,
		ProviderRef: providerRef,
		TraceID:     p.TraceID,
	})
	if err != nil {
		w.recordFailure(ctx, p.ProjectID, &p.MilestoneID, nil,
			models.TransactionMilestoneRelease, p.Amount, key,
			provider, providerRef, err.Error())
		return err
	}
	return nil
}

// HandleDisputeSettlement settles one leg of a resolved dispute's split. The
// same handler serves both the freelancer payment and the client refund; the
// payload names the recipient.
func (w *PaymentWorker) HandleDisputeSettlement(ctx context.Context, job *models.Job) error {
	var p lifecycle.DisputeSettlementPayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return fmt.Errorf("bad dispute settlement payload: %w", err)
	}

	_, err := w.ledger.SettleDispute(ctx, ledger.DisputeSettleParams{
		DisputeID:   p.DisputeID,
		ProjectID:   p.ProjectID,
		MilestoneID: p.MilestoneID,
		Recipient:   p.Recipient,
		UserID:      p.UserID,
		Amount:      p.Amount,
		TraceID:     p.TraceID,
	})
	if err != nil {
		txType := models.TransactionDisputePayment
		if p.Recipient == "client" {
			txType = models.TransactionDisputeRefund
		}
		w.recordFailure(ctx, p.ProjectID, &p.MilestoneID, &p.DisputeID,
			txType, p.Amount,
			ledger.DisputeSettlementKey(p.DisputeID, p.Recipient), "", "", err.Error())
		return err
	}
	return nil
}

func (w *PaymentWorker) recordFailure(ctx context.Context, projectID uint, milestoneID, disputeID *uint, txType models.TransactionType, amount int64, key, provider, providerRef, reason string) {
	if err := w.ledger.RecordSettlementFailure(ctx, projectID, milestoneID, disputeID, txType, amount, key, provider, providerRef, reason); err != nil {
		w.log.Error("failed to record settlement failure for %s: %v", key, err)
	}
}
