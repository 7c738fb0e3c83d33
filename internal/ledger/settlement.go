package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"contralock/internal/models"
)

// ReleaseParams carries a milestone payout.
type ReleaseParams struct {
	ProjectID   uint
	MilestoneID uint
	FromUserID  uint // client
	ToUserID    uint // freelancer
	Amount      int64
	Provider    string
	ProviderRef string
	TraceID     string
}

// DisputeSettleParams carries one leg of a dispute split.
type DisputeSettleParams struct {
	DisputeID   uint
	ProjectID   uint
	MilestoneID uint
	Recipient   string // "freelancer" or "client"
	UserID      uint
	Amount      int64
	TraceID     string
}

// upsertSettlementTxn creates the completed settlement row, or completes a
// pending/failed row left by an earlier attempt under the same idempotency
// key. Completed rows are never touched.
func upsertSettlementTxn(tx *gorm.DB, txn *models.Transaction) error {
	var existing models.Transaction
	err := tx.Where("idempotency_key = ?", txn.IdempotencyKey).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return tx.Create(txn).Error
	}
	if err != nil {
		return err
	}
	txn.ID = existing.ID
	txn.Reference = existing.Reference
	return tx.Model(&models.Transaction{}).
		Where("id = ? AND status <> ?", existing.ID, models.TransactionCompleted).
		Updates(map[string]interface{}{
			"status":       models.TransactionCompleted,
			"completed_at": txn.CompletedAt,
			"provider":     txn.Provider,
			"provider_ref": txn.ProviderRef,
		}).Error
}

// RecordSettlementFailure writes or updates the settlement's transaction row
// to failed so the attempt stays visible while the job retries or
// dead-letters. A completed row is left alone. When the rail was already
// charged, the provider reference is stored on the failed row so the retry
// can reuse it instead of capturing again.
func (s *Service) RecordSettlementFailure(ctx context.Context, projectID uint, milestoneID, disputeID *uint, txType models.TransactionType, amount int64, idempotencyKey, provider, providerRef, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Transaction
		err := tx.Where("idempotency_key = ?", idempotencyKey).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&models.Transaction{
				ProjectID:      projectID,
				MilestoneID:    milestoneID,
				DisputeID:      disputeID,
				Type:           txType,
				Amount:         amount,
				Status:         models.TransactionFailed,
				Reference:      Reference("FLD"),
				IdempotencyKey: &idempotencyKey,
				Provider:       provider,
				ProviderRef:    providerRef,
				Description:    reason,
			}).Error
		}
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":      models.TransactionFailed,
			"description": reason,
		}
		// Never wipe a stored rail reference with an empty one.
		if providerRef != "" {
			updates["provider"] = provider
			updates["provider_ref"] = providerRef
		}
		return tx.Model(&models.Transaction{}).
			Where("id = ? AND status <> ?", existing.ID, models.TransactionCompleted).
			Updates(updates).Error
	})
}

// FundProject moves the project budget from the client's balance into locked
// escrow and records the escrow deposit.
func (s *Service) FundProject(ctx context.Context, projectID, clientUserID uint, amount int64) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("funding amount must be positive")
	}
	traceID := NewTraceID()
	var txn *models.Transaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := walletForUser(tx, clientUserID)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("project:%d:%s", projectID, models.TransactionDeposit)
		exists, err := CompletedSettlementExists(tx, key)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateSettlement
		}

		now := time.Now()
		txn = &models.Transaction{
			ProjectID:      projectID,
			Type:           models.TransactionDeposit,
			Amount:         amount,
			Status:         models.TransactionCompleted,
			Reference:      Reference("FND"),
			IdempotencyKey: &key,
			Description:    "Project escrow funding",
			CompletedAt:    &now,
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		wt := &models.WalletTransaction{
			Type:         models.WalletTxProjectFunds,
			Amount:       amount,
			Currency:     wallet.Currency,
			FromWalletID: &wallet.ID,
			Reference:    txn.Reference,
			Description:  fmt.Sprintf("Escrow funding for project %d", projectID),
			ProjectID:    &projectID,
		}
		if err := applyWalletTransaction(tx, wt); err != nil {
			return err
		}

		if err := s.audit(tx, "project.funded", &clientUserID, "transaction", txn.ID, nil, txn, traceID); err != nil {
			return err
		}
		return s.appendEvent(tx, "project.funded", map[string]interface{}{
			"project_id": projectID,
			"amount":     amount,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ReleaseMilestone settles an approved milestone: one completed project
// transaction, the client escrow debit, the freelancer's gross income, and
// the fee row taking the platform's cut back out. A duplicate delivery of
// the same settlement no-ops and reports success.
func (s *Service) ReleaseMilestone(ctx context.Context, p ReleaseParams) (*models.Transaction, error) {
	traceID := p.TraceID
	if traceID == "" {
		traceID = NewTraceID()
	}
	var txn *models.Transaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := MilestoneReleaseKey(p.MilestoneID)
		exists, err := CompletedSettlementExists(tx, key)
		if err != nil {
			return err
		}
		if exists {
			s.log.Info("milestone %d already settled, skipping", p.MilestoneID)
			return nil
		}

		escrow, err := ProjectEscrowBalance(tx, p.ProjectID)
		if err != nil {
			return err
		}
		if escrow < p.Amount {
			return ErrInsufficientEscrow
		}

		clientWallet, err := walletForUser(tx, p.FromUserID)
		if err != nil {
			return err
		}
		freelancerWallet, err := walletForUser(tx, p.ToUserID)
		if err != nil {
			return err
		}

		now := time.Now()
		txn = &models.Transaction{
			ProjectID:      p.ProjectID,
			MilestoneID:    &p.MilestoneID,
			Type:           models.TransactionMilestoneRelease,
			Amount:         p.Amount,
			Status:         models.TransactionCompleted,
			Reference:      Reference("REL"),
			IdempotencyKey: &key,
			Provider:       p.Provider,
			ProviderRef:    p.ProviderRef,
			Description:    fmt.Sprintf("Milestone %d release", p.MilestoneID),
			CompletedAt:    &now,
		}
		if err := upsertSettlementTxn(tx, txn); err != nil {
			return err
		}

		payment := &models.WalletTransaction{
			Type:         models.WalletTxMilestonePayment,
			Amount:       p.Amount,
			Currency:     clientWallet.Currency,
			FromWalletID: &clientWallet.ID,
			Reference:    txn.Reference + "-OUT",
			Description:  fmt.Sprintf("Milestone %d payment", p.MilestoneID),
			ProjectID:    &p.ProjectID,
			MilestoneID:  &p.MilestoneID,
		}
		if err := applyWalletTransaction(tx, payment); err != nil {
			return err
		}

		fees := s.fees.Breakdown(p.Amount)
		income := &models.WalletTransaction{
			Type:           models.WalletTxMilestoneIncome,
			Amount:         p.Amount,
			Currency:       freelancerWallet.Currency,
			ToWalletID:     &freelancerWallet.ID,
			Reference:      txn.Reference + "-IN",
			IdempotencyKey: &key,
			Description:    fmt.Sprintf("Milestone %d income", p.MilestoneID),
			PlatformFee:    fees.Platform,
			ProcessorFee:   fees.Processor,
			TotalFee:       fees.Total,
			ProjectID:      &p.ProjectID,
			MilestoneID:    &p.MilestoneID,
		}
		if err := applyWalletTransaction(tx, income); err != nil {
			return err
		}

		// The platform's cut leaves the freelancer's wallet as its own row,
		// so the full released amount stays accounted for.
		if fees.Total > 0 {
			fee := &models.WalletTransaction{
				Type:         models.WalletTxFee,
				Amount:       fees.Total,
				Currency:     freelancerWallet.Currency,
				FromWalletID: &freelancerWallet.ID,
				Reference:    txn.Reference + "-FEE",
				Description:  fmt.Sprintf("Milestone %d platform and processor fees", p.MilestoneID),
				PlatformFee:  fees.Platform,
				ProcessorFee: fees.Processor,
				TotalFee:     fees.Total,
				ProjectID:    &p.ProjectID,
				MilestoneID:  &p.MilestoneID,
			}
			if err := applyWalletTransaction(tx, fee); err != nil {
				return err
			}
		}

		if err := s.audit(tx, "milestone.released", nil, "transaction", txn.ID, nil, txn, traceID); err != nil {
			return err
		}
		return s.appendEvent(tx, "milestone.released", map[string]interface{}{
			"project_id":   p.ProjectID,
			"milestone_id": p.MilestoneID,
			"to_user_id":   p.ToUserID,
			"from_user_id": p.FromUserID,
			"amount":       p.Amount,
			"fees":         fees,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// SettleDispute pays out one recipient of a resolved dispute. The two legs of
// a split are independent jobs, each idempotent under its own key.
func (s *Service) SettleDispute(ctx context.Context, p DisputeSettleParams) (*models.Transaction, error) {
	if p.Recipient != "freelancer" && p.Recipient != "client" {
		return nil, fmt.Errorf("unknown dispute recipient: %s", p.Recipient)
	}
	if p.Amount <= 0 {
		// A zero leg is a valid outcome of a full split; nothing to move.
		return nil, nil
	}
	traceID := p.TraceID
	if traceID == "" {
		traceID = NewTraceID()
	}
	var txn *models.Transaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := DisputeSettlementKey(p.DisputeID, p.Recipient)
		exists, err := CompletedSettlementExists(tx, key)
		if err != nil {
			return err
		}
		if exists {
			s.log.Info("dispute %d leg %s already settled, skipping", p.DisputeID, p.Recipient)
			return nil
		}

		escrow, err := ProjectEscrowBalance(tx, p.ProjectID)
		if err != nil {
			return err
		}
		if escrow < p.Amount {
			return ErrInsufficientEscrow
		}

		var project models.Project
		if err := tx.First(&project, p.ProjectID).Error; err != nil {
			return err
		}
		clientWallet, err := walletForUser(tx, project.ClientID)
		if err != nil {
			return err
		}

		txType := models.TransactionDisputePayment
		if p.Recipient == "client" {
			txType = models.TransactionDisputeRefund
		}

		now := time.Now()
		txn = &models.Transaction{
			ProjectID:      p.ProjectID,
			MilestoneID:    &p.MilestoneID,
			DisputeID:      &p.DisputeID,
			Type:           txType,
			Amount:         p.Amount,
			Status:         models.TransactionCompleted,
			Reference:      Reference("DSP"),
			IdempotencyKey: &key,
			Description:    fmt.Sprintf("Dispute %d settlement to %s", p.DisputeID, p.Recipient),
			CompletedAt:    &now,
		}
		if err := upsertSettlementTxn(tx, txn); err != nil {
			return err
		}

		// Both legs come out of the client's locked escrow.
		out := &models.WalletTransaction{
			Type:         models.WalletTxMilestonePayment,
			Amount:       p.Amount,
			Currency:     clientWallet.Currency,
			FromWalletID: &clientWallet.ID,
			Reference:    txn.Reference + "-OUT",
			Description:  fmt.Sprintf("Dispute %d escrow release", p.DisputeID),
			ProjectID:    &p.ProjectID,
			DisputeID:    &p.DisputeID,
		}
		if err := applyWalletTransaction(tx, out); err != nil {
			return err
		}

		if p.Recipient == "freelancer" {
			recipientWallet, err := walletForUser(tx, p.UserID)
			if err != nil {
				return err
			}
			fees := s.fees.Breakdown(p.Amount)
			in := &models.WalletTransaction{
				Type:           models.WalletTxMilestoneIncome,
				Amount:         p.Amount,
				Currency:       recipientWallet.Currency,
				ToWalletID:     &recipientWallet.ID,
				Reference:      txn.Reference + "-IN",
				IdempotencyKey: &key,
				Description:    fmt.Sprintf("Dispute %d payout", p.DisputeID),
				PlatformFee:    fees.Platform,
				ProcessorFee:   fees.Processor,
				TotalFee:       fees.Total,
				ProjectID:      &p.ProjectID,
				DisputeID:      &p.DisputeID,
			}
			if err := applyWalletTransaction(tx, in); err != nil {
				return err
			}
			if fees.Total > 0 {
				fee := &models.WalletTransaction{
					Type:         models.WalletTxFee,
					Amount:       fees.Total,
					Currency:     recipientWallet.Currency,
					FromWalletID: &recipientWallet.ID,
					Reference:    txn.Reference + "-FEE",
					Description:  fmt.Sprintf("Dispute %d platform and processor fees", p.DisputeID),
					PlatformFee:  fees.Platform,
					ProcessorFee: fees.Processor,
					TotalFee:     fees.Total,
					ProjectID:    &p.ProjectID,
					DisputeID:    &p.DisputeID,
				}
				if err := applyWalletTransaction(tx, fee); err != nil {
					return err
				}
			}
		} else {
			// Refund leg goes back to the client's available balance, no fee.
			in := &models.WalletTransaction{
				Type:           models.WalletTxProjectRefund,
				Amount:         p.Amount,
				Currency:       clientWallet.Currency,
				ToWalletID:     &clientWallet.ID,
				Reference:      txn.Reference + "-IN",
				IdempotencyKey: &key,
				Description:    fmt.Sprintf("Dispute %d refund", p.DisputeID),
				ProjectID:      &p.ProjectID,
				DisputeID:      &p.DisputeID,
			}
			if err := applyWalletTransaction(tx, in); err != nil {
				return err
			}
		}

		if err := s.audit(tx, "dispute.settled", nil, "transaction", txn.ID, nil, txn, traceID); err != nil {
			return err
		}
		return s.appendEvent(tx, "dispute.settled", map[string]interface{}{
			"dispute_id": p.DisputeID,
			"recipient":  p.Recipient,
			"user_id":    p.UserID,
			"amount":     p.Amount,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}
