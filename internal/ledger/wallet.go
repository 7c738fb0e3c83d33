package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"contralock/internal/models"
)

// applyWalletTransaction is the single code path that mutates wallet
// balances. It marks the wallet transaction completed and applies its effect
// with guarded updates, so a debit that would go negative fails the whole
// enclosing transaction instead of losing money.
func applyWalletTransaction(tx *gorm.DB, wt *models.WalletTransaction) error {
	switch wt.Type {
	case models.WalletTxDeposit:
		if err := creditWallet(tx, *wt.ToWalletID, wt.Amount, "total_deposited"); err != nil {
			return err
		}
	case models.WalletTxWithdrawal:
		if err := debitWallet(tx, *wt.FromWalletID, wt.Amount, "total_withdrawn"); err != nil {
			return err
		}
	case models.WalletTxProjectFunds:
		// Escrow is held as locked balance on the client's wallet.
		if err := lockFunds(tx, *wt.FromWalletID, wt.Amount); err != nil {
			return err
		}
	case models.WalletTxMilestonePayment:
		if err := releaseLocked(tx, *wt.FromWalletID, wt.Amount); err != nil {
			return err
		}
	case models.WalletTxMilestoneIncome:
		// Credits gross; the paired fee row debits the platform's cut.
		if err := creditWallet(tx, *wt.ToWalletID, wt.Amount, ""); err != nil {
			return err
		}
	case models.WalletTxProjectRefund, models.WalletTxRefund:
		if err := creditWallet(tx, *wt.ToWalletID, wt.Amount, ""); err != nil {
			return err
		}
	case models.WalletTxTransfer:
		if err := debitWallet(tx, *wt.FromWalletID, wt.Amount, ""); err != nil {
			return err
		}
		if err := creditWallet(tx, *wt.ToWalletID, wt.Amount, ""); err != nil {
			return err
		}
	case models.WalletTxFee:
		if err := debitWallet(tx, *wt.FromWalletID, wt.Amount, ""); err != nil {
			return err
		}
	case models.WalletTxAdminAdjustment:
		if wt.ToWalletID != nil {
			if err := creditWallet(tx, *wt.ToWalletID, wt.Amount, ""); err != nil {
				return err
			}
		} else if wt.FromWalletID != nil {
			if err := debitWallet(tx, *wt.FromWalletID, wt.Amount, ""); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown wallet transaction type: %s", wt.Type)
	}

	now := time.Now()
	wt.Status = models.WalletTxCompleted
	wt.CompletedAt = &now
	if wt.ID == 0 {
		return tx.Create(wt).Error
	}
	return tx.Model(wt).Updates(map[string]interface{}{
		"status":       models.WalletTxCompleted,
		"completed_at": now,
	}).Error
}

func creditWallet(tx *gorm.DB, walletID uint, amount int64, counter string) error {
	updates := map[string]interface{}{
		"balance":    gorm.Expr("balance + ?", amount),
		"updated_at": time.Now(),
	}
	if counter == "total_deposited" {
		updates["total_deposited"] = gorm.Expr("total_deposited + ?", amount)
	}
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND status = ?", walletID, models.WalletActive).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalletNotActive
	}
	return nil
}

func debitWallet(tx *gorm.DB, walletID uint, amount int64, counter string) error {
	updates := map[string]interface{}{
		"balance":    gorm.Expr("balance - ?", amount),
		"updated_at": time.Now(),
	}
	if counter == "total_withdrawn" {
		updates["total_withdrawn"] = gorm.Expr("total_withdrawn + ?", amount)
	}
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND status = ? AND balance >= ?", walletID, models.WalletActive, amount).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func lockFunds(tx *gorm.DB, walletID uint, amount int64) error {
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND status = ? AND balance >= ?", walletID, models.WalletActive, amount).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance - ?", amount),
			"locked_balance": gorm.Expr("locked_balance + ?", amount),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func releaseLocked(tx *gorm.DB, walletID uint, amount int64) error {
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND locked_balance >= ?", walletID, amount).
		Updates(map[string]interface{}{
			"locked_balance": gorm.Expr("locked_balance - ?", amount),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientEscrow
	}
	return nil
}

// Deposit credits a user's wallet after the payment rail confirmed capture.
func (s *Service) Deposit(ctx context.Context, userID uint, amount int64, provider, providerRef string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}
	traceID := NewTraceID()
	var wt *models.WalletTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := walletForUser(tx, userID)
		if err != nil {
			return err
		}
		wt = &models.WalletTransaction{
			Type:        models.WalletTxDeposit,
			Amount:      amount,
			Currency:    wallet.Currency,
			ToWalletID:  &wallet.ID,
			Reference:   Reference("DEP"),
			Description: fmt.Sprintf("Deposit via %s (%s)", provider, providerRef),
		}
		if err := applyWalletTransaction(tx, wt); err != nil {
			return err
		}
		if err := s.audit(tx, "wallet.deposit", &userID, "wallet_transaction", wt.ID, nil, wt, traceID); err != nil {
			return err
		}
		return s.appendEvent(tx, "wallet.deposited", map[string]interface{}{
			"user_id":   userID,
			"amount":    amount,
			"reference": wt.Reference,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return wt, nil
}

// Withdraw debits a user's wallet and records a pending payout; the rail
// transfer is confirmed out of band.
func (s *Service) Withdraw(ctx context.Context, userID uint, amount int64, destination string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	traceID := NewTraceID()
	var wt *models.WalletTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := walletForUser(tx, userID)
		if err != nil {
			return err
		}
		wt = &models.WalletTransaction{
			Type:         models.WalletTxWithdrawal,
			Amount:       amount,
			Currency:     wallet.Currency,
			FromWalletID: &wallet.ID,
			Reference:    Reference("WTH"),
			Description:  fmt.Sprintf("Withdrawal to %s", destination),
		}
		if err := applyWalletTransaction(tx, wt); err != nil {
			return err
		}
		if err := s.audit(tx, "wallet.withdraw", &userID, "wallet_transaction", wt.ID, nil, wt, traceID); err != nil {
			return err
		}
		return s.appendEvent(tx, "wallet.withdrawn", map[string]interface{}{
			"user_id":   userID,
			"amount":    amount,
			"reference": wt.Reference,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return wt, nil
}

// ChargeDisputeFee debits the filing fee from the raiser's available balance
// inside the caller's transaction, so opening the dispute and paying for it
// commit together.
func ChargeDisputeFee(tx *gorm.DB, userID uint, disputeID *uint, amount int64) (*models.WalletTransaction, error) {
	wallet, err := walletForUser(tx, userID)
	if err != nil {
		return nil, err
	}
	wt := &models.WalletTransaction{
		Type:         models.WalletTxFee,
		Amount:       amount,
		Currency:     wallet.Currency,
		FromWalletID: &wallet.ID,
		Reference:    Reference("DFE"),
		Description:  "Dispute filing fee",
		TotalFee:     amount,
		DisputeID:    disputeID,
	}
	if err := applyWalletTransaction(tx, wt); err != nil {
		return nil, err
	}
	return wt, nil
}

// AdminAdjust moves money in or out of a wallet with a mandatory reason.
// Used by operators to repair dead-lettered settlements; existing rows are
// never edited.
func (s *Service) AdminAdjust(ctx context.Context, actorID, userID uint, amount int64, credit bool, reason string, projectID *uint) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("adjustment amount must be positive")
	}
	if reason == "" {
		return nil, fmt.Errorf("adjustment reason is required")
	}
	traceID := NewTraceID()
	var wt *models.WalletTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := walletForUser(tx, userID)
		if err != nil {
			return err
		}
		wt = &models.WalletTransaction{
			Type:        models.WalletTxAdminAdjustment,
			Amount:      amount,
			Currency:    wallet.Currency,
			Reference:   Reference("ADJ"),
			Description: reason,
			ProjectID:   projectID,
		}
		if credit {
			wt.ToWalletID = &wallet.ID
		} else {
			wt.FromWalletID = &wallet.ID
		}
		if err := applyWalletTransaction(tx, wt); err != nil {
			return err
		}
		if projectID != nil {
			txn := &models.Transaction{
				ProjectID:   *projectID,
				Type:        models.TransactionAdminAdjustment,
				Amount:      amount,
				Status:      models.TransactionCompleted,
				Reference:   wt.Reference,
				Description: reason,
			}
			now := time.Now()
			txn.CompletedAt = &now
			if err := tx.Create(txn).Error; err != nil {
				return err
			}
		}
		if err := s.audit(tx, "wallet.admin_adjust", &actorID, "wallet_transaction", wt.ID, nil, wt, traceID); err != nil {
			return err
		}
		return s.appendEvent(tx, "wallet.adjusted", map[string]interface{}{
			"user_id": userID,
			"amount":  amount,
			"credit":  credit,
			"reason":  reason,
		}, traceID)
	})
	if err != nil {
		return nil, err
	}
	return wt, nil
}
