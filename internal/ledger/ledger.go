package ledger

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/money"
)

// Service owns every money-moving operation. Each operation runs as a single
// database transaction covering the status transition, the resulting ledger
// rows, the audit trail, and the outbox event. Wallet balances are mutated
// only by applyWalletTransaction when a wallet transaction completes.
type Service struct {
	db   *gorm.DB
	log  *logger.Logger
	fees *money.FeeSchedule
}

func NewService(db *gorm.DB, log *logger.Logger, fees *money.FeeSchedule) *Service {
	return &Service{db: db, log: log, fees: fees}
}

// DB exposes the handle so controllers can compose their transitions with
// ledger writes in one transaction.
func (s *Service) DB() *gorm.DB { return s.db }

// Reference generates a unique transaction reference, e.g. "REL-1712239-482910".
func Reference(prefix string) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, time.Now().Unix(), rand.Intn(1000000))
}

// NewTraceID returns a correlation id shared by the audit rows and events of
// one logical operation.
func NewTraceID() string {
	return uuid.NewString()
}

// ProjectEscrowBalance computes what remains releasable for a project:
// completed deposits minus completed releases, dispute payments and dispute
// refunds. Called inside the same transaction as the write that depends on it.
func ProjectEscrowBalance(tx *gorm.DB, projectID uint) (int64, error) {
	sum := func(types []models.TransactionType) (int64, error) {
		var total int64
		err := tx.Model(&models.Transaction{}).
			Where("project_id = ? AND status = ? AND type IN ?", projectID, models.TransactionCompleted, types).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&total).Error
		return total, err
	}

	deposits, err := sum([]models.TransactionType{models.TransactionDeposit})
	if err != nil {
		return 0, err
	}
	released, err := sum([]models.TransactionType{
		models.TransactionMilestoneRelease,
		models.TransactionDisputePayment,
		models.TransactionDisputeRefund,
		models.TransactionRefund,
	})
	if err != nil {
		return 0, err
	}
	return deposits - released, nil
}

// CompletedSettlementExists reports whether a completed transaction already
// carries the given idempotency key.
func CompletedSettlementExists(tx *gorm.DB, idempotencyKey string) (bool, error) {
	var count int64
	err := tx.Model(&models.Transaction{}).
		Where("idempotency_key = ? AND status = ?", idempotencyKey, models.TransactionCompleted).
		Count(&count).Error
	return count > 0, err
}

// SettlementProviderRef returns the rail reference an earlier attempt
// recorded under the key, if any. Lets a retried settlement reuse its
// capture instead of charging the rail again.
func SettlementProviderRef(tx *gorm.DB, idempotencyKey string) (provider, ref string, err error) {
	var txn models.Transaction
	err = tx.Where("idempotency_key = ?", idempotencyKey).First(&txn).Error
	if err == gorm.ErrRecordNotFound {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return txn.Provider, txn.ProviderRef, nil
}

// MilestoneReleaseKey is the natural idempotency key for a milestone payout.
func MilestoneReleaseKey(milestoneID uint) string {
	return fmt.Sprintf("milestone:%d:%s", milestoneID, models.TransactionMilestoneRelease)
}

// DisputeSettlementKey keys one leg of a dispute split by recipient.
func DisputeSettlementKey(disputeID uint, recipient string) string {
	return fmt.Sprintf("dispute:%d:%s", disputeID, recipient)
}

func (s *Service) audit(tx *gorm.DB, action string, actorID *uint, entityType string, entityID uint, oldValues, newValues interface{}, traceID string) error {
	return Audit(tx, action, actorID, entityType, entityID, oldValues, newValues, traceID)
}

func (s *Service) appendEvent(tx *gorm.DB, eventType string, payload interface{}, traceID string) error {
	return AppendEvent(tx, eventType, payload, traceID)
}

// Audit writes one append-only audit row inside the caller's transaction.
func Audit(tx *gorm.DB, action string, actorID *uint, entityType string, entityID uint, oldValues, newValues interface{}, traceID string) error {
	oldJSON, err := marshalValues(oldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(newValues)
	if err != nil {
		return err
	}
	return tx.Create(&models.AuditTrail{
		Action:     action,
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		OldValues:  oldJSON,
		NewValues:  newJSON,
		TraceID:    traceID,
	}).Error
}

// AppendEvent appends an outbox row inside the caller's transaction.
func AppendEvent(tx *gorm.DB, eventType string, payload interface{}, traceID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return tx.Create(&models.DomainEvent{
		EventType: eventType,
		Payload:   string(data),
		TraceID:   traceID,
	}).Error
}

func marshalValues(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit values: %w", err)
	}
	return string(data), nil
}

func walletForUser(tx *gorm.DB, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := tx.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, ErrWalletNotActive
	}
	return &wallet, nil
}
