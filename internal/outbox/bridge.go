package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/services"
)

// NotificationBridge turns domain events into in-app notifications. Dispute
// lifecycle events are excluded here: those notifications go through the
// notify_parties job so they get the queue's retry budget.
type NotificationBridge struct {
	db       *gorm.DB
	log      *logger.Logger
	notifier services.Notifier
}

func NewNotificationBridge(db *gorm.DB, log *logger.Logger, notifier services.Notifier) *NotificationBridge {
	return &NotificationBridge{db: db, log: log, notifier: notifier}
}

// Handle fans one event out to the affected users. Best-effort: a failure is
// logged and never blocks the dispatcher from marking the event published.
func (b *NotificationBridge) Handle(ctx context.Context, event *models.DomainEvent) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(event.Payload), &data); err != nil {
		b.log.Error("outbox bridge: bad payload on event %d (%s): %v", event.ID, event.EventType, err)
		return
	}

	switch event.EventType {
	case "milestone.submitted":
		b.notify(ctx, data, "client_id", models.NotificationMilestoneSubmitted,
			"Milestone submitted",
			"A milestone was submitted for your review. Approve it or request a revision before the auto-approve window closes.")

	case "milestone.approved":
		b.notify(ctx, data, "freelancer_id", models.NotificationMilestoneApproved,
			"Milestone approved",
			"Your milestone was approved. The payout is being settled from escrow.")

	case "milestone.revision_requested":
		b.notify(ctx, data, "freelancer_id", models.NotificationRevisionRequested,
			"Revision requested",
			"The client requested changes on your milestone. See the revision notes.")

	case "milestone.released":
		amount := int64Field(data, "amount")
		b.notify(ctx, data, "to_user_id", models.NotificationMilestoneReleased,
			"Payment released",
			fmt.Sprintf("A milestone payment of %d was released to your wallet.", amount))
		b.notify(ctx, data, "from_user_id", models.NotificationMilestoneReleased,
			"Escrow released",
			fmt.Sprintf("A milestone payment of %d was released from your escrow.", amount))

	case "wallet.deposited":
		b.notify(ctx, data, "user_id", models.NotificationDepositSuccess,
			"Deposit successful",
			fmt.Sprintf("Your wallet was credited with %d.", int64Field(data, "amount")))

	case "wallet.withdrawn":
		b.notify(ctx, data, "user_id", models.NotificationWithdrawalSuccess,
			"Withdrawal initiated",
			fmt.Sprintf("Your withdrawal of %d is on its way.", int64Field(data, "amount")))

	case "job.dead_lettered":
		b.notifyAdmins(ctx, event, data)
	}
}

func (b *NotificationBridge) notify(ctx context.Context, data map[string]interface{}, userKey string, notifType models.NotificationType, title, message string) {
	userID := uintField(data, userKey)
	if userID == 0 {
		b.log.Warn("outbox bridge: event payload missing %s, notification skipped", userKey)
		return
	}
	b.notifier.Notify(ctx, userID, notifType, title, message, data)
}

// notifyAdmins raises a dead-lettered job to every admin for manual
// remediation via the requeue endpoint.
func (b *NotificationBridge) notifyAdmins(ctx context.Context, event *models.DomainEvent, data map[string]interface{}) {
	var admins []models.User
	if err := b.db.WithContext(ctx).Where("role = ?", "admin").Find(&admins).Error; err != nil {
		b.log.Error("outbox bridge: failed to load admins: %v", err)
		return
	}
	jobID, _ := data["job_id"].(string)
	jobType, _ := data["type"].(string)
	for _, admin := range admins {
		b.notifier.Notify(ctx, admin.ID, models.NotificationJobDeadLettered,
			"Job dead-lettered",
			fmt.Sprintf("Job %s (%s) exhausted its retries and needs manual attention.", jobID, jobType),
			data)
	}
}

func uintField(data map[string]interface{}, key string) uint {
	if v, ok := data[key].(float64); ok {
		return uint(v)
	}
	return 0
}

func int64Field(data map[string]interface{}, key string) int64 {
	if v, ok := data[key].(float64); ok {
		return int64(v)
	}
	return 0
}
