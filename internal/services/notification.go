package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resend/resend-go/v2"
	"gorm.io/gorm"

	"contralock/internal/logger"
	"contralock/internal/models"
)

// Notifier is the notification fan-out boundary. Calls are best-effort:
// a delivery failure is logged and never propagated into the transition that
// triggered it.
type Notifier interface {
	Notify(ctx context.Context, userID uint, notifType models.NotificationType, title, message string, data map[string]interface{})
}

// NotificationService writes notification rows and, when configured, sends
// an email copy through Resend.
type NotificationService struct {
	db        *gorm.DB
	log       *logger.Logger
	email     *resend.Client
	fromEmail string
}

func NewNotificationService(db *gorm.DB, log *logger.Logger, resendAPIKey, fromEmail string) *NotificationService {
	s := &NotificationService{db: db, log: log, fromEmail: fromEmail}
	if resendAPIKey != "" {
		s.email = resend.NewClient(resendAPIKey)
	}
	return s
}

func (s *NotificationService) Notify(ctx context.Context, userID uint, notifType models.NotificationType, title, message string, data map[string]interface{}) {
	var dataJSON string
	if data != nil {
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			s.log.Error("failed to marshal notification data: %v", err)
		} else {
			dataJSON = string(jsonBytes)
		}
	}

	notification := models.Notification{
		UserID:  userID,
		Type:    notifType,
		Title:   title,
		Message: message,
		Data:    dataJSON,
		IsRead:  false,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.log.Error("failed to create notification for user %d: %v", userID, err)
		return
	}

	s.sendEmail(ctx, userID, title, message)
}

func (s *NotificationService) sendEmail(ctx context.Context, userID uint, title, message string) {
	if s.email == nil {
		return
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		s.log.Error("failed to load user %d for email notification: %v", userID, err)
		return
	}

	_, err := s.email.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{user.Email},
		Subject: title,
		Html:    fmt.Sprintf("<p>%s</p>", message),
	})
	if err != nil {
		s.log.Error("failed to send email to %s: %v", user.Email, err)
	}
}

// MarkRead flips a notification read flag for its owner.
func (s *NotificationService) MarkRead(ctx context.Context, userID uint, notificationID uint) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
