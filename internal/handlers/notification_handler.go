package handlers

import (
	"github.com/gofiber/fiber/v2"

	"contralock/internal/models"
)

// ListNotifications returns the caller's notifications, unread first.
func (h *Handler) ListNotifications(c *fiber.Ctx) error {
	userID := authedUser(c)

	var notifications []models.Notification
	err := h.db.
		Where("user_id = ?", userID).
		Order("is_read ASC, created_at DESC").
		Limit(c.QueryInt("limit", 50)).
		Find(&notifications).Error
	if err != nil {
		return h.fail(c, err)
	}

	var unread int64
	if err := h.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&unread).Error; err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

// MarkNotificationRead flips one notification to read.
func (h *Handler) MarkNotificationRead(c *fiber.Ctx) error {
	notificationID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification id"})
	}

	if err := h.notifications.MarkRead(c.Context(), authedUser(c), uint(notificationID)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Notification marked as read"})
}
