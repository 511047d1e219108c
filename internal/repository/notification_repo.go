package repository

import (
	"context"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository handles notification data operations
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a new notification
func (r *NotificationRepository) Create(ctx context.Context, n *domain.ChatNotification) error {
	return wrapErr("create notification", r.db.WithContext(ctx).Create(n).Error)
}

// GetUnreadCount returns the number of unread notifications for a user
func (r *NotificationRepository) GetUnreadCount(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ChatNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, wrapErr("notification count", err)
}

// GetList returns paginated notifications for a user, newest first
func (r *NotificationRepository) GetList(ctx context.Context, userID uint64, offset, limit int) ([]domain.ChatNotification, int64, error) {
	var notifications []domain.ChatNotification
	var total int64
	db := r.db.WithContext(ctx)

	if err := db.Model(&domain.ChatNotification{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, wrapErr("notifications", err)
	}

	if err := db.Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, 0, wrapErr("notifications", err)
	}

	return notifications, total, nil
}

// FindByID returns a notification by ID
func (r *NotificationRepository) FindByID(ctx context.Context, id uint64) (*domain.ChatNotification, error) {
	var n domain.ChatNotification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, wrapErr("notification", err)
	}
	return &n, nil
}

// MarkAsRead marks a notification as read
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id uint64) error {
	err := r.db.WithContext(ctx).Model(&domain.ChatNotification{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now().UTC()}).Error
	return wrapErr("mark notification read", err)
}

// MarkAllAsRead marks all notifications as read for a user
func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID uint64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.ChatNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now().UTC()})
	return res.RowsAffected, wrapErr("mark notifications read", res.Error)
}
