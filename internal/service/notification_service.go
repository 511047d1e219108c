package service

import (
	"context"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/internal/ws"
)

// EventPublisher publishes events on a routing key
type EventPublisher interface {
	Publish(key string, ev domain.Event, excludeConnID string) int
}

// NotificationService records offline alerts and serves the notification inbox
type NotificationService struct {
	repo      *repository.NotificationRepository
	publisher EventPublisher
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(repo *repository.NotificationRepository, publisher EventPublisher) *NotificationService {
	return &NotificationService{repo: repo, publisher: publisher}
}

// Notify persists a notification for userID and pushes it to any live device
func (s *NotificationService) Notify(ctx context.Context, userID uint64, in domain.NotificationInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return common.Validation("notification title is required")
	}
	if in.Category == "" {
		in.Category = domain.NotificationCategoryChat
	}
	n := &domain.ChatNotification{
		UserID:         userID,
		Title:          in.Title,
		Body:           in.Body,
		Category:       in.Category,
		SourceRoomID:   in.SourceRoomID,
		SourceSenderID: in.SourceSenderID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Publish(ws.UserKey(userID), domain.NewEvent(domain.EventNotification, n), "")
	}
	return nil
}

// GetUnreadCount returns the unread notification count for a user
func (s *NotificationService) GetUnreadCount(ctx context.Context, userID uint64) (int64, error) {
	return s.repo.GetUnreadCount(ctx, userID)
}

// GetList returns paginated notifications for a user
func (s *NotificationService) GetList(ctx context.Context, userID uint64, page, limit int) (*domain.NotificationListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	offset := (page - 1) * limit
	items, total, err := s.repo.GetList(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.GetUnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.ChatNotification{}
	}

	return &domain.NotificationListResponse{
		Items:       items,
		Total:       total,
		UnreadCount: unread,
		Page:        page,
		Limit:       limit,
	}, nil
}

// MarkAsRead marks a notification as read after ownership check
func (s *NotificationService) MarkAsRead(ctx context.Context, userID, notificationID uint64) error {
	n, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return common.NotFound("notification not found")
	}
	return s.repo.MarkAsRead(ctx, notificationID)
}

// MarkAllAsRead marks all notifications as read for a user
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uint64) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}
