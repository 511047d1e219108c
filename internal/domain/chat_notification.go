package domain

import "time"

// ChatNotification offline alert recorded by the notification sink (chat_notifications table)
type ChatNotification struct {
	ID             uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID         uint64     `gorm:"column:user_id;not null;index:idx_chat_notifications_user_read,priority:1" json:"user_id"`
	Title          string     `gorm:"column:title;type:varchar(255)" json:"title"`
	Body           string     `gorm:"column:body;type:text" json:"body"`
	Category       string     `gorm:"column:category;type:varchar(32)" json:"category"`
	SourceRoomID   *uint64    `gorm:"column:source_room_id" json:"source_room_id,omitempty"`
	SourceSenderID *uint64    `gorm:"column:source_sender_id" json:"source_sender_id,omitempty"`
	IsRead         bool       `gorm:"column:is_read;not null;default:false;index:idx_chat_notifications_user_read,priority:2" json:"is_read"`
	ReadAt         *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"created_at"`
}

// TableName returns the table name
func (ChatNotification) TableName() string {
	return "chat_notifications"
}

// NotificationCategoryChat category used for offline chat alerts
const NotificationCategoryChat = "chat"

// NotificationInput what a peer hands to the sink
type NotificationInput struct {
	Title          string  `json:"title" binding:"required"`
	Body           string  `json:"body"`
	Category       string  `json:"category"`
	SourceRoomID   *uint64 `json:"source_room_id,omitempty"`
	SourceSenderID *uint64 `json:"source_sender_id,omitempty"`
}

// NotificationListResponse represents notification list response
type NotificationListResponse struct {
	Items       []ChatNotification `json:"items"`
	Total       int64              `json:"total"`
	UnreadCount int64              `json:"unread_count"`
	Page        int                `json:"page"`
	Limit       int                `json:"limit"`
}
