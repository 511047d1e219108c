package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageKind content type of a message
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
	KindVoice    MessageKind = "voice"
)

// Valid reports whether k is a known kind
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindDocument, KindVoice:
		return true
	}
	return false
}

// Attachment reference returned by object storage
type Attachment struct {
	URL          string `gorm:"column:url;type:varchar(1024)" json:"url"`
	StorageKey   string `gorm:"column:storage_key;type:varchar(512)" json:"storage_key,omitempty"`
	Filename     string `gorm:"column:filename;type:varchar(255)" json:"filename,omitempty"`
	Size         int64  `gorm:"column:size" json:"size,omitempty"`
	MimeType     string `gorm:"column:mime_type;type:varchar(100)" json:"mime_type,omitempty"`
	DurationSecs *int   `gorm:"column:duration_secs" json:"duration_secs,omitempty"`
}

// IsZero reports whether no attachment is set
func (a Attachment) IsZero() bool {
	return a.URL == "" && a.StorageKey == "" && a.Filename == "" && a.Size == 0 && a.MimeType == "" && a.DurationSecs == nil
}

// ChatMessage chat_messages table
type ChatMessage struct {
	ID         uint64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RoomID     uint64      `gorm:"column:room_id;not null;index:idx_chat_messages_room_created,priority:1" json:"room_id"`
	SenderID   uint64      `gorm:"column:sender_id;not null;index" json:"sender_id"`
	TenantID   string      `gorm:"column:tenant_id;type:varchar(64);not null;default:''" json:"tenant_id"`
	Content    string      `gorm:"column:content;type:text" json:"content"`
	Kind       MessageKind `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	Attachment Attachment  `gorm:"embedded;embeddedPrefix:attachment_" json:"attachment"`
	ReplyToID  *uint64     `gorm:"column:reply_to_id" json:"reply_to_id,omitempty"`
	IsRead     bool        `gorm:"column:is_read;not null;default:false" json:"is_read"`
	ReadAt     *time.Time  `gorm:"column:read_at" json:"read_at,omitempty"`
	IsDeleted  bool        `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	DeletedAt  *time.Time  `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
	CreatedAt  time.Time   `gorm:"column:created_at;not null;index:idx_chat_messages_room_created,priority:2" json:"created_at"`
}

// TableName returns the table name
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ChatMessageRead per-user read receipt for group messages
type ChatMessageRead struct {
	MessageID uint64    `gorm:"column:message_id;primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint64    `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	RoomID    uint64    `gorm:"column:room_id;not null;index" json:"room_id"`
	ReadAt    time.Time `gorm:"column:read_at;not null" json:"read_at"`
}

// TableName returns the table name
func (ChatMessageRead) TableName() string {
	return "chat_message_reads"
}

// MessagePayload content of a send-message command
type MessagePayload struct {
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReplyToID  *uint64     `json:"reply_to_id,omitempty"`
}

// ReplyPreview one-level preview of the message being replied to
type ReplyPreview struct {
	ID        uint64      `json:"id"`
	SenderID  uint64      `json:"sender_id"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind"`
	IsDeleted bool        `json:"is_deleted"`
}

// MessageView API shape of a message
type MessageView struct {
	ID         uint64        `json:"id"`
	RoomID     uint64        `json:"room_id"`
	SenderID   uint64        `json:"sender_id"`
	TenantID   string        `json:"tenant_id"`
	Content    string        `json:"content"`
	Kind       MessageKind   `json:"kind"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	ReplyToID  *uint64       `json:"reply_to_id,omitempty"`
	ReplyTo    *ReplyPreview `json:"reply_to,omitempty"`
	IsRead     bool          `json:"is_read"`
	ReadAt     *time.Time    `json:"read_at,omitempty"`
	IsDeleted  bool          `json:"is_deleted"`
	DeletedAt  *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ToView converts a message to its API shape
func (m *ChatMessage) ToView() *MessageView {
	v := &MessageView{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		TenantID:  m.TenantID,
		Content:   m.Content,
		Kind:      m.Kind,
		ReplyToID: m.ReplyToID,
		IsRead:    m.IsRead,
		ReadAt:    m.ReadAt,
		IsDeleted: m.IsDeleted,
		DeletedAt: m.DeletedAt,
		CreatedAt: m.CreatedAt,
	}
	if !m.Attachment.IsZero() {
		a := m.Attachment
		v.Attachment = &a
	}
	return v
}

// Preview builds the reply preview of m
func (m *ChatMessage) Preview() *ReplyPreview {
	return &ReplyPreview{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Kind:      m.Kind,
		IsDeleted: m.IsDeleted,
	}
}

// MessageCursor position in a room's history, ordered by (created_at, id)
type MessageCursor struct {
	CreatedAt time.Time
	ID        uint64
}

// CursorOf returns the cursor pointing at m
func CursorOf(m *ChatMessage) *MessageCursor {
	return &MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Encode returns the opaque string form of the cursor
func (c *MessageCursor) Encode() string {
	raw := fmt.Sprintf("%d:%d", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a cursor produced by Encode. Empty input yields nil.
func ParseCursor(s string) (*MessageCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &MessageCursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// MessagePage one page of history in chronological order
type MessagePage struct {
	Messages   []*MessageView `json:"messages"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}
