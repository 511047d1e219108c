package domain

import (
	"fmt"
	"sort"
	"time"
)

// RoomKind distinguishes 1:1 rooms from named groups
type RoomKind string

const (
	RoomPersonal RoomKind = "personal"
	RoomGroup    RoomKind = "group"
)

// RoomSettings per-room moderation flags
type RoomSettings struct {
	OnlyAdminsCanMessage bool `gorm:"column:only_admins_can_message;not null;default:false" json:"only_admins_can_message"`
	IsMuted              bool `gorm:"column:is_muted;not null;default:false" json:"is_muted"`
}

// MessageSummary is the last-message preview stored on the room row
type MessageSummary struct {
	Content  string      `gorm:"column:content;type:varchar(255)" json:"content"`
	SenderID uint64      `gorm:"column:sender_id" json:"sender_id,omitempty"`
	Kind     MessageKind `gorm:"column:kind;type:varchar(16)" json:"kind,omitempty"`
	At       *time.Time  `gorm:"column:at;index" json:"at,omitempty"`
}

// ChatRoom represents a personal or group conversation (chat_rooms table)
type ChatRoom struct {
	ID          uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Kind        RoomKind         `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	TenantID    string           `gorm:"column:tenant_id;type:varchar(64);not null;default:'';index" json:"tenant_id"`
	Name        string           `gorm:"column:name;type:varchar(100)" json:"name,omitempty"`
	PersonalKey *string          `gorm:"column:personal_key;type:varchar(191);uniqueIndex" json:"-"`
	Settings    RoomSettings     `gorm:"embedded" json:"settings"`
	LastMessage MessageSummary   `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`
	IsActive    bool             `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	CreatedBy   uint64           `gorm:"column:created_by;not null" json:"created_by"`
	CreatedAt   time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at" json:"updated_at"`
	Members     []ChatRoomMember `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name
func (ChatRoom) TableName() string {
	return "chat_rooms"
}

// ChatRoomMember is one participant of a room. The admin flag lives on the
// membership row so admins are always a subset of participants.
type ChatRoomMember struct {
	RoomID   uint64    `gorm:"column:room_id;primaryKey;autoIncrement:false" json:"room_id"`
	UserID   uint64    `gorm:"column:user_id;primaryKey;autoIncrement:false;index" json:"user_id"`
	IsAdmin  bool      `gorm:"column:is_admin;not null;default:false" json:"is_admin"`
	JoinedAt time.Time `gorm:"column:joined_at" json:"joined_at"`
}

// TableName returns the table name
func (ChatRoomMember) TableName() string {
	return "chat_room_members"
}

// PersonalKey canonical key of the unordered (tenant, a, b) triple
func PersonalKey(tenantID string, a, b uint64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%d|%d", tenantID, a, b)
}

func (r *ChatRoom) IsGroup() bool {
	return r.Kind == RoomGroup
}

// ParticipantIDs returns member ids in ascending order
func (r *ChatRoom) ParticipantIDs() []uint64 {
	ids := make([]uint64, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AdminIDs returns the ids of group admins in ascending order
func (r *ChatRoom) AdminIDs() []uint64 {
	ids := []uint64{}
	for _, m := range r.Members {
		if m.IsAdmin {
			ids = append(ids, m.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *ChatRoom) IsParticipant(userID uint64) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (r *ChatRoom) IsAdmin(userID uint64) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return m.IsAdmin
		}
	}
	return false
}

// OtherParticipant returns the counterpart of userID in a personal room, 0 if none
func (r *ChatRoom) OtherParticipant(userID uint64) uint64 {
	if r.Kind != RoomPersonal {
		return 0
	}
	for _, m := range r.Members {
		if m.UserID != userID {
			return m.UserID
		}
	}
	return 0
}

// ParticipantView is the read-time projection of the other side of a personal room
type ParticipantView struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	IsOnline bool   `json:"is_online"`
}

// RoomView is a room as seen by one user
type RoomView struct {
	ID               uint64           `json:"id"`
	Kind             RoomKind         `json:"kind"`
	TenantID         string           `json:"tenant_id"`
	Name             string           `json:"name,omitempty"`
	Settings         RoomSettings     `json:"settings"`
	LastMessage      *MessageSummary  `json:"last_message,omitempty"`
	ParticipantIDs   []uint64         `json:"participant_ids"`
	AdminIDs         []uint64         `json:"admin_ids,omitempty"`
	IsActive         bool             `json:"is_active"`
	CreatedBy        uint64           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UnreadCount      int64            `json:"unread_count"`
	OtherParticipant *ParticipantView `json:"other_participant,omitempty"`
}

// ToView converts a room to its API shape
func (r *ChatRoom) ToView() *RoomView {
	v := &RoomView{
		ID:             r.ID,
		Kind:           r.Kind,
		TenantID:       r.TenantID,
		Name:           r.Name,
		Settings:       r.Settings,
		ParticipantIDs: r.ParticipantIDs(),
		IsActive:       r.IsActive,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
	}
	if r.IsGroup() {
		v.AdminIDs = r.AdminIDs()
	}
	if r.LastMessage.At != nil {
		summary := r.LastMessage
		v.LastMessage = &summary
	}
	return v
}

// GroupMetaUpdate partial update for group name and settings
type GroupMetaUpdate struct {
	Name                 *string `json:"name,omitempty"`
	OnlyAdminsCanMessage *bool   `json:"only_admins_can_message,omitempty"`
	IsMuted              *bool   `json:"is_muted,omitempty"`
}

// IsEmpty reports whether nothing would change
func (u GroupMetaUpdate) IsEmpty() bool {
	return u.Name == nil && u.OnlyAdminsCanMessage == nil && u.IsMuted == nil
}
