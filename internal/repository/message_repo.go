package repository

import (
	"context"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
)

// MessageRepository chat message data access interface
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) error
	FindByID(ctx context.Context, id uint64) (*domain.ChatMessage, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]*domain.ChatMessage, error)
	// ListByRoom returns up to limit non-deleted messages older than before, newest first
	ListByRoom(ctx context.Context, roomID uint64, before *domain.MessageCursor, limit int) ([]*domain.ChatMessage, error)
	MarkPersonalRead(ctx context.Context, roomID, readerID uint64, at time.Time) (int64, error)
	MarkGroupRead(ctx context.Context, roomID, readerID uint64, at time.Time) (int64, error)
	CountPersonalUnread(ctx context.Context, userID uint64, roomIDs []uint64) (map[uint64]int64, error)
	CountGroupUnread(ctx context.Context, userID uint64, roomIDs []uint64) (map[uint64]int64, error)
	ReadersOf(ctx context.Context, messageID uint64) ([]uint64, error)
	SoftDelete(ctx context.Context, id uint64, tombstone string, at time.Time) (bool, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	return wrapErr("create message", r.db.WithContext(ctx).Create(msg).Error)
}

func (r *messageRepository) FindByID(ctx context.Context, id uint64) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, wrapErr("message", err)
	}
	return &msg, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]*domain.ChatMessage, error) {
	out := make(map[uint64]*domain.ChatMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []*domain.ChatMessage
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, wrapErr("messages", err)
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID uint64, before *domain.MessageCursor, limit int) ([]*domain.ChatMessage, error) {
	q := r.db.WithContext(ctx).
		Where("room_id = ? AND is_deleted = ?", roomID, false)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}

	var msgs []*domain.ChatMessage
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	return msgs, nil
}

// MarkPersonalRead flips is_read on the counterpart's messages
func (r *messageRepository) MarkPersonalRead(ctx context.Context, roomID, readerID uint64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, wrapErr("mark read", res.Error)
	}
	return res.RowsAffected, nil
}

const markGroupReadSQL = `INSERT INTO chat_message_reads (message_id, user_id, room_id, read_at)
SELECT m.id, ?, m.room_id, ? FROM chat_messages m
WHERE m.room_id = ? AND m.sender_id <> ?
AND m.created_at >= (SELECT cm.joined_at FROM chat_room_members cm WHERE cm.room_id = m.room_id AND cm.user_id = ?)
AND NOT EXISTS (SELECT 1 FROM chat_message_reads r WHERE r.message_id = m.id AND r.user_id = ?)`

// MarkGroupRead inserts receipts for messages the reader has no receipt for,
// counting only messages sent since the reader joined.
// A concurrent call may win the race for some rows; the statement is then
// retried once against the new state.
func (r *messageRepository) MarkGroupRead(ctx context.Context, roomID, readerID uint64, at time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	var res *gorm.DB
	for attempt := 0; attempt < 2; attempt++ {
		res = db.Exec(markGroupReadSQL, readerID, at, roomID, readerID, readerID, readerID)
		if res.Error == nil || !isDuplicateKey(res.Error) {
			break
		}
	}
	if res.Error != nil {
		return 0, wrapErr("mark read", res.Error)
	}
	return res.RowsAffected, nil
}

type roomCount struct {
	RoomID uint64
	N      int64
}

func (r *messageRepository) CountPersonalUnread(ctx context.Context, userID uint64, roomIDs []uint64) (map[uint64]int64, error) {
	out := make(map[uint64]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	var rows []roomCount
	err := r.db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Select("room_id, COUNT(*) AS n").
		Where("room_id IN ? AND sender_id <> ? AND is_read = ? AND is_deleted = ?", roomIDs, userID, false, false).
		Group("room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapErr("unread count", err)
	}
	for _, row := range rows {
		out[row.RoomID] = row.N
	}
	return out, nil
}

func (r *messageRepository) CountGroupUnread(ctx context.Context, userID uint64, roomIDs []uint64) (map[uint64]int64, error) {
	out := make(map[uint64]int64, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	var rows []roomCount
	err := r.db.WithContext(ctx).Table("chat_messages AS m").
		Select("m.room_id AS room_id, COUNT(*) AS n").
		Where("m.room_id IN ? AND m.sender_id <> ? AND m.is_deleted = ?", roomIDs, userID, false).
		Where("m.created_at >= (SELECT cm.joined_at FROM chat_room_members cm WHERE cm.room_id = m.room_id AND cm.user_id = ?)", userID).
		Where("NOT EXISTS (SELECT 1 FROM chat_message_reads r WHERE r.message_id = m.id AND r.user_id = ?)", userID).
		Group("m.room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapErr("unread count", err)
	}
	for _, row := range rows {
		out[row.RoomID] = row.N
	}
	return out, nil
}

func (r *messageRepository) ReadersOf(ctx context.Context, messageID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&domain.ChatMessageRead{}).
		Where("message_id = ?", messageID).
		Order("read_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, wrapErr("read receipts", err)
	}
	return ids, nil
}

// SoftDelete replaces content with the tombstone and clears the attachment.
// Returns false when the message was already deleted.
func (r *messageRepository) SoftDelete(ctx context.Context, id uint64, tombstone string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":                  tombstone,
			"is_deleted":               true,
			"deleted_at":               at,
			"attachment_url":           "",
			"attachment_storage_key":   "",
			"attachment_filename":      "",
			"attachment_size":          0,
			"attachment_mime_type":     "",
			"attachment_duration_secs": nil,
		})
	if res.Error != nil {
		return false, wrapErr("delete message", res.Error)
	}
	return res.RowsAffected > 0, nil
}
