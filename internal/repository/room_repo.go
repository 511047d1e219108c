package repository

import (
	"context"
	"errors"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomRepository chat room data access interface
type RoomRepository interface {
	Create(ctx context.Context, room *domain.ChatRoom) error
	FindByID(ctx context.Context, id uint64) (*domain.ChatRoom, error)
	FindByPersonalKey(ctx context.Context, key string) (*domain.ChatRoom, error)
	// FindActiveByUser lists active rooms the user belongs to. A nil tenant list disables the tenant filter.
	FindActiveByUser(ctx context.Context, userID uint64, tenantIDs []string) ([]*domain.ChatRoom, error)
	FindActiveGroupIDsByUser(ctx context.Context, userID uint64) ([]uint64, error)
	AddMembers(ctx context.Context, roomID uint64, userIDs []uint64) ([]uint64, error)
	RemoveMember(ctx context.Context, roomID, userID uint64) error
	SetAdmin(ctx context.Context, roomID, userID uint64, isAdmin bool) error
	UpdateMeta(ctx context.Context, roomID uint64, upd domain.GroupMetaUpdate) error
	UpdateLastMessage(ctx context.Context, roomID uint64, summary domain.MessageSummary) error
	Deactivate(ctx context.Context, roomID uint64) error
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository creates a new RoomRepository
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

// Create inserts the room and its members in one transaction.
// A personal key collision returns an error of kind common.ErrConflict.
func (r *roomRepository) Create(ctx context.Context, room *domain.ChatRoom) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members := room.Members
		room.Members = nil
		if err := tx.Omit(clause.Associations).Create(room).Error; err != nil {
			return err
		}
		now := time.Now().UTC().Truncate(time.Millisecond)
		for i := range members {
			members[i].RoomID = room.ID
			if members[i].JoinedAt.IsZero() {
				members[i].JoinedAt = now
			}
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return err
			}
		}
		room.Members = members
		return nil
	})
	return wrapErr("create room", err)
}

func (r *roomRepository) FindByID(ctx context.Context, id uint64) (*domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := r.db.WithContext(ctx).Preload("Members").Where("id = ?", id).First(&room).Error
	if err != nil {
		return nil, wrapErr("room", err)
	}
	return &room, nil
}

func (r *roomRepository) FindByPersonalKey(ctx context.Context, key string) (*domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := r.db.WithContext(ctx).Preload("Members").
		Where("personal_key = ? AND kind = ?", key, domain.RoomPersonal).
		First(&room).Error
	if err != nil {
		return nil, wrapErr("personal room", err)
	}
	return &room, nil
}

func (r *roomRepository) FindActiveByUser(ctx context.Context, userID uint64, tenantIDs []string) ([]*domain.ChatRoom, error) {
	var rooms []*domain.ChatRoom
	q := r.db.WithContext(ctx).Model(&domain.ChatRoom{}).
		Preload("Members").
		Joins("JOIN chat_room_members m ON m.room_id = chat_rooms.id AND m.user_id = ?", userID).
		Where("chat_rooms.is_active = ?", true)
	if tenantIDs != nil {
		q = q.Where("chat_rooms.tenant_id IN ?", tenantIDs)
	}
	err := q.Order("COALESCE(chat_rooms.last_message_at, chat_rooms.created_at) DESC").
		Order("chat_rooms.id DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, wrapErr("list rooms", err)
	}
	return rooms, nil
}

func (r *roomRepository) FindActiveGroupIDsByUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&domain.ChatRoomMember{}).
		Joins("JOIN chat_rooms ON chat_rooms.id = chat_room_members.room_id").
		Where("chat_room_members.user_id = ? AND chat_rooms.kind = ? AND chat_rooms.is_active = ?", userID, domain.RoomGroup, true).
		Pluck("chat_room_members.room_id", &ids).Error
	if err != nil {
		return nil, wrapErr("list groups", err)
	}
	return ids, nil
}

// AddMembers inserts memberships that do not exist yet and returns the ids actually added
func (r *roomRepository) AddMembers(ctx context.Context, roomID uint64, userIDs []uint64) ([]uint64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	db := r.db.WithContext(ctx)

	var existing []uint64
	if err := db.Model(&domain.ChatRoomMember{}).
		Where("room_id = ? AND user_id IN ?", roomID, userIDs).
		Pluck("user_id", &existing).Error; err != nil {
		return nil, wrapErr("add members", err)
	}
	present := make(map[uint64]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	var rows []domain.ChatRoomMember
	var added []uint64
	for _, id := range userIDs {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		rows = append(rows, domain.ChatRoomMember{RoomID: roomID, UserID: id, JoinedAt: now})
		added = append(added, id)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return nil, wrapErr("add members", err)
	}
	return added, nil
}

// removeMemberSQL deletes a membership unless it belongs to the only admin.
// The admin count is read in the same statement, so two concurrent removals
// cannot both pass the check.
const removeMemberSQL = `DELETE FROM chat_room_members
WHERE room_id = ? AND user_id = ?
AND (is_admin = ? OR (SELECT n FROM (SELECT COUNT(*) AS n FROM chat_room_members WHERE room_id = ? AND is_admin = ?) AS admins) > 1)`

// RemoveMember returns common.ErrLastAdmin when userID is the sole admin
func (r *roomRepository) RemoveMember(ctx context.Context, roomID, userID uint64) error {
	db := r.db.WithContext(ctx)
	res := db.Exec(removeMemberSQL, roomID, userID, false, roomID, true)
	if res.Error != nil {
		return wrapErr("remove member", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&domain.ChatRoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error; err != nil {
		return wrapErr("remove member", err)
	}
	if count == 0 {
		return common.NotFound("user is not a member of this room")
	}
	return common.ErrLastAdmin
}

// revokeAdminSQL clears the admin flag unless the target is the only admin,
// with the count read in the same statement as the write.
const revokeAdminSQL = `UPDATE chat_room_members SET is_admin = ?
WHERE room_id = ? AND user_id = ?
AND (is_admin = ? OR (SELECT n FROM (SELECT COUNT(*) AS n FROM chat_room_members WHERE room_id = ? AND is_admin = ?) AS admins) > 1)`

// SetAdmin returns common.ErrLastAdmin when revoking the sole admin
func (r *roomRepository) SetAdmin(ctx context.Context, roomID, userID uint64, isAdmin bool) error {
	db := r.db.WithContext(ctx)
	var res *gorm.DB
	if isAdmin {
		res = db.Model(&domain.ChatRoomMember{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Update("is_admin", true)
	} else {
		res = db.Exec(revokeAdminSQL, false, roomID, userID, false, roomID, true)
	}
	if res.Error != nil {
		return wrapErr("set admin", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL reports unchanged rows as unaffected
	var member domain.ChatRoomMember
	err := db.Where("room_id = ? AND user_id = ?", roomID, userID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.NotFound("user is not a member of this room")
	}
	if err != nil {
		return wrapErr("set admin", err)
	}
	if member.IsAdmin != isAdmin {
		return common.ErrLastAdmin
	}
	return nil
}

func (r *roomRepository) UpdateMeta(ctx context.Context, roomID uint64, upd domain.GroupMetaUpdate) error {
	fields := map[string]interface{}{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.OnlyAdminsCanMessage != nil {
		fields["only_admins_can_message"] = *upd.OnlyAdminsCanMessage
	}
	if upd.IsMuted != nil {
		fields["is_muted"] = *upd.IsMuted
	}
	if len(fields) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&domain.ChatRoom{}).Where("id = ?", roomID).Updates(fields).Error
	return wrapErr("update room", err)
}

func (r *roomRepository) UpdateLastMessage(ctx context.Context, roomID uint64, summary domain.MessageSummary) error {
	err := r.db.WithContext(ctx).Model(&domain.ChatRoom{}).Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"last_message_content":   summary.Content,
			"last_message_sender_id": summary.SenderID,
			"last_message_kind":      summary.Kind,
			"last_message_at":        summary.At,
		}).Error
	return wrapErr("update last message", err)
}

func (r *roomRepository) Deactivate(ctx context.Context, roomID uint64) error {
	err := r.db.WithContext(ctx).Model(&domain.ChatRoom{}).
		Where("id = ?", roomID).
		Update("is_active", false).Error
	return wrapErr("deactivate room", err)
}
