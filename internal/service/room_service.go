package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
)

const minGroupNameLen = 2

// RoomService owns rooms, membership, admin sets and group settings
type RoomService struct {
	rooms             repository.RoomRepository
	messages          repository.MessageRepository
	users             repository.UserRepository
	globalAdminBypass bool
}

// NewRoomService creates a new RoomService
func NewRoomService(rooms repository.RoomRepository, messages repository.MessageRepository, users repository.UserRepository, globalAdminBypass bool) *RoomService {
	return &RoomService{
		rooms:             rooms,
		messages:          messages,
		users:             users,
		globalAdminBypass: globalAdminBypass,
	}
}

// GetRoom loads a room with its members
func (s *RoomService) GetRoom(ctx context.Context, roomID uint64) (*domain.ChatRoom, error) {
	return s.rooms.FindByID(ctx, roomID)
}

// FindOrCreatePersonalRoom returns the single personal room of the unordered
// (tenant, a, b) triple, creating it on first contact. Concurrent callers
// converge on the same row through the personal_key unique index.
func (s *RoomService) FindOrCreatePersonalRoom(ctx context.Context, tenantID string, a, b, createdBy uint64) (*domain.ChatRoom, bool, error) {
	if a == 0 || b == 0 || a == b {
		return nil, false, common.Validation("a personal room needs two distinct users")
	}
	key := domain.PersonalKey(tenantID, a, b)

	room, err := s.rooms.FindByPersonalKey(ctx, key)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	room = &domain.ChatRoom{
		Kind:        domain.RoomPersonal,
		TenantID:    tenantID,
		PersonalKey: &key,
		IsActive:    true,
		CreatedBy:   createdBy,
		Members: []domain.ChatRoomMember{
			{UserID: a},
			{UserID: b},
		},
	}
	err = s.rooms.Create(ctx, room)
	if errors.Is(err, common.ErrConflict) {
		room, err = s.rooms.FindByPersonalKey(ctx, key)
		return room, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// CreateGroup creates a group owned by creator's tenant with creator as sole admin.
// Unknown, inactive, unreachable and duplicate member ids are dropped.
func (s *RoomService) CreateGroup(ctx context.Context, creator domain.Actor, name string, memberIDs []uint64) (*domain.ChatRoom, error) {
	if !creator.Role.IsPrivileged() {
		return nil, common.Forbidden("only admin or hr can create groups")
	}
	name, err := validateGroupName(name)
	if err != nil {
		return nil, err
	}

	valid, err := s.reachableMembers(ctx, creator, creator.TenantID, memberIDs, creator.UserID)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return nil, common.Validation("no valid members")
	}

	room := &domain.ChatRoom{
		Kind:      domain.RoomGroup,
		TenantID:  creator.TenantID,
		Name:      name,
		IsActive:  true,
		CreatedBy: creator.UserID,
		Members:   []domain.ChatRoomMember{{UserID: creator.UserID, IsAdmin: true}},
	}
	for _, id := range valid {
		room.Members = append(room.Members, domain.ChatRoomMember{UserID: id})
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) reachableMembers(ctx context.Context, actor domain.Actor, roomTenant string, ids []uint64, skip uint64) ([]uint64, error) {
	seen := map[uint64]struct{}{skip: {}}
	var candidates []uint64
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	users, err := s.users.FindByIDs(ctx, candidates)
	if err != nil {
		return nil, err
	}
	var valid []uint64
	for _, id := range candidates {
		if reachable(actor, roomTenant, users[id], s.globalAdminBypass) {
			valid = append(valid, id)
		}
	}
	return valid, nil
}

// loadManagedGroup loads an active group the actor may manage
func (s *RoomService) loadManagedGroup(ctx context.Context, actor domain.Actor, roomID uint64) (*domain.ChatRoom, error) {
	room, err := s.loadActiveGroup(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAdmin(actor.UserID) && !actor.Role.IsPrivileged() {
		return nil, common.Forbidden("only group admins can manage this group")
	}
	return room, nil
}

func (s *RoomService) loadActiveGroup(ctx context.Context, actor domain.Actor, roomID uint64) (*domain.ChatRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsGroup() {
		return nil, common.Validation("not a group room")
	}
	if !room.IsActive {
		return nil, common.NotFound("group not found")
	}
	if !canAccessTenant(actor, room.TenantID) {
		return nil, common.Forbidden("room belongs to another tenant")
	}
	return room, nil
}

// AddMembers adds reachable users to a group and returns the ids actually added
func (s *RoomService) AddMembers(ctx context.Context, actor domain.Actor, roomID uint64, userIDs []uint64) (*domain.ChatRoom, []uint64, error) {
	room, err := s.loadManagedGroup(ctx, actor, roomID)
	if err != nil {
		return nil, nil, err
	}

	var fresh []uint64
	for _, id := range userIDs {
		if !room.IsParticipant(id) {
			fresh = append(fresh, id)
		}
	}
	valid, err := s.reachableMembers(ctx, actor, room.TenantID, fresh, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(valid) == 0 {
		if len(fresh) == 0 && len(userIDs) > 0 {
			return room, nil, nil
		}
		return nil, nil, common.Validation("no valid members")
	}

	added, err := s.rooms.AddMembers(ctx, room.ID, valid)
	if err != nil {
		return nil, nil, err
	}
	room, err = s.rooms.FindByID(ctx, room.ID)
	if err != nil {
		return nil, nil, err
	}
	return room, added, nil
}

// RemoveMember removes target from a group. The sole admin cannot be removed.
func (s *RoomService) RemoveMember(ctx context.Context, actor domain.Actor, roomID, target uint64) (*domain.ChatRoom, error) {
	room, err := s.loadManagedGroup(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(target) {
		return nil, common.NotFound("user is not a member of this group")
	}
	if err := s.rooms.RemoveMember(ctx, room.ID, target); err != nil {
		return nil, err
	}
	return room, nil
}

// LeaveGroup removes the actor from a group. The sole admin cannot leave.
func (s *RoomService) LeaveGroup(ctx context.Context, actor domain.Actor, roomID uint64) (*domain.ChatRoom, error) {
	room, err := s.loadActiveGroup(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(actor.UserID) {
		return nil, common.Forbidden("not a member of this group")
	}
	if err := s.rooms.RemoveMember(ctx, room.ID, actor.UserID); err != nil {
		return nil, err
	}
	return room, nil
}

// UpdateGroupMeta changes name and settings of a group
func (s *RoomService) UpdateGroupMeta(ctx context.Context, actor domain.Actor, roomID uint64, upd domain.GroupMetaUpdate) (*domain.ChatRoom, error) {
	if upd.IsEmpty() {
		return nil, common.Validation("nothing to update")
	}
	room, err := s.loadManagedGroup(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name, err := validateGroupName(*upd.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if err := s.rooms.UpdateMeta(ctx, room.ID, upd); err != nil {
		return nil, err
	}
	return s.rooms.FindByID(ctx, room.ID)
}

// SetAdmin grants or revokes group admin. Revoking the last admin is rejected.
func (s *RoomService) SetAdmin(ctx context.Context, actor domain.Actor, roomID, target uint64, isAdmin bool) (*domain.ChatRoom, error) {
	room, err := s.loadManagedGroup(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(target) {
		return nil, common.NotFound("user is not a member of this group")
	}
	if err := s.rooms.SetAdmin(ctx, room.ID, target, isAdmin); err != nil {
		return nil, err
	}
	return s.rooms.FindByID(ctx, room.ID)
}

// DeactivateGroup moves a group to its terminal state. History stays readable.
func (s *RoomService) DeactivateGroup(ctx context.Context, actor domain.Actor, roomID uint64) (*domain.ChatRoom, error) {
	room, err := s.loadActiveGroup(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAdmin(actor.UserID) && !actor.Role.IsPrivileged() && room.CreatedBy != actor.UserID {
		return nil, common.Forbidden("only group admins can delete this group")
	}
	if err := s.rooms.Deactivate(ctx, room.ID); err != nil {
		return nil, err
	}
	room.IsActive = false
	return room, nil
}

// ActiveGroupIDs ids of the active groups a user belongs to
func (s *RoomService) ActiveGroupIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	return s.rooms.FindActiveGroupIDsByUser(ctx, userID)
}

// ListRoomsForUser active rooms of the actor, newest activity first, with
// unread counts and the other-participant projection for personal rooms.
func (s *RoomService) ListRoomsForUser(ctx context.Context, actor domain.Actor) ([]*domain.RoomView, error) {
	var tenants []string
	switch {
	case actor.IsTenantless() && actor.Role.IsPrivileged():
		tenants = nil
	case actor.IsTenantless():
		tenants = []string{""}
	default:
		tenants = []string{actor.TenantID, ""}
	}

	rooms, err := s.rooms.FindActiveByUser(ctx, actor.UserID, tenants)
	if err != nil {
		return nil, err
	}

	var personalIDs, groupIDs, others []uint64
	for _, r := range rooms {
		if r.IsGroup() {
			groupIDs = append(groupIDs, r.ID)
			continue
		}
		personalIDs = append(personalIDs, r.ID)
		if o := r.OtherParticipant(actor.UserID); o != 0 {
			others = append(others, o)
		}
	}

	personalUnread, err := s.messages.CountPersonalUnread(ctx, actor.UserID, personalIDs)
	if err != nil {
		return nil, err
	}
	groupUnread, err := s.messages.CountGroupUnread(ctx, actor.UserID, groupIDs)
	if err != nil {
		return nil, err
	}
	users, err := s.users.FindByIDs(ctx, others)
	if err != nil {
		return nil, err
	}

	views := make([]*domain.RoomView, 0, len(rooms))
	for _, r := range rooms {
		v := r.ToView()
		if r.IsGroup() {
			v.UnreadCount = groupUnread[r.ID]
		} else {
			v.UnreadCount = personalUnread[r.ID]
			if u, ok := users[r.OtherParticipant(actor.UserID)]; ok {
				v.OtherParticipant = &domain.ParticipantView{ID: u.ID, Name: u.Name, Role: u.Role}
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// UnreadCount unread messages of a room for one user, recomputed on every call
func (s *RoomService) UnreadCount(ctx context.Context, room *domain.ChatRoom, userID uint64) (int64, error) {
	var counts map[uint64]int64
	var err error
	if room.IsGroup() {
		counts, err = s.messages.CountGroupUnread(ctx, userID, []uint64{room.ID})
	} else {
		counts, err = s.messages.CountPersonalUnread(ctx, userID, []uint64{room.ID})
	}
	if err != nil {
		return 0, err
	}
	return counts[room.ID], nil
}

func validateGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < minGroupNameLen {
		return "", common.Validation("group name must be at least 2 characters")
	}
	if utf8.RuneCountInString(name) > 100 {
		return "", common.Validation("group name must be at most 100 characters")
	}
	return name, nil
}
