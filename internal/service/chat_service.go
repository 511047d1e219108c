package service

import (
	"context"
	"errors"
	"sync"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	"github.com/damoang/angple-chat/internal/presence"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/internal/ws"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
)

// EventRouter live connection fan-out
type EventRouter interface {
	EventPublisher
	Attach(c ws.Conn)
	Detach(connID string)
	Subscribe(connID, key string) bool
	Unsubscribe(connID, key string)
	SubscribeUser(userID uint64, key string) int
	UnsubscribeUser(userID uint64, key string)
	SendTo(connID string, ev domain.Event) bool
}

// Notifier records offline alerts
type Notifier interface {
	Notify(ctx context.Context, userID uint64, in domain.NotificationInput) error
}

// Caller identifies who issued a command. ConnID is empty for REST calls.
type Caller struct {
	Actor     domain.Actor
	ConnID    string
	RequestID string
}

// ChatService is the messaging engine. It validates every command, is the
// only writer of room and message state and the only trigger of fan-out.
type ChatService struct {
	rooms    *RoomService
	messages *MessageService
	users    repository.UserRepository
	presence *presence.Registry
	router   EventRouter
	notifier Notifier

	// sessions serializes connect/disconnect so router and presence change together
	sessions sync.Mutex
}

// NewChatService creates the engine and installs it as the presence listener
func NewChatService(rooms *RoomService, messages *MessageService, users repository.UserRepository, reg *presence.Registry, router EventRouter, notifier Notifier) *ChatService {
	s := &ChatService{
		rooms:    rooms,
		messages: messages,
		users:    users,
		presence: reg,
		router:   router,
		notifier: notifier,
	}
	reg.SetListener(s.onPresenceChange)
	return s
}

// onPresenceChange runs under the registry lock; router publishing never blocks
func (s *ChatService) onPresenceChange(ch presence.Change) {
	eventType := domain.EventUserOnline
	if ch.Transition == presence.WentOffline {
		eventType = domain.EventUserOffline
	}
	s.router.Publish(ws.TenantKey(ch.TenantID), domain.NewEvent(eventType, domain.PresencePayload{
		UserID:   ch.UserID,
		TenantID: ch.TenantID,
		Name:     ch.DisplayName,
	}), ch.ConnID)
}

// Connect subscribes a new connection to its user, tenant and group keys and
// registers it with presence.
func (s *ChatService) Connect(ctx context.Context, conn ws.Conn, actor domain.Actor) error {
	groupIDs, err := s.rooms.ActiveGroupIDs(ctx, actor.UserID)
	if err != nil {
		return err
	}

	s.sessions.Lock()
	s.router.Attach(conn)
	s.router.Subscribe(conn.ID(), ws.UserKey(actor.UserID))
	s.router.Subscribe(conn.ID(), ws.TenantKey(actor.TenantID))
	for _, id := range groupIDs {
		s.router.Subscribe(conn.ID(), ws.GroupKey(id))
	}
	s.presence.Register(presence.Entry{
		ConnID:      conn.ID(),
		UserID:      actor.UserID,
		TenantID:    actor.TenantID,
		Role:        actor.Role,
		DisplayName: actor.DisplayName,
	})
	s.sessions.Unlock()

	// Membership may have changed while the first query ran.
	fresh, err := s.rooms.ActiveGroupIDs(ctx, actor.UserID)
	if err != nil {
		log := pkglogger.WithConn(conn.ID(), actor.UserID)
		log.Warn().Err(err).Msg("group resync failed")
		return nil
	}
	s.resyncGroups(conn.ID(), groupIDs, fresh)
	return nil
}

func (s *ChatService) resyncGroups(connID string, before, after []uint64) {
	was := make(map[uint64]struct{}, len(before))
	for _, id := range before {
		was[id] = struct{}{}
	}
	for _, id := range after {
		if _, ok := was[id]; ok {
			delete(was, id)
			continue
		}
		s.router.Subscribe(connID, ws.GroupKey(id))
	}
	for id := range was {
		s.router.Unsubscribe(connID, ws.GroupKey(id))
	}
}

// Disconnect drops every subscription of the connection and unregisters it
// from presence in one step.
func (s *ChatService) Disconnect(connID string) {
	s.sessions.Lock()
	defer s.sessions.Unlock()
	s.router.Detach(connID)
	s.presence.Unregister(connID)
}

// authorizeRoom loads a room the actor may act on
func (s *ChatService) authorizeRoom(ctx context.Context, actor domain.Actor, roomID uint64, requireActive bool) (*domain.ChatRoom, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !canAccessTenant(actor, room.TenantID) {
		return nil, common.Forbidden("room belongs to another tenant")
	}
	if !room.IsParticipant(actor.UserID) {
		return nil, common.Forbidden("not a participant of this room")
	}
	if requireActive && !room.IsActive {
		return nil, common.NotFound("room is no longer active")
	}
	if !room.IsGroup() {
		other, err := s.users.FindByID(ctx, room.OtherParticipant(actor.UserID))
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.Forbidden("counterpart account no longer exists")
			}
			return nil, err
		}
		if err := checkPersonalPair(actor.Role, other.Role); err != nil {
			return nil, err
		}
	}
	return room, nil
}

func checkCanPost(room *domain.ChatRoom, actor domain.Actor) error {
	if room.IsGroup() && room.Settings.OnlyAdminsCanMessage && !room.IsAdmin(actor.UserID) {
		return common.Forbidden("only admins can post in this group")
	}
	return nil
}

// fanOut group events go to the group key, personal events to both users'
// keys. The calling connection is always excluded.
func (s *ChatService) fanOut(room *domain.ChatRoom, caller Caller, ev domain.Event, includeSelf bool) {
	if room.IsGroup() {
		s.router.Publish(ws.GroupKey(room.ID), ev, caller.ConnID)
		return
	}
	if other := room.OtherParticipant(caller.Actor.UserID); other != 0 {
		s.router.Publish(ws.UserKey(other), ev, "")
	}
	if includeSelf {
		s.router.Publish(ws.UserKey(caller.Actor.UserID), ev, caller.ConnID)
	}
}

// SendMessage appends a message and delivers it. The sending connection gets
// a message-sent ack instead of new-message.
func (s *ChatService) SendMessage(ctx context.Context, caller Caller, roomID uint64, payload domain.MessagePayload, clientTempID string) (*domain.MessageView, error) {
	room, err := s.authorizeRoom(ctx, caller.Actor, roomID, true)
	if err != nil {
		return nil, err
	}
	if err := checkCanPost(room, caller.Actor); err != nil {
		return nil, err
	}

	msg, err := s.messages.Append(ctx, room, caller.Actor.UserID, payload)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Kind), string(room.Kind)).Inc()

	view := msg.ToView()
	s.messages.ResolveReply(ctx, view)

	s.fanOut(room, caller, domain.NewEvent(domain.EventNewMessage, view), true)
	if caller.ConnID != "" {
		s.router.SendTo(caller.ConnID, domain.Event{
			Type:      domain.EventMessageSent,
			RequestID: caller.RequestID,
			Payload:   domain.MessageSentPayload{ClientTempID: clientTempID, Message: view},
		})
	}

	s.notifyOffline(ctx, room, caller.Actor, msg)
	return view, nil
}

// notifyOffline is best effort: failures are logged and never fail the send
func (s *ChatService) notifyOffline(ctx context.Context, room *domain.ChatRoom, sender domain.Actor, msg *domain.ChatMessage) {
	if s.notifier == nil || room.Settings.IsMuted {
		return
	}
	title := sender.DisplayName
	if room.IsGroup() {
		title = room.Name + " · " + sender.DisplayName
	}
	roomID, senderID := room.ID, sender.UserID
	in := domain.NotificationInput{
		Title:          title,
		Body:           summarize(msg),
		Category:       domain.NotificationCategoryChat,
		SourceRoomID:   &roomID,
		SourceSenderID: &senderID,
	}

	for _, uid := range room.ParticipantIDs() {
		if uid == sender.UserID || s.presence.IsOnline(uid) {
			continue
		}
		if err := s.notifier.Notify(ctx, uid, in); err != nil {
			metrics.NotificationFailures.Inc()
			pkglogger.GetLogger().Warn().Err(err).
				Uint64("user_id", uid).
				Uint64("room_id", room.ID).
				Msg("offline notification failed")
		}
	}
}

// Typing relays a typing indicator. Nothing is persisted.
func (s *ChatService) Typing(ctx context.Context, caller Caller, roomID uint64, typing bool) error {
	room, err := s.authorizeRoom(ctx, caller.Actor, roomID, true)
	if err != nil {
		return err
	}
	if err := checkCanPost(room, caller.Actor); err != nil {
		return err
	}
	eventType := domain.EventUserTyping
	if !typing {
		eventType = domain.EventUserStoppedTyping
	}
	s.fanOut(room, caller, domain.NewEvent(eventType, domain.TypingPayload{
		RoomID:   room.ID,
		UserID:   caller.Actor.UserID,
		UserName: caller.Actor.DisplayName,
	}), false)
	return nil
}

// MarkRead marks the room read for the caller and announces it when anything changed
func (s *ChatService) MarkRead(ctx context.Context, caller Caller, roomID uint64) (int64, error) {
	room, err := s.authorizeRoom(ctx, caller.Actor, roomID, false)
	if err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, room, caller.Actor.UserID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.fanOut(room, caller, domain.NewEvent(domain.EventMessagesRead, domain.ReadPayload{
			RoomID: room.ID,
			UserID: caller.Actor.UserID,
			Count:  n,
		}), true)
	}
	return n, nil
}

func (s *ChatService) roomView(ctx context.Context, room *domain.ChatRoom, actor domain.Actor) (*domain.RoomView, error) {
	v := room.ToView()
	unread, err := s.rooms.UnreadCount(ctx, room, actor.UserID)
	if err != nil {
		return nil, err
	}
	v.UnreadCount = unread
	if other := room.OtherParticipant(actor.UserID); other != 0 {
		if u, err := s.users.FindByID(ctx, other); err == nil {
			v.OtherParticipant = &domain.ParticipantView{
				ID:       u.ID,
				Name:     u.Name,
				Role:     u.Role,
				IsOnline: s.presence.IsOnline(u.ID),
			}
		}
	}
	return v, nil
}

// JoinRoom validates access and subscribes the calling connection to a group.
// Personal rooms are already covered by the user key.
func (s *ChatService) JoinRoom(ctx context.Context, caller Caller, roomID uint64) (*domain.RoomView, error) {
	room, err := s.authorizeRoom(ctx, caller.Actor, roomID, true)
	if err != nil {
		return nil, err
	}
	if room.IsGroup() && caller.ConnID != "" {
		s.router.Subscribe(caller.ConnID, ws.GroupKey(room.ID))
	}
	return s.roomView(ctx, room, caller.Actor)
}

// GetRoom returns one room as seen by the caller
func (s *ChatService) GetRoom(ctx context.Context, caller Caller, roomID uint64) (*domain.RoomView, error) {
	room, err := s.authorizeRoom(ctx, caller.Actor, roomID, false)
	if err != nil {
		return nil, err
	}
	return s.roomView(ctx, room, caller.Actor)
}

// LeaveRoom removes the caller from a group. Leaving a personal room is a no-op.
func (s *ChatService) LeaveRoom(ctx context.Context, caller Caller, roomID uint64) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsGroup() {
		_, err := s.authorizeRoom(ctx, caller.Actor, roomID, false)
		return err
	}
	if _, err := s.rooms.LeaveGroup(ctx, caller.Actor, roomID); err != nil {
		return err
	}

	key := ws.GroupKey(room.ID)
	s.router.UnsubscribeUser(caller.Actor.UserID, key)
	ev := domain.NewEvent(domain.EventMemberLeft, domain.MembershipPayload{
		RoomID:  room.ID,
		UserIDs: []uint64{caller.Actor.UserID},
		ActorID: caller.Actor.UserID,
	})
	s.router.Publish(key, ev, "")
	s.router.Publish(ws.UserKey(caller.Actor.UserID), ev, caller.ConnID)
	return nil
}

// OnlineUsers online users of the caller's tenant, the caller excluded
func (s *ChatService) OnlineUsers(caller Caller) []uint64 {
	return s.presence.OnlineUsersInTenant(caller.Actor.TenantID, caller.Actor.UserID)
}

// ListRooms active rooms of the caller with unread counts and presence
func (s *ChatService) ListRooms(ctx context.Context, caller Caller) ([]*domain.RoomView, error) {
	views, err := s.rooms.ListRoomsForUser(ctx, caller.Actor)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		if v.OtherParticipant != nil {
			v.OtherParticipant.IsOnline = s.presence.IsOnline(v.OtherParticipant.ID)
		}
	}
	return views, nil
}

// ListMessages one page of history. Deactivated rooms stay readable.
func (s *ChatService) ListMessages(ctx context.Context, caller Caller, roomID uint64, before string, limit int) (*domain.MessagePage, error) {
	cursor, err := domain.ParseCursor(before)
	if err != nil {
		return nil, common.Validation(err.Error())
	}
	if _, err := s.authorizeRoom(ctx, caller.Actor, roomID, false); err != nil {
		return nil, err
	}
	return s.messages.ListByRoom(ctx, roomID, cursor, limit)
}

// OpenPersonalRoom returns the personal room with another user, creating it on first contact
func (s *ChatService) OpenPersonalRoom(ctx context.Context, caller Caller, otherUserID uint64) (*domain.RoomView, bool, error) {
	actor := caller.Actor
	if otherUserID == actor.UserID {
		return nil, false, common.Validation("cannot open a personal room with yourself")
	}
	other, err := s.users.FindByID(ctx, otherUserID)
	if err != nil {
		return nil, false, err
	}
	if other.Status != domain.StatusActive {
		return nil, false, common.Forbidden("account is not active")
	}
	if err := checkPersonalPair(actor.Role, other.Role); err != nil {
		return nil, false, err
	}

	tenantID := personalRoomTenant(actor, other)
	otherActor := domain.Actor{UserID: other.ID, TenantID: other.TenantID, Role: other.Role}
	if !canAccessTenant(actor, tenantID) || !canAccessTenant(otherActor, tenantID) {
		return nil, false, common.Forbidden("user belongs to another tenant")
	}

	room, created, err := s.rooms.FindOrCreatePersonalRoom(ctx, tenantID, actor.UserID, other.ID, actor.UserID)
	if err != nil {
		return nil, false, err
	}
	v, err := s.roomView(ctx, room, actor)
	return v, created, err
}

// CreateGroup creates a group and subscribes every member's live connections
func (s *ChatService) CreateGroup(ctx context.Context, caller Caller, name string, memberIDs []uint64) (*domain.RoomView, error) {
	room, err := s.rooms.CreateGroup(ctx, caller.Actor, name, memberIDs)
	if err != nil {
		return nil, err
	}
	key := ws.GroupKey(room.ID)
	for _, uid := range room.ParticipantIDs() {
		s.router.SubscribeUser(uid, key)
	}
	view := room.ToView()
	s.router.Publish(key, domain.NewEvent(domain.EventGroupCreated, domain.MembershipPayload{
		RoomID:  room.ID,
		UserIDs: view.ParticipantIDs,
		ActorID: caller.Actor.UserID,
		Room:    view,
	}), "")
	return view, nil
}

// AddMembers adds users to a group. Existing members hear members-added,
// new members hear added-to-group.
func (s *ChatService) AddMembers(ctx context.Context, caller Caller, roomID uint64, userIDs []uint64) (*domain.RoomView, []uint64, error) {
	room, added, err := s.rooms.AddMembers(ctx, caller.Actor, roomID, userIDs)
	if err != nil {
		return nil, nil, err
	}
	view := room.ToView()
	if len(added) == 0 {
		return view, []uint64{}, nil
	}

	key := ws.GroupKey(room.ID)
	s.router.Publish(key, domain.NewEvent(domain.EventMembersAdded, domain.MembershipPayload{
		RoomID:  room.ID,
		UserIDs: added,
		ActorID: caller.Actor.UserID,
		Room:    view,
	}), "")
	ev := domain.NewEvent(domain.EventAddedToGroup, domain.MembershipPayload{
		RoomID:  room.ID,
		UserIDs: added,
		ActorID: caller.Actor.UserID,
		Room:    view,
	})
	for _, uid := range added {
		s.router.SubscribeUser(uid, key)
		s.router.Publish(ws.UserKey(uid), ev, "")
	}
	return view, added, nil
}

// RemoveMember removes a member from a group
func (s *ChatService) RemoveMember(ctx context.Context, caller Caller, roomID, target uint64) error {
	room, err := s.rooms.RemoveMember(ctx, caller.Actor, roomID, target)
	if err != nil {
		return err
	}
	key := ws.GroupKey(room.ID)
	payload := domain.MembershipPayload{RoomID: room.ID, UserIDs: []uint64{target}, ActorID: caller.Actor.UserID}

	s.router.UnsubscribeUser(target, key)
	s.router.Publish(ws.UserKey(target), domain.NewEvent(domain.EventRemovedFromGroup, payload), "")
	s.router.Publish(key, domain.NewEvent(domain.EventMemberRemoved, payload), "")
	return nil
}

// UpdateGroup changes group name or settings
func (s *ChatService) UpdateGroup(ctx context.Context, caller Caller, roomID uint64, upd domain.GroupMetaUpdate) (*domain.RoomView, error) {
	room, err := s.rooms.UpdateGroupMeta(ctx, caller.Actor, roomID, upd)
	if err != nil {
		return nil, err
	}
	view := room.ToView()
	s.router.Publish(ws.GroupKey(room.ID), domain.NewEvent(domain.EventGroupUpdated, domain.MembershipPayload{
		RoomID:  room.ID,
		ActorID: caller.Actor.UserID,
		Room:    view,
	}), "")
	return view, nil
}

// SetGroupAdmin grants or revokes admin rights inside a group
func (s *ChatService) SetGroupAdmin(ctx context.Context, caller Caller, roomID, target uint64, isAdmin bool) (*domain.RoomView, error) {
	room, err := s.rooms.SetAdmin(ctx, caller.Actor, roomID, target, isAdmin)
	if err != nil {
		return nil, err
	}
	view := room.ToView()
	s.router.Publish(ws.GroupKey(room.ID), domain.NewEvent(domain.EventGroupUpdated, domain.MembershipPayload{
		RoomID:  room.ID,
		UserIDs: []uint64{target},
		ActorID: caller.Actor.UserID,
		Room:    view,
	}), "")
	return view, nil
}

// DeleteGroup deactivates a group and drops its subscriptions
func (s *ChatService) DeleteGroup(ctx context.Context, caller Caller, roomID uint64) error {
	room, err := s.rooms.DeactivateGroup(ctx, caller.Actor, roomID)
	if err != nil {
		return err
	}
	key := ws.GroupKey(room.ID)
	s.router.Publish(key, domain.NewEvent(domain.EventGroupDeleted, domain.MembershipPayload{
		RoomID:  room.ID,
		ActorID: caller.Actor.UserID,
	}), "")
	for _, uid := range room.ParticipantIDs() {
		s.router.UnsubscribeUser(uid, key)
	}
	return nil
}

// DeleteMessage soft-deletes the caller's own message
func (s *ChatService) DeleteMessage(ctx context.Context, caller Caller, messageID uint64) (*domain.MessageView, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	room, err := s.authorizeRoom(ctx, caller.Actor, msg.RoomID, false)
	if err != nil {
		return nil, err
	}
	msg, changed, err := s.messages.SoftDelete(ctx, messageID, caller.Actor.UserID)
	if err != nil {
		return nil, err
	}
	view := msg.ToView()
	if changed {
		s.fanOut(room, caller, domain.NewEvent(domain.EventMessageDeleted, domain.MessageDeletedPayload{
			RoomID:    room.ID,
			MessageID: msg.ID,
			Message:   view,
		}), true)
	}
	return view, nil
}

// Stats live connection and online user counts
func (s *ChatService) Stats() (onlineUsers, connections int) {
	return s.presence.Count()
}

// StatsFor scopes live counts to what the actor may see: tenant-less admins
// get the whole process, everyone else their own tenant. scope is "all" or
// the tenant id.
func (s *ChatService) StatsFor(actor domain.Actor) (onlineUsers, connections int, scope string) {
	if actor.TenantID == "" && actor.Role == domain.RoleAdmin {
		onlineUsers, connections = s.presence.Count()
		return onlineUsers, connections, "all"
	}
	onlineUsers, connections = s.presence.CountInTenant(actor.TenantID)
	return onlineUsers, connections, actor.TenantID
}

// MessageReaders users holding a read receipt for a group message
func (s *ChatService) MessageReaders(ctx context.Context, caller Caller, messageID uint64) ([]uint64, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	room, err := s.authorizeRoom(ctx, caller.Actor, msg.RoomID, false)
	if err != nil {
		return nil, err
	}
	if !room.IsGroup() {
		if msg.IsRead {
			return []uint64{room.OtherParticipant(msg.SenderID)}, nil
		}
		return []uint64{}, nil
	}
	return s.messages.ReadBy(ctx, messageID)
}
