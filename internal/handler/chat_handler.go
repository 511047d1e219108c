package handler

import (
	"net/http"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// OpenPersonalRoomRequest body of POST /rooms/personal
type OpenPersonalRoomRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

// SendMessageRequest body of POST /rooms/:id/messages
type SendMessageRequest struct {
	Content      string             `json:"content" binding:"max=10000"`
	Kind         domain.MessageKind `json:"kind"`
	Attachment   *domain.Attachment `json:"attachment"`
	ReplyToID    *uint64            `json:"reply_to_id"`
	ClientTempID string             `json:"client_temp_id" binding:"max=64"`
}

// CreateGroupRequest body of POST /groups
type CreateGroupRequest struct {
	Name      string   `json:"name" binding:"required,max=100"`
	MemberIDs []uint64 `json:"member_ids" binding:"required,min=1"`
}

// AddMembersRequest body of POST /groups/:id/members
type AddMembersRequest struct {
	UserIDs []uint64 `json:"user_ids" binding:"required,min=1"`
}

// SetAdminRequest body of PUT /groups/:id/admins/:userId
type SetAdminRequest struct {
	IsAdmin *bool `json:"is_admin" binding:"required"`
}

// ChatHandler exposes the REST mirror of the chat commands
type ChatHandler struct {
	chat *service.ChatService
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func restCaller(c *gin.Context) (service.Caller, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required", nil)
		return service.Caller{}, false
	}
	requestID, _ := c.Get("request_id")
	rid, _ := requestID.(string)
	return service.Caller{Actor: actor, RequestID: rid}, true
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := ginutil.ParamUint64(c, name)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

// ListRooms handles GET /api/v1/chat/rooms
// @Summary List my chat rooms
// @Tags chat
// @Produce json
// @Success 200 {object} common.APIResponse{data=[]domain.RoomView}
// @Router /api/v1/chat/rooms [get]
func (h *ChatHandler) ListRooms(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	rooms, err := h.chat.ListRooms(c.Request.Context(), caller)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, rooms, &common.Meta{Total: int64(len(rooms))})
}

// OpenPersonalRoom handles POST /api/v1/chat/rooms/personal
// @Summary Open (or create) the personal room with a user
// @Tags chat
// @Accept json
// @Produce json
// @Param request body OpenPersonalRoomRequest true "counterpart"
// @Success 200 {object} common.APIResponse{data=domain.RoomView}
// @Success 201 {object} common.APIResponse{data=domain.RoomView}
// @Router /api/v1/chat/rooms/personal [post]
func (h *ChatHandler) OpenPersonalRoom(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	var req OpenPersonalRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	room, created, err := h.chat.OpenPersonalRoom(c.Request.Context(), caller, req.UserID)
	if err != nil {
		common.FromError(c, err)
		return
	}
	if created {
		common.CreatedResponse(c, room)
		return
	}
	common.SuccessResponse(c, room, nil)
}

// GetRoom handles GET /api/v1/chat/rooms/:id
// @Summary Get a room
// @Tags chat
// @Produce json
// @Param id path int true "room id"
// @Success 200 {object} common.APIResponse{data=domain.RoomView}
// @Router /api/v1/chat/rooms/{id} [get]
func (h *ChatHandler) GetRoom(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	room, err := h.chat.GetRoom(c.Request.Context(), caller, roomID)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, room, nil)
}

// ListMessages handles GET /api/v1/chat/rooms/:id/messages
// @Summary Page through room history, newest page first
// @Tags chat
// @Produce json
// @Param id path int true "room id"
// @Param before query string false "cursor from meta.next_cursor"
// @Param limit query int false "page size"
// @Success 200 {object} common.APIResponse{data=[]domain.MessageView}
// @Router /api/v1/chat/rooms/{id}/messages [get]
func (h *ChatHandler) ListMessages(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	limit := ginutil.QueryInt(c, "limit", 0)

	page, err := h.chat.ListMessages(c.Request.Context(), caller, roomID, c.Query("before"), limit)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, page.Messages, &common.Meta{
		RoomID:     roomID,
		Limit:      len(page.Messages),
		NextCursor: page.NextCursor,
	})
}

// SendMessage handles POST /api/v1/chat/rooms/:id/messages
// @Summary Send a message
// @Tags chat
// @Accept json
// @Produce json
// @Param id path int true "room id"
// @Param request body SendMessageRequest true "message"
// @Success 201 {object} common.APIResponse{data=domain.MessageView}
// @Router /api/v1/chat/rooms/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	msg, err := h.chat.SendMessage(c.Request.Context(), caller, roomID, domain.MessagePayload{
		Content:    req.Content,
		Kind:       req.Kind,
		Attachment: req.Attachment,
		ReplyToID:  req.ReplyToID,
	}, req.ClientTempID)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.CreatedResponse(c, msg)
}

// MarkRead handles POST /api/v1/chat/rooms/:id/read
// @Summary Mark every message of a room as read
// @Tags chat
// @Produce json
// @Param id path int true "room id"
// @Router /api/v1/chat/rooms/{id}/read [post]
func (h *ChatHandler) MarkRead(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	n, err := h.chat.MarkRead(c.Request.Context(), caller, roomID)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"room_id": roomID, "count": n}, nil)
}

// OnlineUsers handles GET /api/v1/chat/online-users
// @Summary Online users of my tenant
// @Tags chat
// @Produce json
// @Router /api/v1/chat/online-users [get]
func (h *ChatHandler) OnlineUsers(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	common.SuccessResponse(c, gin.H{"user_ids": h.chat.OnlineUsers(caller)}, nil)
}

// CreateGroup handles POST /api/v1/chat/groups
// @Summary Create a group (admin or hr)
// @Tags chat
// @Accept json
// @Produce json
// @Param request body CreateGroupRequest true "group"
// @Success 201 {object} common.APIResponse{data=domain.RoomView}
// @Router /api/v1/chat/groups [post]
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	room, err := h.chat.CreateGroup(c.Request.Context(), caller, req.Name, req.MemberIDs)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.CreatedResponse(c, room)
}

// UpdateGroup handles PATCH /api/v1/chat/groups/:id
// @Summary Rename a group or change its settings
// @Tags chat
// @Accept json
// @Produce json
// @Param id path int true "room id"
// @Param request body domain.GroupMetaUpdate true "changes"
// @Success 200 {object} common.APIResponse{data=domain.RoomView}
// @Router /api/v1/chat/groups/{id} [patch]
func (h *ChatHandler) UpdateGroup(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req domain.GroupMetaUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	room, err := h.chat.UpdateGroup(c.Request.Context(), caller, roomID, req)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, room, nil)
}

// DeleteGroup handles DELETE /api/v1/chat/groups/:id
// @Summary Deactivate a group; history stays readable
// @Tags chat
// @Param id path int true "room id"
// @Router /api/v1/chat/groups/{id} [delete]
func (h *ChatHandler) DeleteGroup(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.chat.DeleteGroup(c.Request.Context(), caller, roomID); err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"room_id": roomID, "deleted": true}, nil)
}

// AddMembers handles POST /api/v1/chat/groups/:id/members
// @Summary Add members to a group
// @Tags chat
// @Accept json
// @Produce json
// @Param id path int true "room id"
// @Param request body AddMembersRequest true "user ids"
// @Router /api/v1/chat/groups/{id}/members [post]
func (h *ChatHandler) AddMembers(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	room, added, err := h.chat.AddMembers(c.Request.Context(), caller, roomID, req.UserIDs)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"room": room, "added": added}, nil)
}

// RemoveMember handles DELETE /api/v1/chat/groups/:id/members/:userId
// @Summary Remove a member from a group
// @Tags chat
// @Param id path int true "room id"
// @Param userId path int true "user id"
// @Router /api/v1/chat/groups/{id}/members/{userId} [delete]
func (h *ChatHandler) RemoveMember(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	if err := h.chat.RemoveMember(c.Request.Context(), caller, roomID, userID); err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"room_id": roomID, "user_id": userID}, nil)
}

// SetAdmin handles PUT /api/v1/chat/groups/:id/admins/:userId
// @Summary Grant or revoke group admin
// @Tags chat
// @Accept json
// @Param id path int true "room id"
// @Param userId path int true "user id"
// @Param request body SetAdminRequest true "flag"
// @Router /api/v1/chat/groups/{id}/admins/{userId} [put]
func (h *ChatHandler) SetAdmin(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	var req SetAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	room, err := h.chat.SetGroupAdmin(c.Request.Context(), caller, roomID, userID, *req.IsAdmin)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, room, nil)
}

// LeaveGroup handles POST /api/v1/chat/groups/:id/leave
// @Summary Leave a group
// @Tags chat
// @Param id path int true "room id"
// @Router /api/v1/chat/groups/{id}/leave [post]
func (h *ChatHandler) LeaveGroup(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.chat.LeaveRoom(c.Request.Context(), caller, roomID); err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"room_id": roomID, "left": true}, nil)
}

// DeleteMessage handles DELETE /api/v1/chat/messages/:id
// @Summary Delete my message (tombstone)
// @Tags chat
// @Produce json
// @Param id path int true "message id"
// @Success 200 {object} common.APIResponse{data=domain.MessageView}
// @Router /api/v1/chat/messages/{id} [delete]
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	msgID, ok := parseID(c, "id")
	if !ok {
		return
	}
	msg, err := h.chat.DeleteMessage(c.Request.Context(), caller, msgID)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.SuccessResponse(c, msg, nil)
}

// Stats handles GET /api/v1/chat/admin/stats
// @Summary Live connection statistics (admin or hr, scoped to the caller's tenant)
// @Tags chat
// @Produce json
// @Router /api/v1/chat/admin/stats [get]
func (h *ChatHandler) Stats(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	users, conns, scope := h.chat.StatsFor(actor)
	common.SuccessResponse(c, gin.H{"scope": scope, "online_users": users, "connections": conns}, nil)
}

// MessageReaders handles GET /api/v1/chat/messages/:id/readers
// @Summary Who has read a message
// @Tags chat
// @Produce json
// @Param id path int true "message id"
// @Router /api/v1/chat/messages/{id}/readers [get]
func (h *ChatHandler) MessageReaders(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	msgID, ok := parseID(c, "id")
	if !ok {
		return
	}
	readers, err := h.chat.MessageReaders(c.Request.Context(), caller, msgID)
	if err != nil {
		common.FromError(c, err)
		return
	}
	if readers == nil {
		readers = []uint64{}
	}
	common.SuccessResponse(c, gin.H{"message_id": msgID, "user_ids": readers}, nil)
}
