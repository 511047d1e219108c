package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
	"github.com/go-playground/validator/v10"
)

var commandValidator = validator.New()

type roomRef struct {
	RoomID uint64 `json:"room_id" validate:"required"`
}

type sendMessageCmd struct {
	RoomID       uint64             `json:"room_id" validate:"required"`
	Content      string             `json:"content" validate:"max=10000"`
	Kind         domain.MessageKind `json:"kind" validate:"omitempty,oneof=text image document voice"`
	Attachment   *domain.Attachment `json:"attachment"`
	ReplyToID    *uint64            `json:"reply_to_id" validate:"omitempty,gt=0"`
	ClientTempID string             `json:"client_temp_id" validate:"max=64"`
}

type listMessagesCmd struct {
	RoomID uint64 `json:"room_id" validate:"required"`
	Before string `json:"before"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

type createGroupCmd struct {
	Name      string   `json:"name" validate:"required,max=100"`
	MemberIDs []uint64 `json:"member_ids" validate:"required,min=1,dive,gt=0"`
}

type membersCmd struct {
	RoomID  uint64   `json:"room_id" validate:"required"`
	UserIDs []uint64 `json:"user_ids" validate:"required,min=1,dive,gt=0"`
}

type memberCmd struct {
	RoomID uint64 `json:"room_id" validate:"required"`
	UserID uint64 `json:"user_id" validate:"required"`
}

type setAdminCmd struct {
	RoomID  uint64 `json:"room_id" validate:"required"`
	UserID  uint64 `json:"user_id" validate:"required"`
	IsAdmin *bool  `json:"is_admin" validate:"required"`
}

type updateGroupCmd struct {
	RoomID uint64 `json:"room_id" validate:"required"`
	domain.GroupMetaUpdate
}

type messageRef struct {
	MessageID uint64 `json:"message_id" validate:"required"`
}

type userRef struct {
	UserID uint64 `json:"user_id" validate:"required"`
}

// ChatCommands executes websocket commands against the messaging engine
type ChatCommands struct {
	chat     *service.ChatService
	handlers map[string]commandFunc
}

type commandFunc func(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error)

// NewChatCommands creates the command table
func NewChatCommands(chat *service.ChatService) *ChatCommands {
	h := &ChatCommands{chat: chat}
	h.handlers = map[string]commandFunc{
		"join-room":          h.joinRoom,
		"leave-room":         h.leaveRoom,
		"send-message":       h.sendMessage,
		"typing":             h.typing(true),
		"stop-typing":        h.typing(false),
		"mark-read":          h.markRead,
		"get-online-users":   h.onlineUsers,
		"list-rooms":         h.listRooms,
		"list-messages":      h.listMessages,
		"open-personal-room": h.openPersonalRoom,
		"create-group":       h.createGroup,
		"add-members":        h.addMembers,
		"remove-member":      h.removeMember,
		"set-admin":          h.setAdmin,
		"update-group":       h.updateGroup,
		"delete-group":       h.deleteGroup,
		"delete-message":     h.deleteMessage,
	}
	return h
}

// HandleCommand implements ws.CommandHandler
func (h *ChatCommands) HandleCommand(ctx context.Context, c *ws.Client, cmd ws.Command) (interface{}, error) {
	fn, ok := h.handlers[cmd.Type]
	if !ok {
		return nil, common.Validation("unknown command: " + cmd.Type)
	}
	caller := service.Caller{Actor: c.Actor(), ConnID: c.ID(), RequestID: cmd.RequestID}
	return fn(ctx, caller, cmd.Payload)
}

// Disconnected implements ws.CommandHandler
func (h *ChatCommands) Disconnected(c *ws.Client) {
	h.chat.Disconnect(c.ID())
}

// decodePayload unmarshals and validates a command payload
func decodePayload(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return common.Validation("invalid payload")
	}
	if err := commandValidator.Struct(dst); err != nil {
		return common.Validation(describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (h *ChatCommands) joinRoom(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req roomRef
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.JoinRoom(ctx, caller, req.RoomID)
}

func (h *ChatCommands) leaveRoom(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req roomRef
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := h.chat.LeaveRoom(ctx, caller, req.RoomID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"room_id": req.RoomID, "left": true}, nil
}

func (h *ChatCommands) sendMessage(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req sendMessageCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.SendMessage(ctx, caller, req.RoomID, domain.MessagePayload{
		Content:    req.Content,
		Kind:       req.Kind,
		Attachment: req.Attachment,
		ReplyToID:  req.ReplyToID,
	}, req.ClientTempID)
}

func (h *ChatCommands) typing(active bool) commandFunc {
	return func(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
		var req roomRef
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		if err := h.chat.Typing(ctx, caller, req.RoomID, active); err != nil {
			return nil, err
		}
		return map[string]interface{}{"room_id": req.RoomID}, nil
	}
}

func (h *ChatCommands) markRead(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req roomRef
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	n, err := h.chat.MarkRead(ctx, caller, req.RoomID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"room_id": req.RoomID, "count": n}, nil
}

func (h *ChatCommands) onlineUsers(_ context.Context, caller service.Caller, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"user_ids": h.chat.OnlineUsers(caller)}, nil
}

func (h *ChatCommands) listRooms(ctx context.Context, caller service.Caller, _ json.RawMessage) (interface{}, error) {
	return h.chat.ListRooms(ctx, caller)
}

func (h *ChatCommands) listMessages(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req listMessagesCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.ListMessages(ctx, caller, req.RoomID, req.Before, req.Limit)
}

func (h *ChatCommands) openPersonalRoom(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req userRef
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	room, _, err := h.chat.OpenPersonalRoom(ctx, caller, req.UserID)
	return room, err
}

func (h *ChatCommands) createGroup(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req createGroupCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.CreateGroup(ctx, caller, req.Name, req.MemberIDs)
}

func (h *ChatCommands) addMembers(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req membersCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	room, added, err := h.chat.AddMembers(ctx, caller, req.RoomID, req.UserIDs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"room": room, "added": added}, nil
}

func (h *ChatCommands) removeMember(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req memberCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := h.chat.RemoveMember(ctx, caller, req.RoomID, req.UserID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"room_id": req.RoomID, "user_id": req.UserID}, nil
}

func (h *ChatCommands) setAdmin(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req setAdminCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.SetGroupAdmin(ctx, caller, req.RoomID, req.UserID, *req.IsAdmin)
}

func (h *ChatCommands) updateGroup(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req updateGroupCmd
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.UpdateGroup(ctx, caller, req.RoomID, req.GroupMetaUpdate)
}

func (h *ChatCommands) deleteGroup(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req roomRef
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := h.chat.DeleteGroup(ctx, caller, req.RoomID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"room_id": req.RoomID, "deleted": true}, nil
}

func (h *ChatCommands) deleteMessage(ctx context.Context, caller service.Caller, payload json.RawMessage) (interface{}, error) {
	var req messageRef
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	return h.chat.DeleteMessage(ctx, caller, req.MessageID)
}
