package domain

// Push event types
const (
	EventNewMessage        = "new-message"
	EventMessageSent       = "message-sent"
	EventMessagesRead      = "messages-read"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventGroupCreated      = "group-created"
	EventAddedToGroup      = "added-to-group"
	EventRemovedFromGroup  = "removed-from-group"
	EventMembersAdded      = "members-added"
	EventMemberRemoved     = "member-removed"
	EventMemberLeft        = "member-left"
	EventGroupUpdated      = "group-updated"
	EventGroupDeleted      = "group-deleted"
	EventMessageDeleted    = "message-deleted"
	EventNotification      = "notification"
)

// Event server to client push frame
type Event struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event
func NewEvent(eventType string, payload interface{}) Event {
	return Event{Type: eventType, Payload: payload}
}

// TypingPayload user-typing / user-stopped-typing
type TypingPayload struct {
	RoomID   uint64 `json:"room_id"`
	UserID   uint64 `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// PresencePayload user-online / user-offline
type PresencePayload struct {
	UserID   uint64 `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
}

// ReadPayload messages-read
type ReadPayload struct {
	RoomID uint64 `json:"room_id"`
	UserID uint64 `json:"user_id"`
	Count  int64  `json:"count"`
}

// MessageSentPayload ack returned to the sending connection
type MessageSentPayload struct {
	ClientTempID string       `json:"client_temp_id,omitempty"`
	Message      *MessageView `json:"message"`
}

// MembershipPayload group membership changes
type MembershipPayload struct {
	RoomID  uint64    `json:"room_id"`
	UserIDs []uint64  `json:"user_ids,omitempty"`
	ActorID uint64    `json:"actor_id"`
	Room    *RoomView `json:"room,omitempty"`
}

// MessageDeletedPayload message-deleted
type MessageDeletedPayload struct {
	RoomID    uint64       `json:"room_id"`
	MessageID uint64       `json:"message_id"`
	Message   *MessageView `json:"message"`
}
