package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
)

const (
	DefaultPageSize   = 50
	MaxPageSize       = 100
	DefaultTombstone  = "This message was deleted"
	maxContentLength  = 10000
	summaryPreviewLen = 100
)

// MessageConfig paging and tombstone settings
type MessageConfig struct {
	PageSize    int
	MaxPageSize int
	Tombstone   string
}

// MessageService appends, pages, marks read and soft-deletes messages
type MessageService struct {
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	cfg      MessageConfig
}

// NewMessageService creates a new MessageService
func NewMessageService(messages repository.MessageRepository, rooms repository.RoomRepository, cfg MessageConfig) *MessageService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = MaxPageSize
	}
	if cfg.Tombstone == "" {
		cfg.Tombstone = DefaultTombstone
	}
	return &MessageService{messages: messages, rooms: rooms, cfg: cfg}
}

// ValidatePayload enforces the text/attachment contract. An empty kind means text.
func ValidatePayload(p *domain.MessagePayload) error {
	if p.Kind == "" {
		p.Kind = domain.KindText
	}
	if !p.Kind.Valid() {
		return common.Validation("unknown message kind")
	}
	p.Content = strings.TrimSpace(p.Content)
	if utf8.RuneCountInString(p.Content) > maxContentLength {
		return common.Validation("message is too long")
	}

	if p.Kind == domain.KindText {
		if p.Content == "" {
			return common.Validation("message content is required")
		}
		if p.Attachment != nil && !p.Attachment.IsZero() {
			return common.Validation("text messages cannot carry an attachment")
		}
		p.Attachment = nil
		return nil
	}

	if p.Attachment == nil || strings.TrimSpace(p.Attachment.URL) == "" {
		return common.Validation("attachment url is required for " + string(p.Kind) + " messages")
	}
	if p.Attachment.Size < 0 {
		return common.Validation("attachment size cannot be negative")
	}
	if p.Attachment.DurationSecs != nil && *p.Attachment.DurationSecs < 0 {
		return common.Validation("voice duration cannot be negative")
	}
	return nil
}

// Append persists a message with the room's tenant, then refreshes the room
// summary. The two writes are not atomic: a failed summary update is logged
// and leaves a stale preview.
func (s *MessageService) Append(ctx context.Context, room *domain.ChatRoom, senderID uint64, p domain.MessagePayload) (*domain.ChatMessage, error) {
	if err := ValidatePayload(&p); err != nil {
		return nil, err
	}

	if p.ReplyToID != nil {
		target, err := s.messages.FindByID(ctx, *p.ReplyToID)
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.Validation("reply target not found")
		}
		if err != nil {
			return nil, err
		}
		if target.RoomID != room.ID {
			return nil, common.Validation("reply target belongs to another room")
		}
	}

	msg := &domain.ChatMessage{
		RoomID:    room.ID,
		SenderID:  senderID,
		TenantID:  room.TenantID,
		Content:   p.Content,
		Kind:      p.Kind,
		ReplyToID: p.ReplyToID,
	}
	if p.Attachment != nil {
		msg.Attachment = *p.Attachment
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	at := msg.CreatedAt
	summary := domain.MessageSummary{
		Content:  summarize(msg),
		SenderID: senderID,
		Kind:     msg.Kind,
		At:       &at,
	}
	if err := s.rooms.UpdateLastMessage(ctx, room.ID, summary); err != nil {
		pkglogger.GetLogger().Warn().Err(err).
			Uint64("room_id", room.ID).
			Uint64("message_id", msg.ID).
			Msg("room summary update failed, preview is stale")
	} else {
		room.LastMessage = summary
	}
	return msg, nil
}

func summarize(m *domain.ChatMessage) string {
	content := m.Content
	if content == "" && m.Kind != domain.KindText {
		content = m.Attachment.Filename
		if content == "" {
			content = "[" + string(m.Kind) + "]"
		}
	}
	if utf8.RuneCountInString(content) > summaryPreviewLen {
		runes := []rune(content)
		content = string(runes[:summaryPreviewLen]) + "…"
	}
	return content
}

// ClampLimit applies the default page size and the upper bound
func (s *MessageService) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.PageSize
	}
	if limit > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return limit
}

// ListByRoom returns one page of history in chronological order. NextCursor
// points at the oldest returned message when older ones exist.
func (s *MessageService) ListByRoom(ctx context.Context, roomID uint64, before *domain.MessageCursor, limit int) (*domain.MessagePage, error) {
	limit = s.ClampLimit(limit)

	rows, err := s.messages.ListByRoom(ctx, roomID, before, limit+1)
	if err != nil {
		return nil, err
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	// rows are newest first
	views := make([]*domain.MessageView, len(rows))
	var replyIDs []uint64
	for i, m := range rows {
		views[len(rows)-1-i] = m.ToView()
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	if len(replyIDs) > 0 {
		targets, err := s.messages.FindByIDs(ctx, replyIDs)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			if v.ReplyToID == nil {
				continue
			}
			if t, ok := targets[*v.ReplyToID]; ok {
				v.ReplyTo = t.Preview()
			}
		}
	}

	page := &domain.MessagePage{Messages: views, HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		page.NextCursor = domain.CursorOf(rows[len(rows)-1]).Encode()
	}
	return page, nil
}

// ResolveReply loads the one-level reply preview of a single message
func (s *MessageService) ResolveReply(ctx context.Context, v *domain.MessageView) {
	if v.ReplyToID == nil {
		return
	}
	if t, err := s.messages.FindByID(ctx, *v.ReplyToID); err == nil {
		v.ReplyTo = t.Preview()
	}
}

// MarkRead marks every message of the room not sent by reader as read and
// returns how many changed. A second call returns 0.
func (s *MessageService) MarkRead(ctx context.Context, room *domain.ChatRoom, readerID uint64) (int64, error) {
	now := time.Now().UTC()
	if room.IsGroup() {
		return s.messages.MarkGroupRead(ctx, room.ID, readerID, now)
	}
	return s.messages.MarkPersonalRead(ctx, room.ID, readerID, now)
}

// SoftDelete tombstones a message. Only the sender may delete; deleting an
// already deleted message returns it unchanged with changed=false.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, requesterID uint64) (*domain.ChatMessage, bool, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg.SenderID != requesterID {
		return nil, false, common.Forbidden("only the sender can delete this message")
	}
	if msg.IsDeleted {
		return msg, false, nil
	}

	changed, err := s.messages.SoftDelete(ctx, messageID, s.cfg.Tombstone, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	msg, err = s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

// GetMessage loads one message
func (s *MessageService) GetMessage(ctx context.Context, messageID uint64) (*domain.ChatMessage, error) {
	return s.messages.FindByID(ctx, messageID)
}

// ReadBy users holding a read receipt for a group message
func (s *MessageService) ReadBy(ctx context.Context, messageID uint64) ([]uint64, error) {
	return s.messages.ReadersOf(ctx, messageID)
}
