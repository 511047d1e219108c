package service

import (
	"context"
	"testing"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.MessagePayload
		wantErr bool
	}{
		{"plain text", domain.MessagePayload{Content: "hi"}, false},
		{"blank text", domain.MessagePayload{Content: "   ", Kind: domain.KindText}, true},
		{"text with attachment", domain.MessagePayload{Content: "hi", Kind: domain.KindText, Attachment: &domain.Attachment{URL: "https://x/y.png"}}, true},
		{"image without attachment", domain.MessagePayload{Kind: domain.KindImage}, true},
		{"image with attachment", domain.MessagePayload{Kind: domain.KindImage, Attachment: &domain.Attachment{URL: "https://x/y.png"}}, false},
		{"voice with caption", domain.MessagePayload{Content: "listen", Kind: domain.KindVoice, Attachment: &domain.Attachment{URL: "https://x/y.m4a"}}, false},
		{"unknown kind", domain.MessagePayload{Content: "hi", Kind: "sticker"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.payload
			err := ValidatePayload(&p)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, p.Kind)
		})
	}
}

func TestClampLimit(t *testing.T) {
	s := NewMessageService(nil, nil, MessageConfig{})
	assert.Equal(t, DefaultPageSize, s.ClampLimit(0))
	assert.Equal(t, DefaultPageSize, s.ClampLimit(-3))
	assert.Equal(t, 10, s.ClampLimit(10))
	assert.Equal(t, MaxPageSize, s.ClampLimit(1000))
}

func newPersonalRoom(t *testing.T, f *chatFixture, a, b domain.Actor) *domain.ChatRoom {
	t.Helper()
	room, _, err := f.rooms.FindOrCreatePersonalRoom(context.Background(), a.TenantID, a.UserID, b.UserID, a.UserID)
	require.NoError(t, err)
	return room
}

func TestAppend_UpdatesSummaryAndTenant(t *testing.T) {
	f := newChatFixture(t, false)
	ctx := context.Background()
	hr := f.addUser(t, 1, "acme", domain.RoleHR)
	emp := f.addUser(t, 2, "acme", domain.RoleEmployee)
	room := newPersonalRoom(t, f, hr, emp)

	msg, err := f.messages.Append(ctx, room, hr.UserID, textPayload("hello there"))
	require.NoError(t, err)
	assert.Equal(t, "acme", msg.TenantID)
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())

	stored, err := f.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", stored.LastMessage.Content)
	assert.Equal(t, hr.UserID, stored.LastMessage.SenderID)
	require.NotNil(t, stored.LastMessage.At)
}

func TestAppend_ReplyMustStayInRoom(t *testing.T) {
	f := newChatFixture(t, false)
	ctx := context.Background()
	hr := f.addUser(t, 1, "acme", domain.RoleHR)
	emp := f.addUser(t, 2, "acme", domain.RoleEmployee)
	other := f.addUser(t, 3, "acme", domain.RoleEmployee)
	room := newPersonalRoom(t, f, hr, emp)
	elsewhere := newPersonalRoom(t, f, hr, other)

	foreign, err := f.messages.Append(ctx, elsewhere, hr.UserID, textPayload("elsewhere"))
	require.NoError(t, err)
	_, err = f.messages.Append(ctx, room, hr.UserID, domain.MessagePayload{Content: "re", ReplyToID: &foreign.ID})
	assert.ErrorIs(t, err, common.ErrValidation)

	root, err := f.messages.Append(ctx, room, emp.UserID, textPayload("question"))
	require.NoError(t, err)
	reply, err := f.messages.Append(ctx, room, hr.UserID, domain.MessagePayload{Content: "answer", ReplyToID: &root.ID})
	require.NoError(t, err)

	page, err := f.messages.ListByRoom(ctx, room.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	last := page.Messages[1]
	assert.Equal(t, reply.ID, last.ID)
	require.NotNil(t, last.ReplyTo)
	assert.Equal(t, "question", last.ReplyTo.Content)
}

func TestListByRoom_CursorPaging(t *testing.T) {
	f := newChatFixture(t, false)
	ctx := context.Background()
	hr := f.addUser(t, 1, "acme", domain.RoleHR)
	emp := f.addUser(t, 2, "acme", domain.RoleEmployee)
	room := newPersonalRoom(t, f, hr, emp)

	var ids []uint64
	for i := 0; i < 5; i++ {
		m, err := f.messages.Append(ctx, room, hr.UserID, textPayload("m"))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page, err := f.messages.ListByRoom(ctx, room.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[3], page.Messages[0].ID)
	assert.Equal(t, ids[4], page.Messages[1].ID)

	cursor, err := domain.ParseCursor(page.NextCursor)
	require.NoError(t, err)
	page, err = f.messages.ListByRoom(ctx, room.ID, cursor, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[1], page.Messages[0].ID)
	assert.Equal(t, ids[2], page.Messages[1].ID)

	cursor, err = domain.ParseCursor(page.NextCursor)
	require.NoError(t, err)
	page, err = f.messages.ListByRoom(ctx, room.ID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, ids[0], page.Messages[0].ID)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newChatFixture(t, false)
	ctx := context.Background()
	hr := f.addUser(t, 1, "acme", domain.RoleHR)
	emp := f.addUser(t, 2, "acme", domain.RoleEmployee)
	emp2 := f.addUser(t, 3, "acme", domain.RoleEmployee)

	personal := newPersonalRoom(t, f, hr, emp)
	for i := 0; i < 3; i++ {
		_, err := f.messages.Append(ctx, personal, hr.UserID, textPayload("ping"))
		require.NoError(t, err)
	}
	_, err := f.messages.Append(ctx, personal, emp.UserID, textPayload("pong"))
	require.NoError(t, err)

	n, err := f.messages.MarkRead(ctx, personal, emp.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = f.messages.MarkRead(ctx, personal, emp.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	group, err := f.rooms.CreateGroup(ctx, hr, "Team", []uint64{2, 3})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.messages.Append(ctx, group, hr.UserID, textPayload("news"))
		require.NoError(t, err)
	}
	unread, err := f.rooms.UnreadCount(ctx, group, emp.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	n, err = f.messages.MarkRead(ctx, group, emp.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = f.messages.MarkRead(ctx, group, emp.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	unread, err = f.rooms.UnreadCount(ctx, group, emp.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
	unread, err = f.rooms.UnreadCount(ctx, group, emp2.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)
}

func TestGroupUnread_StartsAtJoin(t *testing.T) {
	f := newChatFixture(t, false)
	ctx := context.Background()
	hr := f.addUser(t, 1, "acme", domain.RoleHR)
	f.addUser(t, 2, "acme", domain.RoleEmployee)
	late := f.addUser(t, 3, "acme", domain.RoleEmployee)

	group, err := f.rooms.CreateGroup(ctx, hr, "Team", []uint64{2})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.messages.Append(ctx, group, hr.UserID, textPayload("before"))
		require.NoError(t, err)
	}

	time.Sleep(5 * time.Millisecond)
	group, _, err = f.rooms.AddMembers(ctx, hr, group.ID, []uint64{late.UserID})
	require.NoError(t, err)

	unread, err := f.rooms.UnreadCount(ctx, group, late.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)

	time.Sleep(5 * time.Millisecond)
	_, err = f.messages.Append(ctx, group, hr.UserID, textPayload("after"))
	require.NoError(t, err)

	unread, err = f.rooms.UnreadCount(ctx, group, late.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	n, err := f.messages.MarkRead(ctx, group, late.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread, err = f.rooms.UnreadCount(ctx, group, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)
}

func TestSoftDelete(t *testing.T) {
	f := newChatFixture(t, false)
	ctx := context.Background()
	hr := f.addUser(t, 1, "acme", domain.RoleHR)
	emp := f.addUser(t, 2, "acme", domain.RoleEmployee)
	room := newPersonalRoom(t, f, hr, emp)

	keep, err := f.messages.Append(ctx, room, hr.UserID, textPayload("keep"))
	require.NoError(t, err)
	img, err := f.messages.Append(ctx, room, hr.UserID, domain.MessagePayload{
		Kind:       domain.KindImage,
		Attachment: &domain.Attachment{URL: "https://cdn/x.png", Filename: "x.png", Size: 10},
	})
	require.NoError(t, err)

	_, _, err = f.messages.SoftDelete(ctx, img.ID, emp.UserID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	deleted, changed, err := f.messages.SoftDelete(ctx, img.ID, hr.UserID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, DefaultTombstone, deleted.Content)
	assert.True(t, deleted.Attachment.IsZero())
	require.NotNil(t, deleted.DeletedAt)

	again, changed, err := f.messages.SoftDelete(ctx, img.ID, hr.UserID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, again.IsDeleted)

	page, err := f.messages.ListByRoom(ctx, room.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, keep.ID, page.Messages[0].ID)
}
