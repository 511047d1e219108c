package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/presence"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/internal/ws"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupChatDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&domain.User{},
		&domain.ChatRoom{},
		&domain.ChatRoomMember{},
		&domain.ChatMessage{},
		&domain.ChatMessageRead{},
		&domain.ChatNotification{},
	))
	return db
}

// recordingConn collects every frame routed to it
type recordingConn struct {
	id     string
	userID uint64
	mu     sync.Mutex
	frames []domain.Event
}

func (c *recordingConn) ID() string     { return c.id }
func (c *recordingConn) UserID() uint64 { return c.userID }
func (c *recordingConn) Enqueue(data []byte) bool {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return false
	}
	c.mu.Lock()
	c.frames = append(c.frames, ev)
	c.mu.Unlock()
	return true
}

func (c *recordingConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []string{}
	for _, ev := range c.frames {
		out = append(out, ev.Type)
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type chatFixture struct {
	db       *gorm.DB
	users    repository.UserRepository
	rooms    *RoomService
	messages *MessageService
	notes    *NotificationService
	notesRep *repository.NotificationRepository
	presence *presence.Registry
	router   *ws.Router
	chat     *ChatService
}

func newChatFixture(t *testing.T, bypass bool) *chatFixture {
	t.Helper()
	db := setupChatDB(t)

	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	noteRepo := repository.NewNotificationRepository(db)

	router := ws.NewRouter()
	reg := presence.New(nil)
	f := &chatFixture{
		db:       db,
		users:    userRepo,
		rooms:    NewRoomService(roomRepo, msgRepo, userRepo, bypass),
		messages: NewMessageService(msgRepo, roomRepo, MessageConfig{}),
		notes:    NewNotificationService(noteRepo, router),
		notesRep: noteRepo,
		presence: reg,
		router:   router,
	}
	f.chat = NewChatService(f.rooms, f.messages, userRepo, reg, router, f.notes)
	t.Cleanup(reg.Close)
	return f
}

func (f *chatFixture) addUser(t *testing.T, id uint64, tenant string, role domain.Role) domain.Actor {
	t.Helper()
	u := &domain.User{ID: id, TenantID: tenant, Role: role, Name: fmt.Sprintf("user-%d", id), Status: domain.StatusActive}
	require.NoError(t, f.db.Create(u).Error)
	return domain.Actor{UserID: id, TenantID: tenant, Role: role, DisplayName: u.Name, AccountStatus: u.Status}
}

func (f *chatFixture) connect(t *testing.T, actor domain.Actor, connID string) *recordingConn {
	t.Helper()
	c := &recordingConn{id: connID, userID: actor.UserID}
	require.NoError(t, f.chat.Connect(context.Background(), c, actor))
	return c
}

func caller(actor domain.Actor, connID string) Caller {
	return Caller{Actor: actor, ConnID: connID}
}

func textPayload(s string) domain.MessagePayload {
	return domain.MessagePayload{Content: s, Kind: domain.KindText}
}
