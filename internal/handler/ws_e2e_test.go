package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/handler"
	"github.com/damoang/angple-chat/internal/migration"
	"github.com/damoang/angple-chat/internal/presence"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/internal/routes"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
	"github.com/damoang/angple-chat/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type chatServer struct {
	srv    *httptest.Server
	tokens *jwt.Manager
	chat   *service.ChatService
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.RunDev(db))

	users := repository.NewUserRepository(db)
	rooms := repository.NewRoomRepository(db)
	messages := repository.NewMessageRepository(db)
	router := ws.NewRouter()
	reg := presence.New(nil)

	roomService := service.NewRoomService(rooms, messages, users, false)
	messageService := service.NewMessageService(messages, rooms, service.MessageConfig{PageSize: 50, MaxPageSize: 100, Tombstone: "deleted"})
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), router)
	chat := service.NewChatService(roomService, messageService, users, reg, router, notifications)
	tokens := jwt.NewManager("test-secret", 900, 3600)

	engine := gin.New()
	routes.Setup(
		engine,
		handler.NewChatHandler(chat),
		handler.NewNotificationHandler(notifications),
		handler.NewAttachmentHandler(service.NewAttachmentService(nil, 1), chat),
		handler.NewWSHandler(chat, ws.ClientOptions{SendBuffer: 64}, ""),
		service.NewIdentityService(tokens, users),
		nil,
	)
	srv := httptest.NewServer(engine)

	t.Cleanup(func() {
		srv.Close()
		router.CloseAll()
		reg.Close()
		sqlDB.Close()
	})
	return &chatServer{srv: srv, tokens: tokens, chat: chat}
}

func (s *chatServer) token(t *testing.T, userID uint64) string {
	t.Helper()
	tok, err := s.tokens.GenerateAccessToken(userID, "", "", "")
	require.NoError(t, err)
	return tok
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"payload"`
	Error     *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func (s *chatServer) dial(t *testing.T, userID uint64) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/chat?token=" + s.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &wsClient{t: t, conn: conn}
	// commands are only read once the connection is registered
	require.Equal(t, "response", c.call("get-online-users", nil).Type)
	return c
}

func (c *wsClient) send(cmdType string, payload interface{}) string {
	c.t.Helper()
	c.seq++
	id := fmt.Sprintf("r%d", c.seq)
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(ws.Command{Type: cmdType, RequestID: id, Payload: raw}))
	return id
}

// await reads frames until one matches, skipping unrelated pushes
func (c *wsClient) await(match func(frame) bool) frame {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func (c *wsClient) call(cmdType string, payload interface{}) frame {
	c.t.Helper()
	id := c.send(cmdType, payload)
	return c.await(func(f frame) bool {
		return f.RequestID == id && (f.Type == "response" || f.Type == "error")
	})
}

func ofType(eventType string) func(frame) bool {
	return func(f frame) bool { return f.Type == eventType }
}

func TestWS_RejectsMissingToken(t *testing.T) {
	s := newChatServer(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWS_PersonalConversation(t *testing.T) {
	s := newChatServer(t)
	hr := s.dial(t, 2)
	emp := s.dial(t, 3)

	// hr sees the employee come online
	online := hr.await(ofType(domain.EventUserOnline))
	var presencePayload domain.PresencePayload
	require.NoError(t, json.Unmarshal(online.Payload, &presencePayload))
	assert.Equal(t, uint64(3), presencePayload.UserID)

	opened := hr.call("open-personal-room", map[string]interface{}{"user_id": 3})
	require.Equal(t, "response", opened.Type)
	var room domain.RoomView
	require.NoError(t, json.Unmarshal(opened.Data, &room))
	assert.Equal(t, domain.RoomPersonal, room.Kind)
	require.NotNil(t, room.OtherParticipant)
	assert.True(t, room.OtherParticipant.IsOnline)

	sendID := hr.send("send-message", map[string]interface{}{
		"room_id":        room.ID,
		"content":        "hello",
		"client_temp_id": "tmp-1",
	})
	ack := hr.await(ofType(domain.EventMessageSent))
	var sent domain.MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))
	assert.Equal(t, "tmp-1", sent.ClientTempID)
	hr.await(func(f frame) bool { return f.RequestID == sendID && f.Type == "response" })

	incoming := emp.await(ofType(domain.EventNewMessage))
	var msg domain.MessageView
	require.NoError(t, json.Unmarshal(incoming.Payload, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, uint64(2), msg.SenderID)

	typing := emp.call("typing", map[string]interface{}{"room_id": room.ID})
	assert.Equal(t, "response", typing.Type)
	hr.await(ofType(domain.EventUserTyping))

	read := emp.call("mark-read", map[string]interface{}{"room_id": room.ID})
	require.Equal(t, "response", read.Type)
	receipt := hr.await(ofType(domain.EventMessagesRead))
	var rp domain.ReadPayload
	require.NoError(t, json.Unmarshal(receipt.Payload, &rp))
	assert.Equal(t, int64(1), rp.Count)
	assert.Equal(t, uint64(3), rp.UserID)
}

func TestWS_ErrorsCarryCodes(t *testing.T) {
	s := newChatServer(t)
	client := s.dial(t, 4)

	unknown := client.call("teleport", nil)
	require.Equal(t, "error", unknown.Type)
	assert.Equal(t, "VALIDATION_FAILED", unknown.Error.Code)

	missing := client.call("send-message", map[string]interface{}{"content": "x"})
	require.Equal(t, "error", missing.Type)
	assert.Equal(t, "VALIDATION_FAILED", missing.Error.Code)

	// clients may not open rooms with employees
	denied := client.call("open-personal-room", map[string]interface{}{"user_id": 3})
	require.Equal(t, "error", denied.Type)
	assert.Equal(t, "FORBIDDEN", denied.Error.Code)
}

func TestWS_GroupLifecycle(t *testing.T) {
	s := newChatServer(t)
	hr := s.dial(t, 2)
	emp := s.dial(t, 3)

	created := hr.call("create-group", map[string]interface{}{"name": "Onboarding", "member_ids": []uint64{3}})
	require.Equal(t, "response", created.Type)
	var group domain.RoomView
	require.NoError(t, json.Unmarshal(created.Data, &group))
	emp.await(ofType(domain.EventGroupCreated))

	emp.call("send-message", map[string]interface{}{"room_id": group.ID, "content": "hi all"})
	hr.await(ofType(domain.EventNewMessage))

	removed := hr.call("remove-member", map[string]interface{}{"room_id": group.ID, "user_id": 3})
	require.Equal(t, "response", removed.Type)
	emp.await(ofType(domain.EventRemovedFromGroup))

	after := emp.call("send-message", map[string]interface{}{"room_id": group.ID, "content": "still here?"})
	require.Equal(t, "error", after.Type)
	assert.Equal(t, "FORBIDDEN", after.Error.Code)

	users, conns := s.chat.Stats()
	assert.Equal(t, 2, users)
	assert.Equal(t, 2, conns)
}
