package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/stretchr/testify/suite"
)

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type ChatRESTSuite struct {
	suite.Suite
	server *chatServer
}

func TestChatREST(t *testing.T) {
	suite.Run(t, new(ChatRESTSuite))
}

func (s *ChatRESTSuite) SetupTest() {
	s.server = newChatServer(s.T())
}

func (s *ChatRESTSuite) do(method, path string, userID uint64, body interface{}) (int, apiResponse) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.srv.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+s.server.token(s.T(), userID))
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out apiResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *ChatRESTSuite) openRoom(userID, other uint64) domain.RoomView {
	code, res := s.do(http.MethodPost, "/api/v1/chat/rooms/personal", userID, map[string]any{"user_id": other})
	s.Require().Contains([]int{http.StatusOK, http.StatusCreated}, code)
	var room domain.RoomView
	s.Require().NoError(json.Unmarshal(res.Data, &room))
	return room
}

func (s *ChatRESTSuite) TestRequiresToken() {
	code, res := s.do(http.MethodGet, "/api/v1/chat/rooms", 0, nil)
	s.Equal(http.StatusUnauthorized, code)
	s.Require().NotNil(res.Error)
}

func (s *ChatRESTSuite) TestOpenPersonalRoomIsIdempotent() {
	code, res := s.do(http.MethodPost, "/api/v1/chat/rooms/personal", 2, map[string]any{"user_id": 3})
	s.Equal(http.StatusCreated, code)
	var first domain.RoomView
	s.Require().NoError(json.Unmarshal(res.Data, &first))

	code, res = s.do(http.MethodPost, "/api/v1/chat/rooms/personal", 3, map[string]any{"user_id": 2})
	s.Equal(http.StatusOK, code)
	var second domain.RoomView
	s.Require().NoError(json.Unmarshal(res.Data, &second))
	s.Equal(first.ID, second.ID)
	s.Equal("acme", second.TenantID)
}

func (s *ChatRESTSuite) TestCrossTenantIsForbidden() {
	code, res := s.do(http.MethodPost, "/api/v1/chat/rooms/personal", 2, map[string]any{"user_id": 6})
	s.Equal(http.StatusForbidden, code)
	s.Require().NotNil(res.Error)
}

func (s *ChatRESTSuite) TestHistoryPaging() {
	room := s.openRoom(2, 3)
	for i := 0; i < 3; i++ {
		code, _ := s.do(http.MethodPost, fmt.Sprintf("/api/v1/chat/rooms/%d/messages", room.ID), 2, map[string]any{"content": fmt.Sprintf("m%d", i)})
		s.Require().Equal(http.StatusCreated, code)
	}

	code, res := s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/rooms/%d/messages?limit=2", room.ID), 3, nil)
	s.Require().Equal(http.StatusOK, code)
	var page []domain.MessageView
	s.Require().NoError(json.Unmarshal(res.Data, &page))
	s.Require().Len(page, 2)
	s.Equal("m1", page[0].Content)
	s.Equal("m2", page[1].Content)
	cursor, _ := res.Meta["next_cursor"].(string)
	s.Require().NotEmpty(cursor)

	code, res = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/rooms/%d/messages?limit=2&before=%s", room.ID, cursor), 3, nil)
	s.Require().Equal(http.StatusOK, code)
	s.Require().NoError(json.Unmarshal(res.Data, &page))
	s.Require().Len(page, 1)
	s.Equal("m0", page[0].Content)

	code, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/rooms/%d/messages?before=garbage", room.ID), 3, nil)
	s.Equal(http.StatusBadRequest, code)
}

func (s *ChatRESTSuite) TestOfflineRecipientGetsNotification() {
	room := s.openRoom(2, 3)
	code, _ := s.do(http.MethodPost, fmt.Sprintf("/api/v1/chat/rooms/%d/messages", room.ID), 2, map[string]any{"content": "payslip ready"})
	s.Require().Equal(http.StatusCreated, code)

	code, res := s.do(http.MethodGet, "/api/v1/chat/notifications/unread-count", 3, nil)
	s.Require().Equal(http.StatusOK, code)
	var count struct {
		UnreadCount int64 `json:"unread_count"`
	}
	s.Require().NoError(json.Unmarshal(res.Data, &count))
	s.Equal(int64(1), count.UnreadCount)

	code, _ = s.do(http.MethodPost, "/api/v1/chat/notifications/read-all", 3, nil)
	s.Equal(http.StatusOK, code)

	code, res = s.do(http.MethodPost, fmt.Sprintf("/api/v1/chat/rooms/%d/read", room.ID), 3, nil)
	s.Equal(http.StatusOK, code)
}

func (s *ChatRESTSuite) TestGroupManagement() {
	code, res := s.do(http.MethodPost, "/api/v1/chat/groups", 2, map[string]any{"name": "Payroll", "member_ids": []uint64{3, 4}})
	s.Require().Equal(http.StatusCreated, code)
	var group domain.RoomView
	s.Require().NoError(json.Unmarshal(res.Data, &group))
	s.Equal([]uint64{2}, group.AdminIDs)

	// employees cannot manage groups
	code, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/chat/groups/%d", group.ID), 3, map[string]any{"name": "Hijacked"})
	s.Equal(http.StatusForbidden, code)

	code, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/chat/groups/%d", group.ID), 2, map[string]any{"only_admins_can_message": true})
	s.Require().Equal(http.StatusOK, code)

	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/chat/rooms/%d/messages", group.ID), 3, map[string]any{"content": "hello?"})
	s.Equal(http.StatusForbidden, code)

	// the sole admin cannot leave
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/chat/groups/%d/leave", group.ID), 2, nil)
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/chat/groups/%d", group.ID), 2, nil)
	s.Require().Equal(http.StatusOK, code)

	code, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/rooms/%d/messages", group.ID), 2, nil)
	s.Equal(http.StatusOK, code)
}

func (s *ChatRESTSuite) TestAdminStatsRequiresPrivilege() {
	code, _ := s.do(http.MethodGet, "/api/v1/chat/admin/stats", 3, nil)
	s.Equal(http.StatusForbidden, code)

	s.server.dial(s.T(), 3)
	s.server.dial(s.T(), 6)

	type stats struct {
		Scope       string `json:"scope"`
		OnlineUsers int    `json:"online_users"`
		Connections int    `json:"connections"`
	}
	read := func(userID uint64) stats {
		code, res := s.do(http.MethodGet, "/api/v1/chat/admin/stats", userID, nil)
		s.Require().Equal(http.StatusOK, code)
		var out stats
		s.Require().NoError(json.Unmarshal(res.Data, &out))
		return out
	}

	// tenant hr sees only their tenant
	s.Equal(stats{Scope: "acme", OnlineUsers: 1, Connections: 1}, read(2))
	s.Equal(stats{Scope: "globex", OnlineUsers: 1, Connections: 1}, read(5))
	// tenant-less admin sees the whole process
	s.Equal(stats{Scope: "all", OnlineUsers: 2, Connections: 2}, read(1))
}

func (s *ChatRESTSuite) TestAttachmentUploadWithoutStorage() {
	room := s.openRoom(2, 3)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	s.Require().NoError(w.WriteField("room_id", fmt.Sprint(room.ID)))
	part, err := w.CreateFormFile("file", "scan.pdf")
	s.Require().NoError(err)
	_, err = part.Write([]byte("%PDF-1.4"))
	s.Require().NoError(err)
	s.Require().NoError(w.Close())

	req, err := http.NewRequest(http.MethodPost, s.server.srv.URL+"/api/v1/chat/attachments", &body)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.server.token(s.T(), 2))
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}
