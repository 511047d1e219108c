package handler

import (
	"net/http"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler handles WebSocket connections
type WSHandler struct {
	chat           *service.ChatService
	commands       *ChatCommands
	opts           ws.ClientOptions
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(chat *service.ChatService, opts ws.ClientOptions, allowedOrigins string) *WSHandler {
	h := &WSHandler{
		chat:           chat,
		commands:       NewChatCommands(chat),
		opts:           opts,
		allowedOrigins: parseOrigins(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{"bearer"},
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// parseOrigins parses comma-separated origins string
func parseOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// checkOrigin validates the request origin against allowed origins
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Same-origin requests don't have Origin header
	}

	// If no allowed origins configured, allow all (development mode)
	if len(h.allowedOrigins) == 0 {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	return false
}

// Connect handles GET /ws/chat and upgrades to WebSocket
// @Summary Realtime chat WebSocket
// @Description Commands are JSON frames {"type","request_id","payload"}; pass the token as ?token= or the "bearer, <token>" subprotocol
// @Tags chat
// @Router /ws/chat [get]
func (h *WSHandler) Connect(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := ws.NewClient(conn, actor, h.commands, h.opts)
	if err := h.chat.Connect(c.Request.Context(), client, actor); err != nil {
		log := pkglogger.WithConn(client.ID(), actor.UserID)
		log.Error().Err(err).Msg("connection setup failed")
		conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "try again later"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
