package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	commandTimeout = 15 * time.Second
)

// Command client to server frame
type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type responseFrame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data"`
}

type errorFrame struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Error     common.ErrorInfo `json:"error"`
}

// CommandHandler executes commands read from a connection.
// HandleCommand is called sequentially in arrival order.
type CommandHandler interface {
	HandleCommand(ctx context.Context, c *Client, cmd Command) (interface{}, error)
	Disconnected(c *Client)
}

// ClientOptions per-connection limits
type ClientOptions struct {
	SendBuffer        int
	CommandsPerSecond float64
	CommandBurst      int
}

// Client represents a single WebSocket connection
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	actor   domain.Actor
	handler CommandHandler
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, actor domain.Actor, handler CommandHandler, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	limit := rate.Inf
	if opts.CommandsPerSecond > 0 {
		limit = rate.Limit(opts.CommandsPerSecond)
	}
	id := uuid.New().String()
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		actor:   actor,
		handler: handler,
		limiter: rate.NewLimiter(limit, opts.CommandBurst),
		log:     pkglogger.WithConn(id, actor.UserID),
	}
}

func (c *Client) ID() string          { return c.id }
func (c *Client) UserID() uint64      { return c.actor.UserID }
func (c *Client) Actor() domain.Actor { return c.actor }

// Enqueue queues a frame for the write pump without blocking
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops both pumps
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Reply sends a response frame for requestID
func (c *Client) Reply(requestID string, data interface{}) {
	c.write(responseFrame{Type: "response", RequestID: requestID, Data: data})
}

// ReplyError sends an error frame for requestID
func (c *Client) ReplyError(requestID string, err error) {
	c.write(errorFrame{
		Type:      "error",
		RequestID: requestID,
		Error:     common.ErrorInfo{Code: common.Code(err), Message: common.PublicMessage(err)},
	})
}

func (c *Client) write(frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error().Err(err).Msg("frame marshal failed")
		return
	}
	if !c.Enqueue(data) {
		c.log.Warn().Msg("reply dropped, send buffer full or connection closed")
	}
}

// ReadPump reads commands from the WebSocket and dispatches them in order
func (c *Client) ReadPump() {
	defer func() {
		c.handler.Disconnected(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type == "" {
		c.ReplyError(cmd.RequestID, common.Validation("malformed command frame"))
		metrics.Commands.WithLabelValues("invalid", "VALIDATION_FAILED").Inc()
		return
	}
	if !c.limiter.Allow() {
		c.ReplyError(cmd.RequestID, &common.Error{Kind: common.ErrRateLimited, Message: "too many commands"})
		metrics.Commands.WithLabelValues(cmd.Type, "RATE_LIMITED").Inc()
		return
	}

	// Accepted commands run to completion even if the connection drops.
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data, err := c.handler.HandleCommand(ctx, c, cmd)
	if err != nil {
		code := common.Code(err)
		if code == "TRANSIENT" {
			c.log.Error().Err(err).Str("command", cmd.Type).Msg("command failed")
		}
		metrics.Commands.WithLabelValues(cmd.Type, code).Inc()
		c.ReplyError(cmd.RequestID, err)
		return
	}
	metrics.Commands.WithLabelValues(cmd.Type, "OK").Inc()
	c.Reply(cmd.RequestID, data)
}

// WritePump sends messages to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.Close()
				return
			}
			w.Write(message) //nolint:errcheck
			if err := w.Close(); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return
		}
	}
}
