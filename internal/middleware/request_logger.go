package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/damoang/angple-chat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestLogger returns a gin middleware that logs every request with structured fields
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		userID := GetUserID(c)

		event := logger.GetLogger().Info()
		switch {
		case status >= 500:
			event = logger.GetLogger().Error()
		case status >= 400:
			event = logger.GetLogger().Warn()
		case status == http.StatusSwitchingProtocols:
			event = logger.GetLogger().Debug()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", redactQuery(c.Request.URL)).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Uint64("user_id", userID).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}

// redactQuery hides the access token WebSocket clients pass as ?token=
func redactQuery(u *url.URL) string {
	q := u.Query()
	if q.Get("token") == "" {
		return u.RawQuery
	}
	q.Set("token", "***")
	return q.Encode()
}
