package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Authenticator resolves a bearer token into an Actor
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Actor, error)
}

// JWTAuth authenticates the request and stores the actor in the context.
// Browsers cannot set headers on a WebSocket upgrade, so the token may also
// arrive as ?token= or as a "bearer, <token>" subprotocol pair.
func JWTAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := auth.Authenticate(c.Request.Context(), ExtractToken(c.Request))
		if err != nil {
			common.FromError(c, err)
			c.Abort()
			return
		}

		c.Set(actorKey, actor)
		c.Set("userID", actor.UserID)
		c.Next()
	}
}

// ExtractToken reads the bearer token from the request
func ExtractToken(r *http.Request) string {
	// 1. Authorization header
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	// 2. query parameter
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	// 3. Sec-WebSocket-Protocol: bearer, <token>
	protocols := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for i := 0; i+1 < len(protocols); i++ {
		if strings.EqualFold(strings.TrimSpace(protocols[i]), "bearer") {
			return strings.TrimSpace(protocols[i+1])
		}
	}
	return ""
}

// GetActor extracts the authenticated actor from context
func GetActor(c *gin.Context) (domain.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) uint64 {
	userID, exists := c.Get("userID")
	if !exists {
		return 0
	}
	if id, ok := userID.(uint64); ok {
		return id
	}
	return 0
}
