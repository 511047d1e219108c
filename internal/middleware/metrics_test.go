package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRouteSurface(t *testing.T) {
	assert.Equal(t, surfaceWS, routeSurface("/ws/chat"))
	assert.Equal(t, surfaceAPI, routeSurface("/api/v1/chat/rooms/:id"))
	assert.Equal(t, surfaceOps, routeSurface("/health"))
	assert.Equal(t, surfaceOps, routeSurface(normalizePath("")))
}

func TestMetrics_LabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/chat/rooms/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws/chat", func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) })

	rooms := httpRequestsTotal.WithLabelValues(surfaceAPI, http.MethodGet, "/api/v1/chat/rooms/:id", "200")
	unmatched := httpRequestsTotal.WithLabelValues(surfaceOps, http.MethodGet, "unmatched", "404")
	denied := wsUpgrades.WithLabelValues("unauthorized")
	beforeRooms, beforeUnmatched, beforeDenied := testutil.ToFloat64(rooms), testutil.ToFloat64(unmatched), testutil.ToFloat64(denied)

	for _, target := range []string{"/api/v1/chat/rooms/1", "/api/v1/chat/rooms/2", "/nope/123", "/ws/chat"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, beforeRooms+2, testutil.ToFloat64(rooms))
	assert.Equal(t, beforeUnmatched+1, testutil.ToFloat64(unmatched))
	assert.Equal(t, beforeDenied+1, testutil.ToFloat64(denied))
}
