package routes

import (
	"github.com/damoang/angple-chat/internal/handler"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// restRequestsPerMinute caps REST calls per user when Redis is available
const restRequestsPerMinute = 300

// Setup configures all chat routes
func Setup(
	router *gin.Engine,
	chatHandler *handler.ChatHandler,
	notificationHandler *handler.NotificationHandler,
	attachmentHandler *handler.AttachmentHandler,
	wsHandler *handler.WSHandler,
	auth middleware.Authenticator,
	redisClient *redis.Client,
) {
	authMW := middleware.JWTAuth(auth)

	// WebSocket endpoint (token via ?token= or subprotocol)
	router.GET("/ws/chat", authMW, wsHandler.Connect)

	api := router.Group("/api/v1/chat", authMW)
	if redisClient != nil {
		api.Use(middleware.RateLimitPerUser(redisClient, restRequestsPerMinute))
	}

	// Rooms
	rooms := api.Group("/rooms")
	rooms.GET("", chatHandler.ListRooms)
	rooms.POST("/personal", chatHandler.OpenPersonalRoom)
	rooms.GET("/:id", chatHandler.GetRoom)
	rooms.GET("/:id/messages", chatHandler.ListMessages)
	rooms.POST("/:id/messages", chatHandler.SendMessage)
	rooms.POST("/:id/read", chatHandler.MarkRead)

	// Groups
	groups := api.Group("/groups")
	groups.POST("", chatHandler.CreateGroup)
	groups.PATCH("/:id", chatHandler.UpdateGroup)
	groups.DELETE("/:id", chatHandler.DeleteGroup)
	groups.POST("/:id/members", chatHandler.AddMembers)
	groups.DELETE("/:id/members/:userId", chatHandler.RemoveMember)
	groups.PUT("/:id/admins/:userId", chatHandler.SetAdmin)
	groups.POST("/:id/leave", chatHandler.LeaveGroup)

	// Messages
	api.DELETE("/messages/:id", chatHandler.DeleteMessage)
	api.GET("/messages/:id/readers", chatHandler.MessageReaders)
	api.POST("/attachments", attachmentHandler.Upload)

	api.GET("/online-users", chatHandler.OnlineUsers)

	// Notifications
	notifications := api.Group("/notifications")
	notifications.GET("", notificationHandler.GetList)
	notifications.GET("/unread-count", notificationHandler.GetUnreadCount)
	notifications.POST("/read-all", notificationHandler.MarkAllAsRead)
	notifications.POST("/:id/read", notificationHandler.MarkAsRead)

	// Admin
	admin := api.Group("/admin", middleware.RequirePrivileged())
	admin.GET("/stats", chatHandler.Stats)
}
