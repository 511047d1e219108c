package handler

import (
	"net/http"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// NotificationHandler handles notification requests
type NotificationHandler struct {
	service *service.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(service *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// GetUnreadCount handles GET /api/v1/chat/notifications/unread-count
// @Summary Unread notification count
// @Tags notifications
// @Produce json
// @Router /api/v1/chat/notifications/unread-count [get]
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	userID := middleware.GetUserID(c)
	count, err := h.service.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		common.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{Data: gin.H{"unread_count": count}})
}

// GetList handles GET /api/v1/chat/notifications
// @Summary Notification inbox
// @Tags notifications
// @Produce json
// @Param page query int false "page"
// @Param limit query int false "page size"
// @Success 200 {object} common.APIResponse{data=domain.NotificationListResponse}
// @Router /api/v1/chat/notifications [get]
func (h *NotificationHandler) GetList(c *gin.Context) {
	userID := middleware.GetUserID(c)

	page := ginutil.QueryInt(c, "page", 1)
	limit := ginutil.QueryInt(c, "limit", 20)

	result, err := h.service.GetList(c.Request.Context(), userID, page, limit)
	if err != nil {
		common.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{Data: result})
}

// MarkAsRead handles POST /api/v1/chat/notifications/:id/read
// @Summary Mark one notification read
// @Tags notifications
// @Param id path int true "notification id"
// @Router /api/v1/chat/notifications/{id}/read [post]
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id, err := ginutil.ParamUint64(c, "id")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid notification id", nil)
		return
	}

	if err := h.service.MarkAsRead(c.Request.Context(), userID, id); err != nil {
		common.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{Data: gin.H{"success": true}})
}

// MarkAllAsRead handles POST /api/v1/chat/notifications/read-all
// @Summary Mark every notification read
// @Tags notifications
// @Router /api/v1/chat/notifications/read-all [post]
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	n, err := h.service.MarkAllAsRead(c.Request.Context(), userID)
	if err != nil {
		common.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.APIResponse{Data: gin.H{"success": true, "count": n}})
}
