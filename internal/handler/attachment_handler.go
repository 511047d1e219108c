package handler

import (
	"net/http"
	"strconv"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/gin-gonic/gin"
)

// AttachmentHandler handles out-of-band attachment uploads
type AttachmentHandler struct {
	attachments *service.AttachmentService
	chat        *service.ChatService
}

// NewAttachmentHandler creates a new AttachmentHandler
func NewAttachmentHandler(attachments *service.AttachmentService, chat *service.ChatService) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments, chat: chat}
}

// Upload handles POST /api/v1/chat/attachments
// @Summary Upload a chat attachment
// @Description Returns the attachment tuple and inferred kind to pass to send-message
// @Tags chat
// @Accept multipart/form-data
// @Produce json
// @Param room_id formData int true "room id"
// @Param file formData file true "file"
// @Router /api/v1/chat/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	caller, ok := restCaller(c)
	if !ok {
		return
	}
	roomID, err := strconv.ParseUint(c.PostForm("room_id"), 10, 64)
	if err != nil || roomID == 0 {
		common.ErrorResponse(c, http.StatusBadRequest, "room_id is required", nil)
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "File is required", nil)
		return
	}

	if _, err := h.chat.GetRoom(c.Request.Context(), caller, roomID); err != nil {
		common.FromError(c, err)
		return
	}

	attachment, kind, err := h.attachments.Upload(c.Request.Context(), roomID, file)
	if err != nil {
		common.FromError(c, err)
		return
	}
	common.CreatedResponse(c, gin.H{"kind": kind, "attachment": attachment})
}
