package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

// List returns the caller's notifications, newest first
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	var items []models.Notification
	query := h.db.Where("user_id = ?", middleware.GetUserID(c))
	if c.Query("unread") == "true" {
		query = query.Where("read_at IS NULL")
	}
	if err := query.Order("created_at DESC").Limit(100).Find(&items).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, items)
}

// MarkRead marks one notification as read
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}

	now := time.Now()
	res := h.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, middleware.GetUserID(c)).
		Update("read_at", &now)
	if res.Error != nil {
		response.ServerError(c, res.Error.Error())
		return
	}
	if res.RowsAffected == 0 {
		response.NotFound(c, "notification not found")
		return
	}
	response.Success(c, gin.H{"message": "marked read"})
}

type createChannelRequest struct {
	Name   string `json:"name" binding:"required,min=2,max=100"`
	Type   string `json:"type" binding:"required,oneof=webhook slack"`
	URL    string `json:"url" binding:"required,url"`
	Secret string `json:"secret"`
}

// CreateChannel registers an outbound webhook endpoint (platform admin only)
// POST /api/admin/channels
func (h *NotificationHandler) CreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	channel := &models.NotificationChannel{
		Name:     req.Name,
		Type:     req.Type,
		URL:      req.URL,
		Secret:   req.Secret,
		IsActive: true,
	}
	if err := h.db.Create(channel).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Created(c, channel)
}

// ListChannels lists webhook endpoints (platform admin only)
// GET /api/admin/channels
func (h *NotificationHandler) ListChannels(c *gin.Context) {
	var channels []models.NotificationChannel
	if err := h.db.Order("id").Find(&channels).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, channels)
}

// DeleteChannel removes a webhook endpoint (platform admin only)
// DELETE /api/admin/channels/:id
func (h *NotificationHandler) DeleteChannel(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid channel id")
		return
	}
	if err := h.db.Delete(&models.NotificationChannel{}, id).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "channel deleted"})
}
