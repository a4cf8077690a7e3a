package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type AuditHandler struct {
	auditService *services.AuditLogService
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{auditService: services.NewAuditLogService(db)}
}

// List returns paginated audit logs (platform admin only)
// GET /api/admin/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	var req services.AuditLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.auditService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}
