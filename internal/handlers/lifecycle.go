package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type LifecycleHandler struct {
	lifecycleService *services.LifecycleService
}

func NewLifecycleHandler(db *gorm.DB, cfg *config.Config) *LifecycleHandler {
	return &LifecycleHandler{
		lifecycleService: services.NewLifecycleService(db, &cfg.Rotation),
	}
}

// Completion reports whether the rotation has genuinely finished
// GET /api/groups/:id/completion
func (h *LifecycleHandler) Completion(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	status, err := h.lifecycleService.CheckGroupCompletion(groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Decide applies the admin's completion decision
// POST /api/groups/:id/completion
func (h *LifecycleHandler) Decide(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var req services.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.GroupID = groupID
	req.AdminID = middleware.GetUserID(c)

	group, err := h.lifecycleService.HandleGroupCompletion(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, group)
}

// Resume reactivates a paused group
// POST /api/groups/:id/resume
func (h *LifecycleHandler) Resume(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	group, err := h.lifecycleService.ResumeGroup(groupID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, group)
}
