package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type RotationHandler struct {
	rotationService *services.RotationService
}

func NewRotationHandler(db *gorm.DB, cfg *config.Config, queue services.TaskQueue) *RotationHandler {
	return &RotationHandler{
		rotationService: services.NewRotationService(db, &cfg.Rotation, queue),
	}
}

type scheduleRotationRequest struct {
	CycleNumber  int `json:"cycle_number" binding:"required,min=1"`
	DelayMinutes int `json:"delay_minutes" binding:"omitempty,min=0"`
}

// Schedule arms a rotation job for a cycle
// POST /api/groups/:id/rotations
func (h *RotationHandler) Schedule(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var req scheduleRotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	job, err := h.rotationService.ScheduleRotationForAdmin(groupID, req.CycleNumber, req.DelayMinutes, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, job)
}

// Cancel removes a pending rotation job
// DELETE /api/groups/:id/rotations/:cycle
func (h *RotationHandler) Cancel(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}
	cycle, err := parseID(c, "cycle")
	if err != nil {
		response.BadRequest(c, "invalid cycle number")
		return
	}

	if err := h.rotationService.CancelScheduledRotation(groupID, int(cycle), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "rotation cancelled"})
}

// List returns a group's rotation jobs
// GET /api/groups/:id/rotations
func (h *RotationHandler) List(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	jobs, err := h.rotationService.ListJobs(groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, jobs)
}

// GetJob returns one rotation job's state
// GET /api/rotations/:id
func (h *RotationHandler) GetJob(c *gin.Context) {
	jobID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return
	}

	job, err := h.rotationService.GetJob(jobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, job)
}
