package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type CycleHandler struct {
	db           *gorm.DB
	cfg          *config.Config
	cycleService *services.CycleService
	calculator   *services.TurnOrderCalculator
}

func NewCycleHandler(db *gorm.DB, cfg *config.Config, queue services.TaskQueue) *CycleHandler {
	return &CycleHandler{
		db:           db,
		cfg:          cfg,
		cycleService: services.NewCycleService(db, &cfg.Rotation, queue),
		calculator:   services.NewTurnOrderCalculator(cfg.Rotation.SkipWeekends),
	}
}

// TurnOrder returns the full rotation schedule for a group
// GET /api/groups/:id/turn-order
func (h *CycleHandler) TurnOrder(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var group models.Group
	if err := h.db.First(&group, groupID).Error; err != nil {
		response.NotFound(c, "group not found")
		return
	}
	var members []models.Member
	if err := h.db.Preload("User").Where("group_id = ?", groupID).
		Find(&members).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}

	entries, err := h.calculator.CalculateTurnOrder(&group, members, group.CurrentCycle)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"group_id":      group.ID,
		"current_cycle": group.CurrentCycle,
		"entries":       entries,
	})
}

// Process advances the group to its next cycle
// POST /api/groups/:id/cycles/process
func (h *CycleHandler) Process(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var req services.ProcessCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}
	req.GroupID = groupID
	req.AdminID = middleware.GetUserID(c)

	result, err := h.cycleService.ProcessGroupCycle(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Payouts lists a group's payout history
// GET /api/groups/:id/payouts
func (h *CycleHandler) Payouts(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var payouts []models.Payout
	if err := h.db.Preload("Recipient").Preload("Recipient.User").
		Where("group_id = ?", groupID).
		Order("cycle_number").Find(&payouts).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, payouts)
}
