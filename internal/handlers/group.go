package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type GroupHandler struct {
	groupService *services.GroupService
}

func NewGroupHandler(db *gorm.DB, cfg *config.Config) *GroupHandler {
	return &GroupHandler{
		groupService: services.NewGroupService(db, &cfg.Rotation),
	}
}

// Create creates a savings group with the caller as admin
// POST /api/groups
func (h *GroupHandler) Create(c *gin.Context) {
	var req services.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.AdminID = middleware.GetUserID(c)

	group, err := h.groupService.CreateGroup(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}

// List returns the caller's groups, paginated
// GET /api/groups
func (h *GroupHandler) List(c *gin.Context) {
	var req services.ListGroupsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.UserID = middleware.GetUserID(c)

	groups, total, err := h.groupService.ListGroups(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"items":     groups,
		"total":     total,
		"page":      req.Page,
		"page_size": req.PageSize,
	})
}

// Get returns a group with its members
// GET /api/groups/:id
func (h *GroupHandler) Get(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	group, members, err := h.groupService.GetGroup(id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"group": group, "members": members})
}

// Update changes group settings
// PUT /api/groups/:id
func (h *GroupHandler) Update(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var req services.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.GroupID = id
	req.AdminID = middleware.GetUserID(c)

	group, err := h.groupService.UpdateGroup(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, group)
}

// parseID reads a uint path parameter.
func parseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	return uint(id), err
}
