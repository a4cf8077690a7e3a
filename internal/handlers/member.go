package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type MemberHandler struct {
	memberService *services.MemberService
}

func NewMemberHandler(db *gorm.DB, cfg *config.Config) *MemberHandler {
	return &MemberHandler{
		memberService: services.NewMemberService(db, &cfg.Rotation),
	}
}

// Add adds a user to the group by phone number
// POST /api/groups/:id/members
func (h *MemberHandler) Add(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	var req services.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.GroupID = groupID
	req.AdminID = middleware.GetUserID(c)

	member, err := h.memberService.AddMember(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, member)
}

// Remove marks a member as having left the group
// DELETE /api/groups/:id/members/:member_id
func (h *MemberHandler) Remove(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}
	memberID, err := parseID(c, "member_id")
	if err != nil {
		response.BadRequest(c, "invalid member id")
		return
	}

	if err := h.memberService.RemoveMember(groupID, memberID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "member removed"})
}

// TransferAdmin moves the group admin role to another member
// POST /api/groups/:id/members/:member_id/transfer-admin
func (h *MemberHandler) TransferAdmin(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}
	memberID, err := parseID(c, "member_id")
	if err != nil {
		response.BadRequest(c, "invalid member id")
		return
	}

	if err := h.memberService.TransferAdmin(groupID, memberID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "admin role transferred"})
}

// History returns a member's contribution and payout record
// GET /api/groups/:id/members/:member_id/history
func (h *MemberHandler) History(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}
	memberID, err := parseID(c, "member_id")
	if err != nil {
		response.BadRequest(c, "invalid member id")
		return
	}

	history, err := h.memberService.GetMemberHistory(groupID, memberID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, history)
}
