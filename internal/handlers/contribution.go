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

type ContributionHandler struct {
	statusService  *services.PaymentStatusService
	paymentService *services.PaymentService
}

func NewContributionHandler(db *gorm.DB, cfg *config.Config, queue services.TaskQueue) *ContributionHandler {
	rotationSvc := services.NewRotationService(db, &cfg.Rotation, queue)
	return &ContributionHandler{
		statusService:  services.NewPaymentStatusService(db, &cfg.Rotation),
		paymentService: services.NewPaymentService(db, &cfg.Rotation, rotationSvc, queue),
	}
}

// Status returns the payment status summary for a cycle; without ?cycle=N
// it reports the group's current cycle
// GET /api/groups/:id/contributions/status?cycle=N
func (h *ContributionHandler) Status(c *gin.Context) {
	groupID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return
	}

	cycle := 0
	if raw := c.Query("cycle"); raw != "" {
		cycle, err = strconv.Atoi(raw)
		if err != nil || cycle < 1 {
			response.BadRequest(c, "invalid cycle number")
			return
		}
	}

	summary, err := h.statusService.CheckPaymentStatus(groupID, cycle)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}

// Confirm marks a contribution as paid
// POST /api/contributions/:id/confirm
func (h *ContributionHandler) Confirm(c *gin.Context) {
	contributionID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid contribution id")
		return
	}

	var req services.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.ContributionID = contributionID
	req.AdminID = middleware.GetUserID(c)

	confirmation, err := h.paymentService.ConfirmMemberPayment(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, confirmation)
}

// LateAction applies an admin action to an unpaid contribution
// POST /api/contributions/:id/late-action
func (h *ContributionHandler) LateAction(c *gin.Context) {
	contributionID, err := parseID(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid contribution id")
		return
	}

	var req services.LatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.ContributionID = contributionID
	req.AdminID = middleware.GetUserID(c)

	action, err := h.paymentService.HandleLatePayment(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, action)
}
