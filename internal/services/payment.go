package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/logger"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// Penalty policy. Two deliberately separate formulas: the automatic accrual
// charges 1% of the contribution per day late, capped at 30 days; the
// admin-triggered override is a flat 5% regardless of days late.
const (
	AutoPenaltyRatePerDay = 0.01
	AutoPenaltyCapDays    = 30
	AdminFlatPenaltyRate  = 0.05
)

// PaymentService owns contribution state transitions: admin confirmation and
// late-payment handling. A contribution moves pending -> paid|overdue|cancelled
// exactly once; paid is terminal.
type PaymentService struct {
	db          *gorm.DB
	cfg         *config.RotationConfig
	statusSvc   *PaymentStatusService
	rotationSvc *RotationService
	notifier    *NotificationService
	queue       TaskQueue
}

func NewPaymentService(db *gorm.DB, cfg *config.RotationConfig, rotationSvc *RotationService, queue TaskQueue) *PaymentService {
	return &PaymentService{
		db:          db,
		cfg:         cfg,
		statusSvc:   NewPaymentStatusService(db, cfg),
		rotationSvc: rotationSvc,
		notifier:    NewNotificationService(db),
		queue:       queue,
	}
}

type ConfirmPaymentRequest struct {
	ContributionID   uint   `json:"-"`
	AdminID          uint   `json:"-"`
	ConfirmationType string `json:"confirmation_type" binding:"required,oneof=cash mobile_money bank"`
	Notes            string `json:"notes"`
}

type PaymentConfirmation struct {
	ContributionID    uint      `json:"contribution_id"`
	MemberID          uint      `json:"member_id"`
	CycleNumber       int       `json:"cycle_number"`
	Amount            float64   `json:"amount"`
	Penalty           float64   `json:"penalty"`
	DaysLate          int       `json:"days_late"`
	PaidDate          time.Time `json:"paid_date"`
	ConfirmedBy       uint      `json:"confirmed_by"`
	ConfirmationType  string    `json:"confirmation_type"`
	CycleComplete     bool      `json:"cycle_complete"`
	RotationScheduled bool      `json:"rotation_scheduled"`
}

// ConfirmMemberPayment marks a contribution paid on behalf of the group
// admin, applying the automatic late penalty if the due date has passed.
// Once every active member has paid, the cycle rotation is scheduled.
func (s *PaymentService) ConfirmMemberPayment(req *ConfirmPaymentRequest) (*PaymentConfirmation, error) {
	contrib, group, err := s.loadContribution(req.ContributionID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, req.AdminID); err != nil {
		return nil, err
	}

	if contrib.Status == models.ContributionPaid {
		return nil, response.NewTerminalState(response.CodeAlreadyConfirmed, "contribution is already confirmed")
	}
	if contrib.Status == models.ContributionCancelled {
		return nil, response.NewValidationError("contribution is cancelled")
	}

	now := time.Now()
	daysLate := DaysLate(contrib.DueDate, now)
	penalty := AutoPenalty(contrib.Amount, daysLate)

	// Guarded update keeps the transition monotonic under concurrent
	// confirmations: only a not-yet-terminal row can become paid.
	res := s.db.Model(&models.Contribution{}).
		Where("id = ? AND status IN ?", contrib.ID,
			[]string{models.ContributionPending, models.ContributionOverdue}).
		Updates(map[string]interface{}{
			"status":              models.ContributionPaid,
			"paid_date":           &now,
			"late_penalty_amount": penalty,
			"confirmed_by":        &req.AdminID,
			"confirmation_type":   req.ConfirmationType,
			"notes":               req.Notes,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, response.NewTerminalState(response.CodeAlreadyConfirmed, "contribution is already confirmed")
	}

	// Best effort: drop the pending reminder for this contribution.
	if s.queue != nil {
		if err := s.queue.CancelReminder(contrib.ID); err != nil {
			logger.Warn().Err(err).Uint("contribution_id", contrib.ID).
				Msg("failed to cancel payment reminder")
		}
	}

	confirmation := &PaymentConfirmation{
		ContributionID:   contrib.ID,
		MemberID:         contrib.MemberID,
		CycleNumber:      contrib.CycleNumber,
		Amount:           contrib.Amount,
		Penalty:          penalty,
		DaysLate:         daysLate,
		PaidDate:         now,
		ConfirmedBy:      req.AdminID,
		ConfirmationType: req.ConfirmationType,
	}

	AuditInfo("payment", "confirm",
		fmt.Sprintf("contribution %d confirmed for cycle %d (%d day(s) late, penalty %.2f)",
			contrib.ID, contrib.CycleNumber, daysLate, penalty),
		&req.AdminID, &group.ID, confirmation)

	var member models.Member
	if err := s.db.First(&member, contrib.MemberID).Error; err == nil {
		gid := group.ID
		s.notifier.SendToUser(member.UserID, &gid, TemplatePaymentConfirmed, map[string]interface{}{
			"amount": contrib.Amount,
			"cycle":  contrib.CycleNumber,
		})
	}

	// Completion check: at 100% collection the rotation fires after a delay.
	summary, err := s.statusSvc.CheckPaymentStatus(group.ID, contrib.CycleNumber)
	if err != nil {
		logger.Warn().Err(err).Uint("group_id", group.ID).Msg("completion check failed after confirmation")
		return confirmation, nil
	}
	if summary.CompletionRate >= 100 && group.CurrentCycle == contrib.CycleNumber {
		confirmation.CycleComplete = true
		_, schedErr := s.rotationSvc.ScheduleAutomaticRotation(group.ID, contrib.CycleNumber, 0)
		switch {
		case schedErr == nil:
			confirmation.RotationScheduled = true
			s.notifier.NotifyGroup(group.ID, TemplateCycleCompleted, map[string]interface{}{
				"cycle": contrib.CycleNumber,
			})
		case response.IsCode(schedErr, response.CodeAlreadyScheduled):
			// Another confirmation already queued the rotation.
		default:
			logger.Warn().Err(schedErr).Uint("group_id", group.ID).
				Msg("failed to schedule automatic rotation")
		}
	}

	return confirmation, nil
}

type LatePaymentRequest struct {
	ContributionID uint   `json:"-"`
	AdminID        uint   `json:"-"`
	Action         string `json:"action" binding:"required,oneof=warning penalty suspension removal"`
	Notes          string `json:"notes"`
}

// HandleLatePayment applies an admin-chosen action to an unpaid contribution.
func (s *PaymentService) HandleLatePayment(req *LatePaymentRequest) (*models.LatePaymentAction, error) {
	contrib, group, err := s.loadContribution(req.ContributionID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, req.AdminID); err != nil {
		return nil, err
	}
	if contrib.IsTerminal() {
		return nil, response.NewValidationError("contribution is already settled")
	}

	daysLate := DaysLate(contrib.DueDate, time.Now())
	action := &models.LatePaymentAction{
		GroupID:        group.ID,
		MemberID:       contrib.MemberID,
		ContributionID: contrib.ID,
		CycleNumber:    contrib.CycleNumber,
		Action:         req.Action,
		DaysLate:       daysLate,
		TriggeredBy:    &req.AdminID,
		Notes:          req.Notes,
	}

	var member models.Member
	if err := s.db.First(&member, contrib.MemberID).Error; err != nil {
		return nil, response.NewNotFound("member not found")
	}
	gid := group.ID

	switch req.Action {
	case models.LateActionWarning:
		s.notifier.SendToUser(member.UserID, &gid, TemplateLateWarning, map[string]interface{}{
			"cycle":     contrib.CycleNumber,
			"days_late": daysLate,
		})

	case models.LateActionPenalty:
		action.PenaltyAmount = contrib.Amount * AdminFlatPenaltyRate
		if err := s.db.Model(&models.Contribution{}).
			Where("id = ? AND status IN ?", contrib.ID,
				[]string{models.ContributionPending, models.ContributionOverdue}).
			Update("late_penalty_amount", action.PenaltyAmount).Error; err != nil {
			return nil, err
		}
		s.notifier.SendToUser(member.UserID, &gid, TemplateLatePenalty, map[string]interface{}{
			"cycle":   contrib.CycleNumber,
			"penalty": action.PenaltyAmount,
		})

	case models.LateActionSuspension:
		if err := s.db.Model(&models.Member{}).Where("id = ?", member.ID).
			Update("status", models.MemberStatusSuspended).Error; err != nil {
			return nil, err
		}
		s.notifier.SendToUser(member.UserID, &gid, TemplateSuspension, map[string]interface{}{
			"days_late": daysLate,
		})

	case models.LateActionRemoval:
		if err := removeMember(s.db, group, &member); err != nil {
			return nil, err
		}

	default:
		return nil, response.NewValidationError("unknown late payment action: " + req.Action)
	}

	if err := s.db.Create(action).Error; err != nil {
		return nil, err
	}

	AuditWarning("payment", "late_action",
		fmt.Sprintf("%s applied to member %d for contribution %d (%d day(s) late)",
			req.Action, member.ID, contrib.ID, daysLate),
		&req.AdminID, &group.ID, action)

	return action, nil
}

func (s *PaymentService) loadContribution(id uint) (*models.Contribution, *models.Group, error) {
	var contrib models.Contribution
	if err := s.db.First(&contrib, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, response.NewNotFound("contribution not found")
		}
		return nil, nil, err
	}
	group, err := loadGroup(s.db, contrib.GroupID)
	if err != nil {
		return nil, nil, err
	}
	return &contrib, group, nil
}

// AutoPenalty is the automatic late fee: 1% of the amount per day late,
// simple accrual, capped at 30 days (30%).
func AutoPenalty(amount float64, daysLate int) float64 {
	if daysLate <= 0 {
		return 0
	}
	days := math.Min(float64(daysLate), AutoPenaltyCapDays)
	return amount * AutoPenaltyRatePerDay * days
}
