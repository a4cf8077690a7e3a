package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/logger"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// CycleService advances a group through its rotation: validate readiness,
// settle the current cycle's payout, move to the next cycle (or finalize the
// group), and open the next cycle's contributions.
//
// Steps commit independently so a failed run is resumable: a retry finds the
// settled payout (unique per group+cycle) and already-created contributions
// and skips past them.
type CycleService struct {
	db         *gorm.DB
	cfg        *config.RotationConfig
	calculator *TurnOrderCalculator
	statusSvc  *PaymentStatusService
	notifier   *NotificationService
	queue      TaskQueue
}

func NewCycleService(db *gorm.DB, cfg *config.RotationConfig, queue TaskQueue) *CycleService {
	return &CycleService{
		db:         db,
		cfg:        cfg,
		calculator: NewTurnOrderCalculator(cfg.SkipWeekends),
		statusSvc:  NewPaymentStatusService(db, cfg),
		notifier:   NewNotificationService(db),
		queue:      queue,
	}
}

type ProcessCycleRequest struct {
	GroupID        uint `json:"group_id" binding:"required"`
	AdminID        uint `json:"-"`
	ForceProcess   bool `json:"force_process"`
	SkipValidation bool `json:"-"` // internal callers only (lifecycle restart)
}

type CycleProcessingResult struct {
	Success              bool     `json:"success"`
	PreviousCycle        int      `json:"previous_cycle"`
	NewCycle             int      `json:"new_cycle"`
	PayoutCreated        bool     `json:"payout_created"`
	ContributionsCreated int      `json:"contributions_created"`
	RecipientID          uint     `json:"recipient_id"`
	PayoutAmount         float64  `json:"payout_amount"`
	GroupCompleted       bool     `json:"group_completed"`
	Warnings             []string `json:"warnings,omitempty"`
}

// ProcessGroupCycle runs the full settlement + advancement state machine for
// one group. Any step failure aborts and returns; completed steps stay
// committed and a retried call resumes idempotently.
func (s *CycleService) ProcessGroupCycle(req *ProcessCycleRequest) (*CycleProcessingResult, error) {
	group, err := loadGroup(s.db, req.GroupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, req.AdminID); err != nil {
		return nil, err
	}

	var members []models.Member
	if err := s.db.Where("group_id = ?", group.ID).Find(&members).Error; err != nil {
		return nil, err
	}
	active := ActiveByJoinOrder(members)

	result := &CycleProcessingResult{PreviousCycle: group.CurrentCycle}

	if !req.SkipValidation {
		if err := s.validateProcessable(group, len(active)); err != nil {
			return nil, err
		}
	}

	// Readiness gate: the cycle must be (nearly) fully collected.
	summary, err := s.statusSvc.CheckPaymentStatus(group.ID, group.CurrentCycle)
	if err != nil {
		return nil, err
	}
	if summary.CompletionRate < s.cfg.CompletionThreshold {
		if !req.ForceProcess {
			return nil, response.NewValidationError(fmt.Sprintf(
				"only %.0f%% of payments collected (threshold %.0f%%), use forceProcess to override",
				summary.CompletionRate, s.cfg.CompletionThreshold))
		}
		warning := fmt.Sprintf("forced processing at %.0f%% completion (%d of %d paid)",
			summary.CompletionRate, summary.PaidCount, summary.TotalMembers)
		result.Warnings = append(result.Warnings, warning)
		AuditWarning("cycle", "force_process", warning, &req.AdminID, &group.ID, nil)
	}

	// Settle the payout for the current cycle.
	payout, created, err := s.settlePayout(group, active)
	if err != nil {
		return nil, err
	}
	result.PayoutCreated = created
	result.RecipientID = payout.RecipientID
	result.PayoutAmount = payout.NetAmount

	// Reliability stats reflect how the closed cycle was paid.
	s.updateReliabilityStats(group, summary)

	// Last cycle settled: finalize instead of opening a new cycle.
	if group.CurrentCycle+1 > group.TotalCycles {
		if err := s.finalizeGroup(group); err != nil {
			return nil, err
		}
		result.Success = true
		result.NewCycle = group.CurrentCycle
		result.GroupCompleted = true
		return result, nil
	}

	// Advance to the next cycle and open its contributions.
	if err := s.advanceCycle(group); err != nil {
		return nil, err
	}
	result.NewCycle = group.CurrentCycle

	createdCount, err := s.createCycleContributions(group, active)
	if err != nil {
		return nil, err
	}
	result.ContributionsCreated = createdCount
	result.Success = true

	AuditInfo("cycle", "processed",
		fmt.Sprintf("cycle %d settled, group advanced to cycle %d", result.PreviousCycle, result.NewCycle),
		&req.AdminID, &group.ID, result)

	s.announceAdvance(group, active, result)

	return result, nil
}

func (s *CycleService) validateProcessable(group *models.Group, activeCount int) error {
	if group.Status != models.GroupStatusActive {
		return response.NewValidationError(fmt.Sprintf("group is %s, not active", group.Status))
	}
	if activeCount < 2 {
		return response.NewValidationError("group needs at least 2 active members")
	}
	if group.CurrentCycle < 1 || group.CurrentCycle > group.TotalCycles {
		return response.NewValidationError(fmt.Sprintf(
			"current cycle %d is out of range 1..%d", group.CurrentCycle, group.TotalCycles))
	}
	if time.Now().Before(group.CycleEndDate) {
		return response.NewValidationError(fmt.Sprintf(
			"cycle window has not elapsed yet (ends %s)", group.CycleEndDate.Format("2006-01-02")))
	}
	return nil
}

// settlePayout finds or creates the payout row for the current cycle and
// marks it completed. Creation races with concurrent processors collapse on
// the (group_id, cycle_number) unique index: losers re-fetch the winner's row.
func (s *CycleService) settlePayout(group *models.Group, active []models.Member) (*models.Payout, bool, error) {
	var payout models.Payout
	created := false

	err := s.db.Where("group_id = ? AND cycle_number = ? AND status != ?",
		group.ID, group.CurrentCycle, models.PayoutFailed).First(&payout).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}

		recipient, rerr := s.calculator.RecipientForCycle(active, group.CurrentCycle)
		if rerr != nil {
			return nil, false, rerr
		}

		payout = models.Payout{
			GroupID:       group.ID,
			CycleNumber:   group.CurrentCycle,
			RecipientID:   recipient.ID,
			NetAmount:     group.PoolAmount(len(active)),
			Reference:     uuid.NewString(),
			Status:        models.PayoutScheduled,
			ScheduledDate: s.calculator.ScheduleDate(group.CycleStartDate, group.Cadence, group.CurrentCycle),
		}
		if cerr := s.db.Create(&payout).Error; cerr != nil {
			// Unique index hit: another caller settled first. Fetch theirs.
			if ferr := s.db.Where("group_id = ? AND cycle_number = ? AND status != ?",
				group.ID, group.CurrentCycle, models.PayoutFailed).First(&payout).Error; ferr != nil {
				return nil, false, response.NewConcurrencyConflict(
					fmt.Sprintf("duplicate payout attempt for group %d cycle %d", group.ID, group.CurrentCycle))
			}
		} else {
			created = true
		}
	}

	if payout.Status != models.PayoutCompleted {
		now := time.Now()
		updates := map[string]interface{}{
			"status":            models.PayoutCompleted,
			"approved_by_admin": true,
			"completed_at":      &now,
		}
		if err := s.db.Model(&models.Payout{}).Where("id = ?", payout.ID).Updates(updates).Error; err != nil {
			return nil, created, err
		}
		payout.Status = models.PayoutCompleted
		payout.CompletedAt = &now

		if err := s.db.Model(&models.Member{}).Where("id = ?", payout.RecipientID).
			Update("payout_received", true).Error; err != nil {
			return nil, created, err
		}
	}

	return &payout, created, nil
}

func (s *CycleService) finalizeGroup(group *models.Group) error {
	return s.db.Model(&models.Group{}).Where("id = ?", group.ID).
		Updates(map[string]interface{}{
			"current_cycle": group.TotalCycles + 1,
			"status":        models.GroupStatusCompleted,
		}).Error
}

func (s *CycleService) advanceCycle(group *models.Group) error {
	newStart := AddCadence(group.CycleStartDate, group.Cadence, 1)
	newEnd := AddCadence(newStart, group.Cadence, 1)

	err := s.db.Model(&models.Group{}).Where("id = ?", group.ID).
		Updates(map[string]interface{}{
			"current_cycle":    group.CurrentCycle + 1,
			"cycle_start_date": newStart,
			"cycle_end_date":   newEnd,
		}).Error
	if err != nil {
		return err
	}

	group.CurrentCycle++
	group.CycleStartDate = newStart
	group.CycleEndDate = newEnd
	return nil
}

// createCycleContributions opens one pending contribution per active member
// for the (already advanced) current cycle. Existing rows are kept, so a
// resumed run only fills the gaps.
func (s *CycleService) createCycleContributions(group *models.Group, active []models.Member) (int, error) {
	dueDate := s.calculator.RollToWorkday(group.CycleStartDate.AddDate(0, 0, s.cfg.DueDateOffsetDays))

	var existing []models.Contribution
	if err := s.db.Where("group_id = ? AND cycle_number = ?", group.ID, group.CurrentCycle).
		Find(&existing).Error; err != nil {
		return 0, err
	}
	has := make(map[uint]bool, len(existing))
	for _, c := range existing {
		has[c.MemberID] = true
	}

	created := 0
	for _, m := range active {
		if has[m.ID] {
			continue
		}
		contrib := models.Contribution{
			GroupID:     group.ID,
			MemberID:    m.ID,
			CycleNumber: group.CurrentCycle,
			Amount:      group.ContributionAmount,
			DueDate:     dueDate,
			Status:      models.ContributionPending,
		}
		if err := s.db.Create(&contrib).Error; err != nil {
			return created, err
		}
		created++

		// Best effort: reminder the day before the due date.
		if s.queue != nil {
			if err := s.queue.ScheduleReminder(&ReminderTask{ContributionID: contrib.ID},
				dueDate.AddDate(0, 0, -1)); err != nil {
				logger.Warn().Err(err).Uint("contribution_id", contrib.ID).
					Msg("failed to schedule payment reminder")
			}
		}
	}

	return created, nil
}

// updateReliabilityStats increments per-member on-time/late/missed counters
// for the cycle being closed.
func (s *CycleService) updateReliabilityStats(group *models.Group, summary *PaymentStatusSummary) {
	for _, ms := range summary.Members {
		var column string
		switch {
		case ms.Status == models.ContributionPaid && ms.PaidDate != nil && ms.DueDate != nil && !ms.PaidDate.After(*ms.DueDate):
			column = "on_time_count"
		case ms.Status == models.ContributionPaid:
			column = "late_count"
		case ms.Status == models.ContributionCancelled:
			continue
		default:
			column = "missed_count"
		}
		if err := s.db.Model(&models.Member{}).Where("id = ?", ms.MemberID).
			UpdateColumn(column, gorm.Expr(column+" + 1")).Error; err != nil {
			logger.Warn().Err(err).Uint("member_id", ms.MemberID).Msg("failed to update reliability stats")
		}
	}
}

// announceAdvance fans out the non-fatal notifications after an advance.
func (s *CycleService) announceAdvance(group *models.Group, active []models.Member, result *CycleProcessingResult) {
	var recipient models.Member
	if err := s.db.First(&recipient, result.RecipientID).Error; err == nil {
		gid := group.ID
		s.notifier.SendToUser(recipient.UserID, &gid, TemplatePayoutSettled, map[string]interface{}{
			"amount": result.PayoutAmount,
			"cycle":  result.PreviousCycle,
		})
	}

	if next, err := s.calculator.RecipientForCycle(active, group.CurrentCycle); err == nil {
		gid := group.ID
		s.notifier.SendToUser(next.UserID, &gid, TemplateNextRecipient, map[string]interface{}{
			"cycle":  group.CurrentCycle,
			"amount": group.PoolAmount(len(active)),
		})
	}

	s.notifier.PublishEvent("cycle.processed", group.ID, map[string]interface{}{
		"previous_cycle": result.PreviousCycle,
		"new_cycle":      result.NewCycle,
		"recipient_id":   result.RecipientID,
		"payout_amount":  result.PayoutAmount,
		"warnings":       strings.Join(result.Warnings, "; "),
	})
}
