package services

import (
	"fmt"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// LifecycleService handles end-of-rotation decisions: verifying that every
// member actually received a payout, and restarting, pausing, or dissolving
// a finished group.
type LifecycleService struct {
	db       *gorm.DB
	cfg      *config.RotationConfig
	notifier *NotificationService
}

func NewLifecycleService(db *gorm.DB, cfg *config.RotationConfig) *LifecycleService {
	return &LifecycleService{
		db:       db,
		cfg:      cfg,
		notifier: NewNotificationService(db),
	}
}

type CompletionStatus struct {
	GroupID        uint    `json:"group_id"`
	Complete       bool    `json:"complete"`
	CyclesRun      int     `json:"cycles_run"`
	TotalCycles    int     `json:"total_cycles"`
	MembersPaid    int     `json:"members_paid"`
	ActiveMembers  int     `json:"active_members"`
	CompletionRate float64 `json:"completion_rate"`
	MembersOwed    []uint  `json:"members_owed,omitempty"`
}

// CheckGroupCompletion reports whether the rotation has genuinely finished:
// the cycle counter running out is not enough, every active member must
// have a completed payout on record.
func (s *LifecycleService) CheckGroupCompletion(groupID uint) (*CompletionStatus, error) {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return nil, err
	}

	var members []models.Member
	if err := s.db.Where("group_id = ? AND status = ?", groupID, models.MemberStatusActive).
		Find(&members).Error; err != nil {
		return nil, err
	}

	cyclesRun := group.CurrentCycle - 1
	if cyclesRun > group.TotalCycles {
		cyclesRun = group.TotalCycles
	}
	status := &CompletionStatus{
		GroupID:       groupID,
		CyclesRun:     cyclesRun,
		TotalCycles:   group.TotalCycles,
		ActiveMembers: len(members),
	}

	for _, m := range members {
		var n int64
		if err := s.db.Model(&models.Payout{}).
			Where("group_id = ? AND recipient_id = ? AND status = ?",
				groupID, m.ID, models.PayoutCompleted).
			Count(&n).Error; err != nil {
			return nil, err
		}
		if n > 0 {
			status.MembersPaid++
		} else {
			status.MembersOwed = append(status.MembersOwed, m.ID)
		}
	}

	if status.ActiveMembers > 0 {
		status.CompletionRate = float64(status.MembersPaid) / float64(status.ActiveMembers) * 100
	}
	status.Complete = status.ActiveMembers > 0 &&
		status.MembersPaid == status.ActiveMembers &&
		group.CurrentCycle > group.TotalCycles
	return status, nil
}

type CompletionRequest struct {
	GroupID  uint    `json:"-"`
	AdminID  uint    `json:"-"`
	Decision string  `json:"decision" binding:"required,oneof=restart dissolve pause"`
	Amount   float64 `json:"amount" binding:"omitempty,gt=0"`
	Cadence  string  `json:"cadence" binding:"omitempty,oneof=daily weekly monthly"`
}

// HandleGroupCompletion applies the admin's decision for a completed group.
// Restart begins a fresh rotation with optionally updated terms; dissolve
// is terminal; pause parks the group until resumed.
func (s *LifecycleService) HandleGroupCompletion(req *CompletionRequest) (*models.Group, error) {
	group, err := loadGroup(s.db, req.GroupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, req.AdminID); err != nil {
		return nil, err
	}
	if group.Status != models.GroupStatusCompleted {
		return nil, response.NewValidationError("group has not completed its rotation")
	}
	// The cycle counter running out is not proof of completion; a member who
	// joined mid-run may still be owed a payout.
	completion, err := s.CheckGroupCompletion(req.GroupID)
	if err != nil {
		return nil, err
	}
	if !completion.Complete {
		return nil, response.NewValidationError(
			fmt.Sprintf("rotation is not complete: %d active member(s) have not received a payout", len(completion.MembersOwed)))
	}

	switch req.Decision {
	case "restart":
		return s.restart(group, req)
	case "dissolve":
		return s.dissolve(group, req.AdminID)
	case "pause":
		if err := s.db.Model(group).Update("status", models.GroupStatusPaused).Error; err != nil {
			return nil, err
		}
		group.Status = models.GroupStatusPaused
		AuditInfo("lifecycle", "pause",
			fmt.Sprintf("group %d paused after completion", group.ID),
			&req.AdminID, &group.ID, nil)
		return group, nil
	default:
		return nil, response.NewValidationError("unknown completion decision: " + req.Decision)
	}
}

func (s *LifecycleService) restart(group *models.Group, req *CompletionRequest) (*models.Group, error) {
	var activeCount int64
	if err := s.db.Model(&models.Member{}).
		Where("group_id = ? AND status = ?", group.ID, models.MemberStatusActive).
		Count(&activeCount).Error; err != nil {
		return nil, err
	}
	if activeCount < 2 {
		return nil, response.NewEmptyGroup("cannot restart with fewer than 2 active members")
	}

	now := time.Now()
	calc := NewTurnOrderCalculator(s.cfg.SkipWeekends)
	cadence := group.Cadence
	if req.Cadence != "" {
		cadence = req.Cadence
	}

	updates := map[string]interface{}{
		"status":           models.GroupStatusActive,
		"current_cycle":    1,
		"total_cycles":     activeCount,
		"cadence":          cadence,
		"cycle_start_date": now,
		"cycle_end_date":   AddCadence(now, cadence, 1),
	}
	if req.Amount > 0 {
		updates["contribution_amount"] = req.Amount
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Group{}).Where("id = ?", group.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		// Everyone starts the new rotation unpaid.
		if err := tx.Model(&models.Member{}).
			Where("group_id = ? AND status = ?", group.ID, models.MemberStatusActive).
			Update("payout_received", false).Error; err != nil {
			return err
		}
		// The old rotation's rows occupy the same (group, cycle) unique
		// indexes the new one needs. The audit trail keeps the history.
		if err := tx.Where("group_id = ?", group.ID).
			Delete(&models.Contribution{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", group.ID).
			Delete(&models.Payout{}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", group.ID).
			Delete(&models.TurnRotationJob{}).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.First(group, group.ID).Error; err != nil {
		return nil, err
	}

	// Open the first cycle's contributions right away.
	dueDate := calc.RollToWorkday(now.AddDate(0, 0, s.cfg.DueDateOffsetDays))
	var members []models.Member
	if err := s.db.Where("group_id = ? AND status = ?", group.ID, models.MemberStatusActive).
		Find(&members).Error; err == nil {
		for _, m := range members {
			contrib := models.Contribution{
				GroupID:     group.ID,
				MemberID:    m.ID,
				CycleNumber: 1,
				Amount:      group.ContributionAmount,
				DueDate:     dueDate,
				Status:      models.ContributionPending,
			}
			s.db.Where("group_id = ? AND member_id = ? AND cycle_number = ?",
				group.ID, m.ID, 1).FirstOrCreate(&contrib)
		}
	}

	AuditInfo("lifecycle", "restart",
		fmt.Sprintf("group %d restarted with %d cycle(s)", group.ID, group.TotalCycles),
		&req.AdminID, &group.ID, group)
	s.notifier.NotifyGroup(group.ID, TemplateGroupRestarted, map[string]interface{}{
		"total_cycles": group.TotalCycles,
		"amount":       group.ContributionAmount,
		"cadence":      group.Cadence,
	})
	return group, nil
}

func (s *LifecycleService) dissolve(group *models.Group, adminID uint) (*models.Group, error) {
	now := time.Now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Group{}).Where("id = ?", group.ID).
			Update("status", models.GroupStatusDissolved).Error; err != nil {
			return err
		}
		return tx.Model(&models.Member{}).
			Where("group_id = ? AND status IN ?", group.ID,
				[]string{models.MemberStatusActive, models.MemberStatusSuspended}).
			Updates(map[string]interface{}{
				"status":  models.MemberStatusLeft,
				"left_at": &now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	group.Status = models.GroupStatusDissolved

	AuditInfo("lifecycle", "dissolve",
		fmt.Sprintf("group %d dissolved", group.ID), &adminID, &group.ID, nil)
	s.notifier.NotifyGroup(group.ID, TemplateGroupDissolved, map[string]interface{}{
		"group_id": group.ID,
	})
	return group, nil
}

// ResumeGroup reactivates a paused group without resetting its rotation.
func (s *LifecycleService) ResumeGroup(groupID, adminID uint) (*models.Group, error) {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, adminID); err != nil {
		return nil, err
	}
	if group.Status != models.GroupStatusPaused {
		return nil, response.NewTerminalState(response.CodeGroupNotPaused, "group is not paused")
	}
	if err := s.db.Model(group).Update("status", models.GroupStatusActive).Error; err != nil {
		return nil, err
	}
	group.Status = models.GroupStatusActive
	AuditInfo("lifecycle", "resume",
		fmt.Sprintf("group %d resumed", group.ID), &adminID, &group.ID, nil)
	return group, nil
}
