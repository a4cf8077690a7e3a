package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/logger"
	"gorm.io/gorm"
)

// LateMonitor runs the daily sweep over unpaid contributions: it marks
// rows overdue once the grace period lapses and escalates persistent
// non-payers. Escalation is bounded to one automatic action per member
// per day so a long outage does not stack punishments on catch-up.
type LateMonitor struct {
	db       *gorm.DB
	cfg      *config.RotationConfig
	notifier *NotificationService
	cron     *cron.Cron
}

func NewLateMonitor(db *gorm.DB, cfg *config.RotationConfig) *LateMonitor {
	return &LateMonitor{
		db:       db,
		cfg:      cfg,
		notifier: NewNotificationService(db),
	}
}

// Start schedules the sweep. The spec string follows robfig/cron's
// standard 5-field format; default is 06:00 every day.
func (m *LateMonitor) Start(spec string) error {
	if spec == "" {
		spec = "0 6 * * *"
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(spec, func() {
		if err := m.RunOnce(time.Now()); err != nil {
			logger.Error().Err(err).Msg("late payment sweep failed")
		}
	}); err != nil {
		return err
	}
	m.cron.Start()
	logger.Info().Str("schedule", spec).Msg("late payment monitor started")
	return nil
}

func (m *LateMonitor) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// RunOnce performs a single sweep pass at the given instant. Exposed for
// the maintenance CLI and tests.
func (m *LateMonitor) RunOnce(now time.Time) error {
	marked, err := m.MarkOverdue(now)
	if err != nil {
		return err
	}
	escalated, err := m.escalate(now)
	if err != nil {
		return err
	}
	if marked > 0 || escalated > 0 {
		AuditInfo("late_monitor", "sweep",
			fmt.Sprintf("marked %d contribution(s) overdue, escalated %d member(s)", marked, escalated),
			nil, nil, nil)
	}
	return nil
}

// MarkOverdue flips pending contributions whose due date plus grace period
// has passed. Only active groups are swept.
func (m *LateMonitor) MarkOverdue(now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -m.cfg.GracePeriodDays)
	res := m.db.Model(&models.Contribution{}).
		Where("status = ? AND due_date < ?", models.ContributionPending, cutoff).
		Where("group_id IN (?)", m.db.Model(&models.Group{}).
			Select("id").Where("status = ?", models.GroupStatusActive)).
		Update("status", models.ContributionOverdue)
	return res.RowsAffected, res.Error
}

// escalate walks late contributions and applies at most one automatic
// action per member per day, choosing the most severe rung the member
// qualifies for. Pending rows past due are included: the first warning
// lands inside the grace period, before MarkOverdue flips the status.
func (m *LateMonitor) escalate(now time.Time) (int, error) {
	var overdue []models.Contribution
	err := m.db.Where("status IN ? AND due_date < ?",
		[]string{models.ContributionPending, models.ContributionOverdue}, now).
		Where("group_id IN (?)", m.db.Model(&models.Group{}).
			Select("id").Where("status = ?", models.GroupStatusActive)).
		Find(&overdue).Error
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range overdue {
		contrib := &overdue[i]
		acted, err := m.escalateOne(contrib, now)
		if err != nil {
			logger.Warn().Err(err).Uint("contribution_id", contrib.ID).
				Msg("escalation failed for contribution")
			continue
		}
		if acted {
			count++
		}
	}
	return count, nil
}

func (m *LateMonitor) escalateOne(contrib *models.Contribution, now time.Time) (bool, error) {
	if m.actedToday(contrib.MemberID, now) {
		return false, nil
	}

	daysLate := DaysLate(contrib.DueDate, now)
	if daysLate < 1 {
		return false, nil
	}

	var member models.Member
	if err := m.db.First(&member, contrib.MemberID).Error; err != nil {
		return false, err
	}
	if member.Status != models.MemberStatusActive {
		return false, nil
	}

	warnings := m.countActions(contrib.MemberID, contrib.CycleNumber, models.LateActionWarning)
	penalties := m.countActions(contrib.MemberID, contrib.CycleNumber, models.LateActionPenalty)

	// Ladder is evaluated most severe first so a member far past due is
	// not walked through the milder rungs one sweep at a time.
	var action string
	var penalty float64
	switch {
	case daysLate >= 14:
		action = models.LateActionSuspension
	case daysLate >= 8 && penalties == 0:
		action = models.LateActionPenalty
		penalty = AutoPenalty(contrib.Amount, daysLate)
	case daysLate >= 4 && warnings <= 1:
		action = models.LateActionWarning
	case daysLate >= 1 && warnings == 0:
		action = models.LateActionWarning
	default:
		return false, nil
	}

	return true, m.apply(contrib, &member, action, daysLate, penalty)
}

func (m *LateMonitor) apply(contrib *models.Contribution, member *models.Member, action string, daysLate int, penalty float64) error {
	record := &models.LatePaymentAction{
		GroupID:        contrib.GroupID,
		MemberID:       member.ID,
		ContributionID: contrib.ID,
		CycleNumber:    contrib.CycleNumber,
		Action:         action,
		DaysLate:       daysLate,
		PenaltyAmount:  penalty,
	}

	gid := contrib.GroupID
	switch action {
	case models.LateActionWarning:
		m.notifier.SendToUser(member.UserID, &gid, TemplateLateWarning, map[string]interface{}{
			"cycle":     contrib.CycleNumber,
			"days_late": daysLate,
		})

	case models.LateActionPenalty:
		if err := m.db.Model(&models.Contribution{}).
			Where("id = ? AND status IN ?", contrib.ID,
				[]string{models.ContributionPending, models.ContributionOverdue}).
			Update("late_penalty_amount", penalty).Error; err != nil {
			return err
		}
		m.notifier.SendToUser(member.UserID, &gid, TemplateLatePenalty, map[string]interface{}{
			"cycle":   contrib.CycleNumber,
			"penalty": penalty,
		})

	case models.LateActionSuspension:
		if err := m.db.Model(&models.Member{}).Where("id = ?", member.ID).
			Update("status", models.MemberStatusSuspended).Error; err != nil {
			return err
		}
		m.notifier.SendToUser(member.UserID, &gid, TemplateSuspension, map[string]interface{}{
			"days_late": daysLate,
		})
	}

	if err := m.db.Create(record).Error; err != nil {
		return err
	}

	AuditWarning("late_monitor", "escalate",
		fmt.Sprintf("automatic %s for member %d, contribution %d (%d day(s) late)",
			action, member.ID, contrib.ID, daysLate),
		nil, &gid, record)
	return nil
}

// actedToday reports whether any automatic action was already recorded for
// the member today. Admin-triggered actions do not consume the budget.
func (m *LateMonitor) actedToday(memberID uint, now time.Time) bool {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var n int64
	m.db.Model(&models.LatePaymentAction{}).
		Where("member_id = ? AND triggered_by IS NULL AND created_at >= ?", memberID, dayStart).
		Count(&n)
	return n > 0
}

func (m *LateMonitor) countActions(memberID uint, cycle int, action string) int64 {
	var n int64
	m.db.Model(&models.LatePaymentAction{}).
		Where("member_id = ? AND cycle_number = ? AND action = ?", memberID, cycle, action).
		Count(&n)
	return n
}
