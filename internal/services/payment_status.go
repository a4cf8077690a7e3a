package services

import (
	"math"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// PaymentStatusService computes per-cycle collection state. It never writes.
type PaymentStatusService struct {
	db  *gorm.DB
	cfg *config.RotationConfig
}

func NewPaymentStatusService(db *gorm.DB, cfg *config.RotationConfig) *PaymentStatusService {
	return &PaymentStatusService{db: db, cfg: cfg}
}

// MemberPaymentStatus is one member's derived state for a cycle. Members
// without a contribution row get a synthesized pending entry at the group's
// configured amount.
type MemberPaymentStatus struct {
	MemberID       uint       `json:"member_id"`
	UserID         uint       `json:"user_id"`
	JoinOrder      int        `json:"join_order"`
	ContributionID uint       `json:"contribution_id"` // 0 when synthesized
	Amount         float64    `json:"amount"`
	Penalty        float64    `json:"penalty"`
	Status         string     `json:"status"` // pending, paid, overdue, cancelled
	DueDate        *time.Time `json:"due_date"`
	PaidDate       *time.Time `json:"paid_date"`
	DaysOverdue    int        `json:"days_overdue"`
}

// PaymentStatusSummary is the group-wide view for one cycle.
type PaymentStatusSummary struct {
	GroupID        uint                  `json:"group_id"`
	CycleNumber    int                   `json:"cycle_number"`
	TotalMembers   int                   `json:"total_members"`
	PaidCount      int                   `json:"paid_count"`
	PendingCount   int                   `json:"pending_count"`
	OverdueCount   int                   `json:"overdue_count"`
	CancelledCount int                   `json:"cancelled_count"`
	CompletionRate float64               `json:"completion_rate"` // percent, paid/total*100
	TotalCollected float64               `json:"total_collected"` // paid rows only, amount+penalty
	Members        []MemberPaymentStatus `json:"members"`
}

// CheckPaymentStatus derives the collection summary for (group, cycle) from
// the rows as they exist right now. Deterministic for a fixed row set.
func (s *PaymentStatusService) CheckPaymentStatus(groupID uint, cycle int) (*PaymentStatusSummary, error) {
	return s.checkPaymentStatusAt(groupID, cycle, time.Now())
}

// checkPaymentStatusAt is the clock-injected core, used directly by tests.
func (s *PaymentStatusService) checkPaymentStatusAt(groupID uint, cycle int, now time.Time) (*PaymentStatusSummary, error) {
	var group models.Group
	if err := s.db.First(&group, groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("group not found")
		}
		return nil, err
	}

	// A zero or negative cycle means "the cycle in flight", not a literal
	// cycle number.
	if cycle <= 0 {
		cycle = group.CurrentCycle
	}

	var members []models.Member
	if err := s.db.Where("group_id = ? AND status = ?", groupID, models.MemberStatusActive).
		Order("join_order ASC").Find(&members).Error; err != nil {
		return nil, err
	}

	var contributions []models.Contribution
	if err := s.db.Where("group_id = ? AND cycle_number = ?", groupID, cycle).
		Find(&contributions).Error; err != nil {
		return nil, err
	}
	byMember := make(map[uint]*models.Contribution, len(contributions))
	for i := range contributions {
		byMember[contributions[i].MemberID] = &contributions[i]
	}

	summary := &PaymentStatusSummary{
		GroupID:      groupID,
		CycleNumber:  cycle,
		TotalMembers: len(members),
		Members:      make([]MemberPaymentStatus, 0, len(members)),
	}

	for _, m := range members {
		ms := MemberPaymentStatus{
			MemberID:  m.ID,
			UserID:    m.UserID,
			JoinOrder: m.JoinOrder,
		}

		row, ok := byMember[m.ID]
		if !ok {
			// No row yet for this member: treat as pending at the group amount.
			ms.Status = models.ContributionPending
			ms.Amount = group.ContributionAmount
		} else {
			ms.ContributionID = row.ID
			ms.Amount = row.Amount
			ms.Penalty = row.LatePenaltyAmount
			due := row.DueDate
			ms.DueDate = &due
			ms.PaidDate = row.PaidDate
			ms.Status = s.deriveStatus(row, now)
			ms.DaysOverdue = DaysLate(row.DueDate, now)
		}

		switch ms.Status {
		case models.ContributionPaid:
			summary.PaidCount++
			summary.TotalCollected += ms.Amount + ms.Penalty
		case models.ContributionOverdue:
			summary.OverdueCount++
		case models.ContributionCancelled:
			summary.CancelledCount++
		default:
			summary.PendingCount++
		}

		summary.Members = append(summary.Members, ms)
	}

	if summary.TotalMembers > 0 {
		summary.CompletionRate = float64(summary.PaidCount) / float64(summary.TotalMembers) * 100
	}

	return summary, nil
}

// deriveStatus maps a stored contribution row to its effective status.
// Terminal stored statuses win; a stored pending row becomes overdue once
// past the grace period even if the overdue sweeper has not run yet.
func (s *PaymentStatusService) deriveStatus(row *models.Contribution, now time.Time) string {
	switch row.Status {
	case models.ContributionPaid, models.ContributionCancelled, models.ContributionOverdue:
		return row.Status
	}
	if DaysLate(row.DueDate, now) > s.cfg.GracePeriodDays {
		return models.ContributionOverdue
	}
	return models.ContributionPending
}

// DaysLate is the whole number of days now is past due, rounded up.
// Zero when due is in the future.
func DaysLate(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(math.Ceil(now.Sub(due).Hours() / 24))
}
