package services

import (
	"sort"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
)

// Turn entry status values
const (
	TurnCompleted = "completed"
	TurnCurrent   = "current"
	TurnUpcoming  = "upcoming"
)

// TurnOrderEntry is one cycle's slot in a group's payout schedule.
type TurnOrderEntry struct {
	Cycle         int       `json:"cycle"`
	MemberID      uint      `json:"member_id"`
	UserID        uint      `json:"user_id"`
	JoinOrder     int       `json:"join_order"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Status        string    `json:"status"` // completed, current, upcoming
}

// TurnOrderCalculator derives the payout rotation for a group. It is pure:
// all inputs are passed in, nothing is read or written.
type TurnOrderCalculator struct {
	skipWeekends bool
	calendar     *cal.BusinessCalendar
}

func NewTurnOrderCalculator(skipWeekends bool) *TurnOrderCalculator {
	c := &TurnOrderCalculator{skipWeekends: skipWeekends}
	if skipWeekends {
		c.calendar = cal.NewBusinessCalendar()
	}
	return c
}

// CalculateTurnOrder returns one entry per cycle 1..group.TotalCycles.
// Recipient for cycle c is the active member at position (c-1) mod N of the
// join-order-sorted list. Fairness holds for a static member set only;
// mid-rotation membership changes are not rebalanced.
func (t *TurnOrderCalculator) CalculateTurnOrder(group *models.Group, members []models.Member, currentCycle int) ([]TurnOrderEntry, error) {
	active := ActiveByJoinOrder(members)
	if len(active) == 0 {
		return nil, response.NewEmptyGroup("group has no active members")
	}

	entries := make([]TurnOrderEntry, 0, group.TotalCycles)
	for cycle := 1; cycle <= group.TotalCycles; cycle++ {
		recipient := active[(cycle-1)%len(active)]

		status := TurnUpcoming
		if cycle < currentCycle {
			status = TurnCompleted
		} else if cycle == currentCycle {
			status = TurnCurrent
		}

		entries = append(entries, TurnOrderEntry{
			Cycle:         cycle,
			MemberID:      recipient.ID,
			UserID:        recipient.UserID,
			JoinOrder:     recipient.JoinOrder,
			ScheduledDate: t.ScheduleDate(group.CycleStartDate, group.Cadence, cycle),
			Status:        status,
		})
	}

	return entries, nil
}

// RecipientForCycle returns the member due the payout for the given cycle.
func (t *TurnOrderCalculator) RecipientForCycle(members []models.Member, cycle int) (*models.Member, error) {
	active := ActiveByJoinOrder(members)
	if len(active) == 0 {
		return nil, response.NewEmptyGroup("group has no active members")
	}
	m := active[(cycle-1)%len(active)]
	return &m, nil
}

// ScheduleDate offsets the group start date by (cycle-1) cadence units.
// Month arithmetic is calendar-aware (Jan 31 + 1 month normalizes per
// time.AddDate). With skipWeekends enabled, dates landing on a non-workday
// roll forward to the next workday.
func (t *TurnOrderCalculator) ScheduleDate(start time.Time, cadence string, cycle int) time.Time {
	return t.RollToWorkday(AddCadence(start, cadence, cycle-1))
}

// RollToWorkday moves a date forward to the next workday when weekend
// skipping is enabled; otherwise it returns the date unchanged.
func (t *TurnOrderCalculator) RollToWorkday(d time.Time) time.Time {
	if t.skipWeekends && t.calendar != nil {
		for !t.calendar.IsWorkday(d) {
			d = d.AddDate(0, 0, 1)
		}
	}
	return d
}

// AddCadence advances a date by n cadence units.
func AddCadence(start time.Time, cadence string, n int) time.Time {
	switch cadence {
	case models.CadenceDaily:
		return start.AddDate(0, 0, n)
	case models.CadenceWeekly:
		return start.AddDate(0, 0, 7*n)
	case models.CadenceMonthly:
		return start.AddDate(0, n, 0)
	default:
		return start.AddDate(0, n, 0)
	}
}

// ActiveByJoinOrder filters members to active status and sorts them
// ascending by join order.
func ActiveByJoinOrder(members []models.Member) []models.Member {
	active := make([]models.Member, 0, len(members))
	for _, m := range members {
		if m.Status == models.MemberStatusActive {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].JoinOrder < active[j].JoinOrder
	})
	return active
}
