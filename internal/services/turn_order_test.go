package services

import (
	"testing"
	"time"

	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
)

func makeMembers(statuses ...string) []models.Member {
	members := make([]models.Member, len(statuses))
	for i, s := range statuses {
		members[i] = models.Member{
			ID:        uint(i + 1),
			UserID:    uint(100 + i + 1),
			JoinOrder: i + 1,
			Status:    s,
		}
	}
	return members
}

func TestCalculateTurnOrder_RoundRobin(t *testing.T) {
	calc := NewTurnOrderCalculator(false)
	group := &models.Group{
		TotalCycles:    4,
		Cadence:        models.CadenceWeekly,
		CycleStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	members := makeMembers(
		models.MemberStatusActive,
		models.MemberStatusActive,
		models.MemberStatusActive,
		models.MemberStatusActive,
	)

	entries, err := calc.CalculateTurnOrder(group, members, 2)
	if err != nil {
		t.Fatalf("CalculateTurnOrder: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, expected 4", len(entries))
	}

	for i, e := range entries {
		wantOrder := i + 1
		if e.JoinOrder != wantOrder {
			t.Errorf("cycle %d recipient join order = %d, expected %d", e.Cycle, e.JoinOrder, wantOrder)
		}
	}

	if entries[0].Status != TurnCompleted {
		t.Errorf("cycle 1 status = %q, expected %q", entries[0].Status, TurnCompleted)
	}
	if entries[1].Status != TurnCurrent {
		t.Errorf("cycle 2 status = %q, expected %q", entries[1].Status, TurnCurrent)
	}
	if entries[2].Status != TurnUpcoming {
		t.Errorf("cycle 3 status = %q, expected %q", entries[2].Status, TurnUpcoming)
	}
}

func TestCalculateTurnOrder_WrapsAroundActiveMembers(t *testing.T) {
	calc := NewTurnOrderCalculator(false)
	group := &models.Group{
		TotalCycles:    5,
		Cadence:        models.CadenceWeekly,
		CycleStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	members := makeMembers(
		models.MemberStatusActive,
		models.MemberStatusActive,
		models.MemberStatusActive,
		models.MemberStatusActive,
	)

	entries, err := calc.CalculateTurnOrder(group, members, 1)
	if err != nil {
		t.Fatalf("CalculateTurnOrder: %v", err)
	}
	// Cycle 5 with 4 members wraps back to the first join order.
	if entries[4].JoinOrder != 1 {
		t.Errorf("cycle 5 recipient join order = %d, expected 1", entries[4].JoinOrder)
	}
}

func TestCalculateTurnOrder_SkipsInactiveMembers(t *testing.T) {
	calc := NewTurnOrderCalculator(false)
	group := &models.Group{
		TotalCycles:    3,
		Cadence:        models.CadenceMonthly,
		CycleStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	members := makeMembers(
		models.MemberStatusActive,
		models.MemberStatusSuspended,
		models.MemberStatusActive,
		models.MemberStatusLeft,
	)

	entries, err := calc.CalculateTurnOrder(group, members, 1)
	if err != nil {
		t.Fatalf("CalculateTurnOrder: %v", err)
	}
	for _, e := range entries {
		if e.JoinOrder != 1 && e.JoinOrder != 3 {
			t.Errorf("cycle %d assigned to join order %d, expected only active members 1 or 3", e.Cycle, e.JoinOrder)
		}
	}
	// Two actives: cycle 3 wraps back to the first.
	if entries[2].JoinOrder != 1 {
		t.Errorf("cycle 3 recipient join order = %d, expected 1", entries[2].JoinOrder)
	}
}

func TestCalculateTurnOrder_EmptyGroup(t *testing.T) {
	calc := NewTurnOrderCalculator(false)
	group := &models.Group{TotalCycles: 3, Cadence: models.CadenceWeekly}
	members := makeMembers(models.MemberStatusLeft, models.MemberStatusLeft)

	_, err := calc.CalculateTurnOrder(group, members, 1)
	if err == nil {
		t.Fatal("expected error for group with no active members")
	}
	if !response.IsCode(err, response.CodeEmptyGroup) {
		t.Errorf("error code = %v, expected %s", err, response.CodeEmptyGroup)
	}
}

func TestCalculateTurnOrder_MonthlySchedule(t *testing.T) {
	calc := NewTurnOrderCalculator(false)
	group := &models.Group{
		TotalCycles:    3,
		Cadence:        models.CadenceMonthly,
		CycleStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	members := makeMembers(
		models.MemberStatusActive,
		models.MemberStatusActive,
		models.MemberStatusActive,
	)

	entries, err := calc.CalculateTurnOrder(group, members, 1)
	if err != nil {
		t.Fatalf("CalculateTurnOrder: %v", err)
	}

	wantSecond := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !entries[1].ScheduledDate.Equal(wantSecond) {
		t.Errorf("cycle 2 scheduled date = %v, expected %v", entries[1].ScheduledDate, wantSecond)
	}
	if entries[1].JoinOrder != 2 {
		t.Errorf("cycle 2 recipient join order = %d, expected 2", entries[1].JoinOrder)
	}
}

func TestScheduleDate_WeekendRoll(t *testing.T) {
	calc := NewTurnOrderCalculator(true)
	// 2024-01-06 is a Saturday.
	sat := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	got := calc.RollToWorkday(sat)
	want := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("RollToWorkday(Sat) = %v, expected Monday %v", got, want)
	}

	noSkip := NewTurnOrderCalculator(false)
	if got := noSkip.RollToWorkday(sat); !got.Equal(sat) {
		t.Errorf("RollToWorkday without skipWeekends = %v, expected unchanged %v", got, sat)
	}
}

func TestAddCadence(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cadence string
		n       int
		want    time.Time
	}{
		{"daily", models.CadenceDaily, 3, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)},
		{"weekly", models.CadenceWeekly, 2, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)},
		{"monthly normalizes", models.CadenceMonthly, 1, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"zero units", models.CadenceWeekly, 0, start},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddCadence(start, tt.cadence, tt.n); !got.Equal(tt.want) {
				t.Errorf("AddCadence(%s, %d) = %v, expected %v", tt.cadence, tt.n, got, tt.want)
			}
		})
	}
}

func TestDaysLate(t *testing.T) {
	due := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before due", due.Add(-time.Hour), 0},
		{"exactly due", due, 0},
		{"one hour late rounds up", due.Add(time.Hour), 1},
		{"exactly one day", due.Add(24 * time.Hour), 1},
		{"nine days and change", due.Add(9*24*time.Hour + time.Minute), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysLate(due, tt.now); got != tt.want {
				t.Errorf("DaysLate = %d, expected %d", got, tt.want)
			}
		})
	}
}
