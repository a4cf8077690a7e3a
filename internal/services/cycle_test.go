package services

import (
	"testing"
	"time"

	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
)

func payAll(t *testing.T, svc *CycleService, group *models.Group, members []models.Member, cycle int) {
	t.Helper()
	due := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	for i := range members {
		seedContribution(t, svc.db, group, &members[i], cycle, models.ContributionPaid, due)
	}
}

func TestProcessGroupCycle_AdvancesAndSettles(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewCycleService(db, cfg, nil)
	payAll(t, svc, group, members, 1)

	result, err := svc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID: group.ID,
		AdminID: group.AdminID,
	})
	if err != nil {
		t.Fatalf("ProcessGroupCycle: %v", err)
	}

	if !result.Success {
		t.Error("Success = false")
	}
	if result.PreviousCycle != 1 || result.NewCycle != 2 {
		t.Errorf("cycle advance = %d -> %d, expected 1 -> 2", result.PreviousCycle, result.NewCycle)
	}
	if !result.PayoutCreated {
		t.Error("PayoutCreated = false, expected a new payout")
	}
	if result.RecipientID != members[0].ID {
		t.Errorf("RecipientID = %d, expected first member %d", result.RecipientID, members[0].ID)
	}
	if result.PayoutAmount != 3000 {
		t.Errorf("PayoutAmount = %.2f, expected 3000", result.PayoutAmount)
	}
	if result.ContributionsCreated != 3 {
		t.Errorf("ContributionsCreated = %d, expected 3", result.ContributionsCreated)
	}

	var reloaded models.Group
	db.First(&reloaded, group.ID)
	if reloaded.CurrentCycle != 2 {
		t.Errorf("stored CurrentCycle = %d, expected 2", reloaded.CurrentCycle)
	}

	var recipient models.Member
	db.First(&recipient, members[0].ID)
	if !recipient.PayoutReceived {
		t.Error("recipient PayoutReceived = false, expected true")
	}
}

func TestProcessGroupCycle_PayoutIdempotent(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewCycleService(db, cfg, nil)
	payAll(t, svc, group, members, 1)

	// A previous partial run already settled this cycle's payout.
	existing := models.Payout{
		GroupID:     group.ID,
		CycleNumber: 1,
		RecipientID: members[0].ID,
		NetAmount:   3000,
		Reference:   "preexisting-ref",
		Status:      models.PayoutCompleted,
	}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("seed payout: %v", err)
	}

	result, err := svc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID: group.ID,
		AdminID: group.AdminID,
	})
	if err != nil {
		t.Fatalf("ProcessGroupCycle: %v", err)
	}
	if result.PayoutCreated {
		t.Error("PayoutCreated = true, expected reuse of existing payout")
	}

	var count int64
	db.Model(&models.Payout{}).
		Where("group_id = ? AND cycle_number = ?", group.ID, 1).Count(&count)
	if count != 1 {
		t.Errorf("payout rows = %d, expected exactly 1", count)
	}
}

func TestProcessGroupCycle_BelowThresholdRejected(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewCycleService(db, cfg, nil)

	due := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	seedContribution(t, svc.db, group, &members[0], 1, models.ContributionPaid, due)
	seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPending, due)
	seedContribution(t, svc.db, group, &members[2], 1, models.ContributionPending, due)

	_, err := svc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID: group.ID,
		AdminID: group.AdminID,
	})
	if err == nil {
		t.Fatal("expected rejection below completion threshold")
	}
	if !response.IsCode(err, response.CodeValidationError) {
		t.Errorf("error = %v, expected code %s", err, response.CodeValidationError)
	}
}

func TestProcessGroupCycle_ForceProcessRecordsWarning(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewCycleService(db, cfg, nil)

	due := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	seedContribution(t, svc.db, group, &members[0], 1, models.ContributionPaid, due)
	seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPaid, due)
	seedContribution(t, svc.db, group, &members[2], 1, models.ContributionPending, due)

	result, err := svc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID:      group.ID,
		AdminID:      group.AdminID,
		ForceProcess: true,
	})
	if err != nil {
		t.Fatalf("ProcessGroupCycle with force: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning recorded for forced processing")
	}
}

func TestProcessGroupCycle_FinalCycleCompletesGroup(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 2, 1000, models.CadenceWeekly)
	svc := NewCycleService(db, cfg, nil)

	// Move the group onto its last cycle with an elapsed window.
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if err := db.Model(group).Updates(map[string]interface{}{
		"current_cycle":    2,
		"cycle_start_date": start,
		"cycle_end_date":   start.AddDate(0, 0, 7),
	}).Error; err != nil {
		t.Fatalf("update group: %v", err)
	}
	group.CurrentCycle = 2
	payAll(t, svc, group, members, 2)

	result, err := svc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID: group.ID,
		AdminID: group.AdminID,
	})
	if err != nil {
		t.Fatalf("ProcessGroupCycle: %v", err)
	}
	if !result.GroupCompleted {
		t.Error("GroupCompleted = false, expected true on final cycle")
	}

	var reloaded models.Group
	db.First(&reloaded, group.ID)
	if reloaded.Status != models.GroupStatusCompleted {
		t.Errorf("group status = %q, expected completed", reloaded.Status)
	}
	if reloaded.CurrentCycle != reloaded.TotalCycles+1 {
		t.Errorf("CurrentCycle = %d, expected TotalCycles+1 = %d",
			reloaded.CurrentCycle, reloaded.TotalCycles+1)
	}
}

func TestProcessGroupCycle_WindowNotElapsed(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 2, 1000, models.CadenceWeekly)
	svc := NewCycleService(db, cfg, nil)

	future := time.Now().AddDate(0, 0, 3)
	if err := db.Model(group).Update("cycle_end_date", future).Error; err != nil {
		t.Fatalf("update group: %v", err)
	}
	payAll(t, svc, group, members, 1)

	_, err := svc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID: group.ID,
		AdminID: group.AdminID,
	})
	if err == nil {
		t.Fatal("expected rejection while cycle window is still open")
	}
}
