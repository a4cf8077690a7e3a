package services

import (
	"testing"
	"time"

	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

func completeGroup(t *testing.T, db *gorm.DB, group *models.Group, members []models.Member, payoutsFor int) {
	t.Helper()
	now := time.Now()
	for i := 0; i < payoutsFor; i++ {
		payout := models.Payout{
			GroupID:     group.ID,
			CycleNumber: i + 1,
			RecipientID: members[i].ID,
			NetAmount:   float64(len(members)) * group.ContributionAmount,
			Status:      models.PayoutCompleted,
			CompletedAt: &now,
		}
		if err := db.Create(&payout).Error; err != nil {
			t.Fatalf("seed payout: %v", err)
		}
	}
	if err := db.Model(group).Updates(map[string]interface{}{
		"current_cycle": group.TotalCycles + 1,
		"status":        models.GroupStatusCompleted,
	}).Error; err != nil {
		t.Fatalf("update group: %v", err)
	}
	group.CurrentCycle = group.TotalCycles + 1
	group.Status = models.GroupStatusCompleted
}

func TestCheckGroupCompletion_RequiresPayoutsNotJustCycleCounter(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)

	// Counter ran out but only two of three members were ever paid.
	completeGroup(t, db, group, members, 2)

	status, err := svc.CheckGroupCompletion(group.ID)
	if err != nil {
		t.Fatalf("CheckGroupCompletion: %v", err)
	}
	if status.Complete {
		t.Error("Complete = true, expected false while a member is still owed")
	}
	if status.MembersPaid != 2 {
		t.Errorf("MembersPaid = %d, expected 2", status.MembersPaid)
	}
	if len(status.MembersOwed) != 1 || status.MembersOwed[0] != members[2].ID {
		t.Errorf("MembersOwed = %v, expected [%d]", status.MembersOwed, members[2].ID)
	}
}

func TestCheckGroupCompletion_AllPaid(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)

	completeGroup(t, db, group, members, 3)

	status, err := svc.CheckGroupCompletion(group.ID)
	if err != nil {
		t.Fatalf("CheckGroupCompletion: %v", err)
	}
	if !status.Complete {
		t.Error("Complete = false, expected true with every member paid")
	}
	if status.CompletionRate != 100 {
		t.Errorf("CompletionRate = %.2f, expected 100", status.CompletionRate)
	}
}

func TestHandleGroupCompletion_Restart(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)
	completeGroup(t, db, group, members, 3)
	db.Model(&models.Member{}).Where("group_id = ?", group.ID).Update("payout_received", true)

	restarted, err := svc.HandleGroupCompletion(&CompletionRequest{
		GroupID:  group.ID,
		AdminID:  group.AdminID,
		Decision: "restart",
		Amount:   2000,
		Cadence:  models.CadenceMonthly,
	})
	if err != nil {
		t.Fatalf("HandleGroupCompletion: %v", err)
	}

	if restarted.Status != models.GroupStatusActive {
		t.Errorf("status = %q, expected active", restarted.Status)
	}
	if restarted.CurrentCycle != 1 {
		t.Errorf("CurrentCycle = %d, expected reset to 1", restarted.CurrentCycle)
	}
	if restarted.ContributionAmount != 2000 {
		t.Errorf("ContributionAmount = %.2f, expected updated 2000", restarted.ContributionAmount)
	}
	if restarted.Cadence != models.CadenceMonthly {
		t.Errorf("Cadence = %q, expected monthly", restarted.Cadence)
	}

	var unpaid int64
	db.Model(&models.Member{}).
		Where("group_id = ? AND payout_received = ?", group.ID, false).Count(&unpaid)
	if unpaid != 3 {
		t.Errorf("members with payout_received reset = %d, expected 3", unpaid)
	}

	var contribs int64
	db.Model(&models.Contribution{}).
		Where("group_id = ? AND cycle_number = ? AND status = ?",
			group.ID, 1, models.ContributionPending).Count(&contribs)
	if contribs != 3 {
		t.Errorf("first cycle contributions = %d, expected 3", contribs)
	}
}

func TestHandleGroupCompletion_RestartNeedsTwoMembers(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 2, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)
	completeGroup(t, db, group, members, 2)

	now := time.Now()
	db.Model(&members[1]).Updates(map[string]interface{}{
		"status":  models.MemberStatusLeft,
		"left_at": &now,
	})

	_, err := svc.HandleGroupCompletion(&CompletionRequest{
		GroupID:  group.ID,
		AdminID:  group.AdminID,
		Decision: "restart",
	})
	if !response.IsCode(err, response.CodeEmptyGroup) {
		t.Errorf("error = %v, expected code %s", err, response.CodeEmptyGroup)
	}
}

func TestHandleGroupCompletion_Dissolve(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)
	completeGroup(t, db, group, members, 3)

	dissolved, err := svc.HandleGroupCompletion(&CompletionRequest{
		GroupID:  group.ID,
		AdminID:  group.AdminID,
		Decision: "dissolve",
	})
	if err != nil {
		t.Fatalf("HandleGroupCompletion: %v", err)
	}
	if dissolved.Status != models.GroupStatusDissolved {
		t.Errorf("status = %q, expected dissolved", dissolved.Status)
	}

	var stillIn int64
	db.Model(&models.Member{}).
		Where("group_id = ? AND status != ?", group.ID, models.MemberStatusLeft).Count(&stillIn)
	if stillIn != 0 {
		t.Errorf("members not marked left = %d, expected 0", stillIn)
	}
}

func TestHandleGroupCompletion_RejectsUnpaidMembers(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)

	// Counter ran out and the status flipped to completed, but the third
	// member never received a payout. Neither dissolve nor restart may
	// proceed until that debt is settled.
	completeGroup(t, db, group, members, 2)

	for _, decision := range []string{"dissolve", "restart"} {
		_, err := svc.HandleGroupCompletion(&CompletionRequest{
			GroupID:  group.ID,
			AdminID:  group.AdminID,
			Decision: decision,
		})
		if !response.IsCode(err, response.CodeValidationError) {
			t.Errorf("%s: error = %v, expected code %s", decision, err, response.CodeValidationError)
		}
	}

	var reloaded models.Group
	if err := db.First(&reloaded, group.ID).Error; err != nil {
		t.Fatalf("reload group: %v", err)
	}
	if reloaded.Status != models.GroupStatusCompleted {
		t.Errorf("group status = %q, expected untouched completed", reloaded.Status)
	}
}

func TestHandleGroupCompletion_RejectsActiveGroup(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, _ := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)

	_, err := svc.HandleGroupCompletion(&CompletionRequest{
		GroupID:  group.ID,
		AdminID:  group.AdminID,
		Decision: "restart",
	})
	if err == nil {
		t.Fatal("expected rejection for a group still mid-rotation")
	}
}

func TestResumeGroup(t *testing.T) {
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewLifecycleService(db, cfg)
	completeGroup(t, db, group, members, 3)

	if _, err := svc.HandleGroupCompletion(&CompletionRequest{
		GroupID:  group.ID,
		AdminID:  group.AdminID,
		Decision: "pause",
	}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	resumed, err := svc.ResumeGroup(group.ID, group.AdminID)
	if err != nil {
		t.Fatalf("ResumeGroup: %v", err)
	}
	if resumed.Status != models.GroupStatusActive {
		t.Errorf("status = %q, expected active", resumed.Status)
	}

	// A second resume finds the group already active.
	_, err = svc.ResumeGroup(group.ID, group.AdminID)
	if !response.IsCode(err, response.CodeGroupNotPaused) {
		t.Errorf("error = %v, expected code %s", err, response.CodeGroupNotPaused)
	}
}
