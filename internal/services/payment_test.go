package services

import (
	"testing"
	"time"

	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
)

func TestAutoPenalty(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		daysLate int
		want     float64
	}{
		{"on time", 1000, 0, 0},
		{"negative days", 1000, -2, 0},
		{"five days", 1000, 5, 50},
		{"at cap", 1000, 30, 300},
		{"past cap stays at 30 days", 1000, 45, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoPenalty(tt.amount, tt.daysLate); got != tt.want {
				t.Errorf("AutoPenalty(%.0f, %d) = %.2f, expected %.2f", tt.amount, tt.daysLate, got, tt.want)
			}
		})
	}
}

func newTestPaymentService(t *testing.T) (*PaymentService, *models.Group, []models.Member) {
	t.Helper()
	db := testDB(t)
	cfg := testRotationConfig()
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	rotationSvc := NewRotationService(db, cfg, nil)
	return NewPaymentService(db, cfg, rotationSvc, nil), group, members
}

func TestConfirmMemberPayment_Basic(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, 2)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPending, due)

	conf, err := svc.ConfirmMemberPayment(&ConfirmPaymentRequest{
		ContributionID:   contrib.ID,
		AdminID:          group.AdminID,
		ConfirmationType: "mobile_money",
	})
	if err != nil {
		t.Fatalf("ConfirmMemberPayment: %v", err)
	}
	if conf.Penalty != 0 {
		t.Errorf("Penalty = %.2f, expected 0 for on-time payment", conf.Penalty)
	}
	if conf.DaysLate != 0 {
		t.Errorf("DaysLate = %d, expected 0", conf.DaysLate)
	}

	var stored models.Contribution
	if err := svc.db.First(&stored, contrib.ID).Error; err != nil {
		t.Fatalf("reload contribution: %v", err)
	}
	if stored.Status != models.ContributionPaid {
		t.Errorf("stored status = %q, expected paid", stored.Status)
	}
	if stored.ConfirmedBy == nil || *stored.ConfirmedBy != group.AdminID {
		t.Errorf("ConfirmedBy = %v, expected admin %d", stored.ConfirmedBy, group.AdminID)
	}
}

func TestConfirmMemberPayment_AppliesLatePenalty(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	// A hair under 5 full days late so the ceiling lands on exactly 5.
	due := time.Now().Add(-5*24*time.Hour + time.Hour)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionOverdue, due)

	conf, err := svc.ConfirmMemberPayment(&ConfirmPaymentRequest{
		ContributionID:   contrib.ID,
		AdminID:          group.AdminID,
		ConfirmationType: "cash",
	})
	if err != nil {
		t.Fatalf("ConfirmMemberPayment: %v", err)
	}
	if conf.DaysLate != 5 {
		t.Errorf("DaysLate = %d, expected 5", conf.DaysLate)
	}
	if conf.Penalty != 50 {
		t.Errorf("Penalty = %.2f, expected 50 (1%% per day for 5 days on 1000)", conf.Penalty)
	}
}

func TestConfirmMemberPayment_AlreadyConfirmed(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, 2)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPending, due)

	req := &ConfirmPaymentRequest{
		ContributionID:   contrib.ID,
		AdminID:          group.AdminID,
		ConfirmationType: "cash",
	}
	if _, err := svc.ConfirmMemberPayment(req); err != nil {
		t.Fatalf("first confirmation: %v", err)
	}

	_, err := svc.ConfirmMemberPayment(req)
	if err == nil {
		t.Fatal("expected error on second confirmation")
	}
	if !response.IsCode(err, response.CodeAlreadyConfirmed) {
		t.Errorf("error = %v, expected code %s", err, response.CodeAlreadyConfirmed)
	}

	// Paid stays paid: no penalty or date overwritten.
	var stored models.Contribution
	svc.db.First(&stored, contrib.ID)
	if stored.Status != models.ContributionPaid {
		t.Errorf("stored status = %q, expected paid to remain", stored.Status)
	}
}

func TestConfirmMemberPayment_RequiresGroupAdmin(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, 2)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPending, due)

	_, err := svc.ConfirmMemberPayment(&ConfirmPaymentRequest{
		ContributionID:   contrib.ID,
		AdminID:          members[2].UserID, // plain member
		ConfirmationType: "cash",
	})
	if err == nil {
		t.Fatal("expected permission error for non-admin")
	}
	if !response.IsCode(err, response.CodePermissionDenied) {
		t.Errorf("error = %v, expected code %s", err, response.CodePermissionDenied)
	}
}

func TestConfirmMemberPayment_FullCollectionSchedulesRotation(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, 2)
	seedContribution(t, svc.db, group, &members[0], 1, models.ContributionPaid, due)
	seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPaid, due)
	last := seedContribution(t, svc.db, group, &members[2], 1, models.ContributionPending, due)

	conf, err := svc.ConfirmMemberPayment(&ConfirmPaymentRequest{
		ContributionID:   last.ID,
		AdminID:          group.AdminID,
		ConfirmationType: "bank",
	})
	if err != nil {
		t.Fatalf("ConfirmMemberPayment: %v", err)
	}
	if !conf.CycleComplete {
		t.Error("CycleComplete = false, expected true after last payment")
	}
	if !conf.RotationScheduled {
		t.Error("RotationScheduled = false, expected true")
	}

	var job models.TurnRotationJob
	if err := svc.db.Where("job_key = ?", models.JobKeyFor(group.ID, 1)).
		First(&job).Error; err != nil {
		t.Fatalf("rotation job not created: %v", err)
	}
	if job.Status != models.RotationPending {
		t.Errorf("job status = %q, expected pending", job.Status)
	}
}

func TestHandleLatePayment_FlatPenalty(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, -10)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionOverdue, due)

	action, err := svc.HandleLatePayment(&LatePaymentRequest{
		ContributionID: contrib.ID,
		AdminID:        group.AdminID,
		Action:         models.LateActionPenalty,
	})
	if err != nil {
		t.Fatalf("HandleLatePayment: %v", err)
	}
	// Admin override is a flat 5%, independent of days late.
	if action.PenaltyAmount != 50 {
		t.Errorf("PenaltyAmount = %.2f, expected flat 50", action.PenaltyAmount)
	}
	if action.TriggeredBy == nil || *action.TriggeredBy != group.AdminID {
		t.Errorf("TriggeredBy = %v, expected admin %d", action.TriggeredBy, group.AdminID)
	}

	var stored models.Contribution
	svc.db.First(&stored, contrib.ID)
	if stored.LatePenaltyAmount != 50 {
		t.Errorf("stored penalty = %.2f, expected 50", stored.LatePenaltyAmount)
	}
}

func TestHandleLatePayment_Suspension(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, -20)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionOverdue, due)

	if _, err := svc.HandleLatePayment(&LatePaymentRequest{
		ContributionID: contrib.ID,
		AdminID:        group.AdminID,
		Action:         models.LateActionSuspension,
	}); err != nil {
		t.Fatalf("HandleLatePayment: %v", err)
	}

	var member models.Member
	svc.db.First(&member, members[1].ID)
	if member.Status != models.MemberStatusSuspended {
		t.Errorf("member status = %q, expected suspended", member.Status)
	}
}

func TestHandleLatePayment_RejectsSettledContribution(t *testing.T) {
	svc, group, members := newTestPaymentService(t)

	due := time.Now().AddDate(0, 0, -2)
	contrib := seedContribution(t, svc.db, group, &members[1], 1, models.ContributionPaid, due)

	_, err := svc.HandleLatePayment(&LatePaymentRequest{
		ContributionID: contrib.ID,
		AdminID:        group.AdminID,
		Action:         models.LateActionWarning,
	})
	if err == nil {
		t.Fatal("expected error for already settled contribution")
	}
}
