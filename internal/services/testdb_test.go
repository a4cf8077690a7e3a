package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// A pooled second connection would see a different in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("test db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Member{},
		&models.Contribution{},
		&models.Payout{},
		&models.TurnRotationJob{},
		&models.LatePaymentAction{},
		&models.NotificationChannel{},
		&models.Notification{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	InitAuditLogger(db)
	return db
}

func testRotationConfig() *config.RotationConfig {
	return &config.RotationConfig{
		GracePeriodDays:     3,
		CompletionThreshold: 90,
		DelayMinutes:        5,
		RetryBackoffMinutes: 10,
		MaxAttempts:         3,
		DueDateOffsetDays:   7,
	}
}

// seedGroup creates a group with n active members. The first member's user
// is the group admin. Returns the group and its members in join order.
func seedGroup(t *testing.T, db *gorm.DB, n int, amount float64, cadence string) (*models.Group, []models.Member) {
	t.Helper()

	users := make([]models.User, n)
	for i := range users {
		users[i] = models.User{
			Phone:    fmt.Sprintf("07000000%02d", i+1),
			Name:     fmt.Sprintf("Member %d", i+1),
			IsActive: true,
		}
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	group := &models.Group{
		Name:               "Test Chama",
		AdminID:            users[0].ID,
		Currency:           "KES",
		MemberCount:        n,
		ContributionAmount: amount,
		Cadence:            cadence,
		CurrentCycle:       1,
		TotalCycles:        n,
		CycleStartDate:     start,
		CycleEndDate:       AddCadence(start, cadence, 1),
		Status:             models.GroupStatusActive,
	}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("seed group: %v", err)
	}

	members := make([]models.Member, n)
	for i := range members {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		members[i] = models.Member{
			GroupID:   group.ID,
			UserID:    users[i].ID,
			Role:      role,
			JoinOrder: i + 1,
			Status:    models.MemberStatusActive,
			JoinedAt:  start,
		}
		if err := db.Create(&members[i]).Error; err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	return group, members
}

// seedContribution creates one contribution row.
func seedContribution(t *testing.T, db *gorm.DB, group *models.Group, member *models.Member, cycle int, status string, due time.Time) *models.Contribution {
	t.Helper()
	contrib := &models.Contribution{
		GroupID:     group.ID,
		MemberID:    member.ID,
		CycleNumber: cycle,
		Amount:      group.ContributionAmount,
		DueDate:     due,
		Status:      status,
	}
	if status == models.ContributionPaid {
		paid := due
		contrib.PaidDate = &paid
	}
	if err := db.Create(contrib).Error; err != nil {
		t.Fatalf("seed contribution: %v", err)
	}
	return contrib
}
