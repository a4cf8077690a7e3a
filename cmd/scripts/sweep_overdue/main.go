package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/internal/services"
)

// Manual sweep for unpaid contributions: marks overdue rows and runs the
// escalation ladder once. Useful when the in-process monitor was down past
// its daily slot, or for checking what a sweep would catch.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	dryRun := flag.Bool("dry-run", false, "report overdue contributions without changing anything")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := models.InitDB(&cfg.Database); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()
	services.InitAuditLogger(db)

	now := time.Now()
	cutoff := now.AddDate(0, 0, -cfg.Rotation.GracePeriodDays)

	if *dryRun {
		var pending []models.Contribution
		err := db.Where("status = ? AND due_date < ?", models.ContributionPending, cutoff).
			Order("due_date").Find(&pending).Error
		if err != nil {
			log.Fatalf("Failed to query contributions: %v", err)
		}
		fmt.Printf("%d contribution(s) would be marked overdue:\n", len(pending))
		for _, c := range pending {
			fmt.Printf("  id=%d group=%d member=%d cycle=%d due=%s\n",
				c.ID, c.GroupID, c.MemberID, c.CycleNumber, c.DueDate.Format("2006-01-02"))
		}
		return
	}

	monitor := services.NewLateMonitor(db, &cfg.Rotation)
	if err := monitor.RunOnce(now); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	fmt.Println("Sweep completed")
}
