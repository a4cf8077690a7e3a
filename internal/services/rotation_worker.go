package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// RotationWorker consumes rotation and reminder tasks from asynq. It is
// only started when Redis is enabled; in poll-only mode the Dispatcher
// alone drives execution.
type RotationWorker struct {
	server   *asynq.Server
	rotation *RotationService
	notifier *NotificationService
	db       *gorm.DB
}

func NewRotationWorker(db *gorm.DB, cfg *config.Config, rotation *RotationService) *RotationWorker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueRotations: 3,
				queueReminders: 1,
			},
			Logger: asynqLogger{},
		},
	)
	return &RotationWorker{
		server:   server,
		rotation: rotation,
		notifier: NewNotificationService(db),
		db:       db,
	}
}

func (w *RotationWorker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeRotation, w.handleRotation)
	mux.HandleFunc(TaskTypeReminder, w.handleReminder)
	logger.Info().Msg("rotation worker started")
	return w.server.Start(mux)
}

func (w *RotationWorker) Stop() {
	w.server.Shutdown()
}

func (w *RotationWorker) handleRotation(ctx context.Context, t *asynq.Task) error {
	var task RotationTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("unmarshal rotation task: %w", err)
	}
	// ExecuteJob swallows stale and already-claimed jobs itself; an error
	// here means the job row could not even be transitioned, which is
	// worth surfacing to asynq's log.
	return w.rotation.ExecuteJob(task.JobID)
}

func (w *RotationWorker) handleReminder(ctx context.Context, t *asynq.Task) error {
	var task ReminderTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("unmarshal reminder task: %w", err)
	}

	var contrib models.Contribution
	if err := w.db.First(&contrib, task.ContributionID).Error; err != nil {
		// Contribution gone: nothing to remind about.
		return nil
	}
	if contrib.IsTerminal() {
		return nil
	}

	var member models.Member
	if err := w.db.First(&member, contrib.MemberID).Error; err != nil {
		return nil
	}
	gid := contrib.GroupID
	w.notifier.SendToUser(member.UserID, &gid, TemplatePaymentReminder, map[string]interface{}{
		"cycle":    contrib.CycleNumber,
		"amount":   contrib.Amount,
		"due_date": contrib.DueDate.Format("2006-01-02"),
	})
	return nil
}

// asynqLogger adapts asynq's logging to zerolog. zerolog's level methods
// have pointer receivers, so the component logger lives in a package var.
var asynqLog = logger.Component("asynq")

type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { asynqLog.Debug().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{})  { asynqLog.Info().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{})  { asynqLog.Warn().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { asynqLog.Error().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...interface{}) { asynqLog.Fatal().Msg(fmt.Sprint(args...)) }

// Dispatcher is the durability net under the queue: a periodic DB poll
// that claims due pending rotation jobs and executes them. With Redis it
// only catches what the transport dropped (restart, eviction); without
// Redis it is the sole driver.
type Dispatcher struct {
	db       *gorm.DB
	rotation *RotationService
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	log      zerolog.Logger
}

func NewDispatcher(db *gorm.DB, rotation *RotationService, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Dispatcher{
		db:       db,
		rotation: rotation,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.Component("dispatcher"),
	}
}

func (d *Dispatcher) Start() {
	go d.loop()
	d.log.Info().Dur("interval", d.interval).Msg("rotation dispatcher started")
}

func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	// Recover anything a crash stranded before the first tick.
	d.recoverStuck()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.dispatchDue()
		}
	}
}

// dispatchDue executes every pending job whose scheduled time has passed.
// ExecuteJob's guarded claim makes racing an asynq worker harmless.
func (d *Dispatcher) dispatchDue() {
	var jobs []models.TurnRotationJob
	err := d.db.Where("status = ? AND scheduled_at <= ?", models.RotationPending, time.Now()).
		Order("scheduled_at").Limit(50).Find(&jobs).Error
	if err != nil {
		d.log.Error().Err(err).Msg("dispatcher poll failed")
		return
	}
	for i := range jobs {
		if err := d.rotation.ExecuteJob(jobs[i].ID); err != nil {
			d.log.Error().Err(err).Uint("job_id", jobs[i].ID).Msg("dispatched rotation job errored")
		}
	}
}

// recoverStuck re-arms jobs left in processing by a crashed worker. Ten
// minutes is far past any plausible execution time.
func (d *Dispatcher) recoverStuck() {
	cutoff := time.Now().Add(-10 * time.Minute)
	res := d.db.Model(&models.TurnRotationJob{}).
		Where("status = ? AND updated_at < ?", models.RotationProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       models.RotationPending,
			"scheduled_at": time.Now(),
		})
	if res.Error != nil {
		d.log.Error().Err(res.Error).Msg("stuck job recovery failed")
		return
	}
	if res.RowsAffected > 0 {
		d.log.Warn().Int64("count", res.RowsAffected).Msg("recovered stuck rotation jobs")
	}
}
