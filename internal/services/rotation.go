package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/logger"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// RotationService manages turn rotation jobs. The TurnRotationJob table is
// the source of truth: asynq only accelerates execution, and a poll
// dispatcher picks up anything a restart or dead worker left behind.
type RotationService struct {
	db       *gorm.DB
	cfg      *config.RotationConfig
	notifier *NotificationService
	queue    TaskQueue
}

func NewRotationService(db *gorm.DB, cfg *config.RotationConfig, queue TaskQueue) *RotationService {
	return &RotationService{
		db:       db,
		cfg:      cfg,
		notifier: NewNotificationService(db),
		queue:    queue,
	}
}

// ScheduleAutomaticRotation creates a durable rotation job for the group's
// cycle, due after delayMinutes (falling back to the configured delay). A
// live job for the same (group, cycle) yields ALREADY_SCHEDULED; a failed
// one is reset and re-armed.
func (s *RotationService) ScheduleAutomaticRotation(groupID uint, cycleNumber, delayMinutes int) (*models.TurnRotationJob, error) {
	if delayMinutes <= 0 {
		delayMinutes = s.cfg.DelayMinutes
	}
	delay := time.Duration(delayMinutes) * time.Minute
	jobKey := models.JobKeyFor(groupID, cycleNumber)

	var existing models.TurnRotationJob
	err := s.db.Where("job_key = ?", jobKey).First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == models.RotationPending || existing.Status == models.RotationProcessing {
			return nil, response.NewTerminalState(response.CodeAlreadyScheduled,
				"a rotation is already scheduled for this cycle")
		}
		if existing.Status == models.RotationCompleted {
			return nil, response.NewTerminalState(response.CodeAlreadyScheduled,
				"this cycle's rotation has already run")
		}
		// Failed job: reset it and arm a fresh attempt.
		return s.rearm(&existing, delay)
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to create
	default:
		return nil, err
	}

	job := &models.TurnRotationJob{
		GroupID:     groupID,
		CycleNumber: cycleNumber,
		JobKey:      jobKey,
		ScheduledAt: time.Now().Add(delay),
		Status:      models.RotationPending,
		MaxAttempts: s.cfg.MaxAttempts,
	}
	if err := s.db.Create(job).Error; err != nil {
		// The unique index on job_key closes the check-then-create race.
		if isDuplicateKey(err) {
			return nil, response.NewTerminalState(response.CodeAlreadyScheduled,
				"a rotation is already scheduled for this cycle")
		}
		return nil, err
	}

	s.enqueue(job, delay)
	AuditInfo("rotation", "schedule",
		fmt.Sprintf("rotation job %d scheduled for group %d cycle %d", job.ID, groupID, cycleNumber),
		nil, &groupID, job)
	return job, nil
}

// ScheduleRotationForAdmin is the API entry point: it verifies the caller
// is the group admin before arming the job. The payment flow schedules
// directly, having already checked permissions on the confirmation.
func (s *RotationService) ScheduleRotationForAdmin(groupID uint, cycleNumber, delayMinutes int, adminID uint) (*models.TurnRotationJob, error) {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, adminID); err != nil {
		return nil, err
	}
	if group.Status != models.GroupStatusActive {
		return nil, response.NewValidationError("group is not active")
	}
	if cycleNumber != group.CurrentCycle {
		return nil, response.NewValidationError(
			fmt.Sprintf("cycle %d is not the group's current cycle (%d)", cycleNumber, group.CurrentCycle))
	}
	return s.ScheduleAutomaticRotation(groupID, cycleNumber, delayMinutes)
}

func (s *RotationService) rearm(job *models.TurnRotationJob, delay time.Duration) (*models.TurnRotationJob, error) {
	res := s.db.Model(&models.TurnRotationJob{}).
		Where("id = ? AND status = ?", job.ID, models.RotationFailed).
		Updates(map[string]interface{}{
			"status":        models.RotationPending,
			"attempts":      0,
			"error_message": "",
			"scheduled_at":  time.Now().Add(delay),
			"task_id":       "",
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, response.NewTerminalState(response.CodeAlreadyScheduled,
			"a rotation is already scheduled for this cycle")
	}
	if err := s.db.First(job, job.ID).Error; err != nil {
		return nil, err
	}
	s.enqueue(job, delay)
	AuditInfo("rotation", "reschedule",
		fmt.Sprintf("failed rotation job %d re-armed", job.ID), nil, &job.GroupID, job)
	return job, nil
}

// enqueue pushes the job to asynq when Redis is on. Failure is tolerable:
// the poll dispatcher will pick the row up once it is due.
func (s *RotationService) enqueue(job *models.TurnRotationJob, delay time.Duration) {
	if s.queue == nil || !s.queue.IsAsync() {
		return
	}
	taskID, err := s.queue.EnqueueRotation(&RotationTask{
		JobID:       job.ID,
		GroupID:     job.GroupID,
		CycleNumber: job.CycleNumber,
	}, delay)
	if err != nil {
		logger.Warn().Err(err).Uint("job_id", job.ID).Msg("failed to enqueue rotation task")
		return
	}
	if err := s.db.Model(job).Update("task_id", taskID).Error; err != nil {
		logger.Warn().Err(err).Uint("job_id", job.ID).Msg("failed to store rotation task id")
	}
}

// CancelScheduledRotation removes a pending job. Anything already claimed
// by a worker, completed, or failed is past the point of cancellation.
func (s *RotationService) CancelScheduledRotation(groupID uint, cycleNumber int, adminID uint) error {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return err
	}
	if err := requireGroupAdmin(s.db, group, adminID); err != nil {
		return err
	}

	res := s.db.Where("job_key = ? AND status = ?",
		models.JobKeyFor(groupID, cycleNumber), models.RotationPending).
		Delete(&models.TurnRotationJob{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return response.NewNotFound("no pending rotation for this cycle")
	}
	AuditInfo("rotation", "cancel",
		fmt.Sprintf("pending rotation cancelled for group %d cycle %d", groupID, cycleNumber),
		&adminID, &groupID, nil)
	return nil
}

// GetJob returns a rotation job's current state.
func (s *RotationService) GetJob(jobID uint) (*models.TurnRotationJob, error) {
	var job models.TurnRotationJob
	if err := s.db.First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("rotation job not found")
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs returns a group's rotation jobs, newest first.
func (s *RotationService) ListJobs(groupID uint) ([]models.TurnRotationJob, error) {
	var jobs []models.TurnRotationJob
	err := s.db.Where("group_id = ?", groupID).
		Order("cycle_number DESC").Find(&jobs).Error
	return jobs, err
}

// ExecuteJob runs a rotation job end to end. It is safe to call more than
// once for the same job and from competing workers: claiming is a guarded
// update, and a cycle that already advanced resolves to a no-op success.
func (s *RotationService) ExecuteJob(jobID uint) error {
	job, claimed, err := s.claim(jobID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	group, err := loadGroup(s.db, job.GroupID)
	if err != nil {
		return s.fail(job, err)
	}

	// The world may have moved since scheduling. A cycle that is no
	// longer current was advanced by hand; that is success, not failure.
	if group.CurrentCycle != job.CycleNumber || group.Status != models.GroupStatusActive {
		logger.Info().Uint("job_id", job.ID).Int("cycle", job.CycleNumber).
			Int("current_cycle", group.CurrentCycle).
			Msg("rotation job is stale, completing as no-op")
		return s.complete(job)
	}

	// Readiness can regress between scheduling and firing (a contribution
	// cancelled, a member suspended). That is not a failure worth retrying.
	statusSvc := NewPaymentStatusService(s.db, s.cfg)
	summary, err := statusSvc.CheckPaymentStatus(job.GroupID, job.CycleNumber)
	if err != nil {
		return s.fail(job, err)
	}
	if summary.CompletionRate < s.cfg.CompletionThreshold {
		logger.Info().Uint("job_id", job.ID).
			Float64("completion_rate", summary.CompletionRate).
			Msg("group no longer ready, completing rotation job as no-op")
		return s.complete(job)
	}

	cycleSvc := NewCycleService(s.db, s.cfg, s.queue)
	result, err := cycleSvc.ProcessGroupCycle(&ProcessCycleRequest{
		GroupID: job.GroupID,
		AdminID: group.AdminID,
	})
	if err != nil {
		return s.fail(job, err)
	}

	if err := s.complete(job); err != nil {
		return err
	}
	AuditInfo("rotation", "execute",
		fmt.Sprintf("rotation job %d advanced group %d to cycle %d", job.ID, job.GroupID, result.NewCycle),
		nil, &job.GroupID, result)
	return nil
}

// claim atomically moves a pending job to processing and charges an
// attempt. A zero-row update means another worker got there first or the
// job is past its state.
func (s *RotationService) claim(jobID uint) (*models.TurnRotationJob, bool, error) {
	res := s.db.Model(&models.TurnRotationJob{}).
		Where("id = ? AND status = ?", jobID, models.RotationPending).
		Updates(map[string]interface{}{
			"status":   models.RotationProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	var job models.TurnRotationJob
	if err := s.db.First(&job, jobID).Error; err != nil {
		return nil, false, err
	}
	return &job, true, nil
}

func (s *RotationService) complete(job *models.TurnRotationJob) error {
	now := time.Now()
	return s.db.Model(job).Updates(map[string]interface{}{
		"status":       models.RotationCompleted,
		"completed_at": &now,
	}).Error
}

// fail records the error and either re-arms the job with backoff or, once
// attempts are exhausted, parks it as failed, alerts the group admin, and
// returns the terminal outcome to the caller.
func (s *RotationService) fail(job *models.TurnRotationJob, cause error) error {
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}

	if job.Attempts < job.MaxAttempts {
		backoff := time.Duration(s.cfg.RetryBackoffMinutes) * time.Minute
		if err := s.db.Model(job).Updates(map[string]interface{}{
			"status":        models.RotationPending,
			"error_message": msg,
			"scheduled_at":  time.Now().Add(backoff),
		}).Error; err != nil {
			return err
		}
		s.enqueue(job, backoff)
		logger.Warn().Err(cause).Uint("job_id", job.ID).
			Int("attempt", job.Attempts).Int("max_attempts", job.MaxAttempts).
			Msg("rotation attempt failed, retry scheduled")
		return nil
	}

	if err := s.db.Model(job).Updates(map[string]interface{}{
		"status":        models.RotationFailed,
		"error_message": msg,
	}).Error; err != nil {
		return err
	}

	AuditError("rotation", "exhausted",
		fmt.Sprintf("rotation job %d failed after %d attempt(s): %s", job.ID, job.Attempts, msg),
		nil, &job.GroupID, job)

	group, err := loadGroup(s.db, job.GroupID)
	if err == nil {
		gid := job.GroupID
		s.notifier.SendToUser(group.AdminID, &gid, TemplateRotationFailed, map[string]interface{}{
			"cycle":    job.CycleNumber,
			"attempts": job.Attempts,
			"error":    msg,
		})
		s.notifier.PublishEvent("rotation.failed", job.GroupID, map[string]interface{}{
			"job_id":   job.ID,
			"cycle":    job.CycleNumber,
			"attempts": job.Attempts,
			"error":    msg,
		})
	}
	return response.NewMaxAttemptsExceeded(
		fmt.Sprintf("rotation for cycle %d failed after %d attempt(s): %s", job.CycleNumber, job.Attempts, msg))
}

// isDuplicateKey matches unique constraint violations across the three
// supported drivers without importing each one's error type.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "duplicate entry") ||
		strings.Contains(s, "unique failed")
}
