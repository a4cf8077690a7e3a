package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/pkg/logger"
)

const (
	TaskTypeRotation = "rotation:process"
	TaskTypeReminder = "reminder:contribution"

	queueRotations = "rotations"
	queueReminders = "reminders"
)

// RotationTask carries the durable job row ID; the worker re-reads the row
// so stale queue entries (cancelled or already-claimed jobs) become no-ops.
type RotationTask struct {
	JobID       uint `json:"job_id"`
	GroupID     uint `json:"group_id"`
	CycleNumber int  `json:"cycle_number"`
}

// ReminderTask asks the worker to send a due-date reminder for one contribution.
type ReminderTask struct {
	ContributionID uint `json:"contribution_id"`
}

// TaskQueue abstracts the delayed-task transport. The DB job table stays the
// source of truth either way; the queue only accelerates dispatch.
type TaskQueue interface {
	// EnqueueRotation schedules a rotation task after the given delay and
	// returns the transport task id (empty in sync mode).
	EnqueueRotation(task *RotationTask, delay time.Duration) (string, error)
	// ScheduleReminder schedules a contribution reminder at the given time.
	ScheduleReminder(task *ReminderTask, at time.Time) error
	// CancelReminder removes a pending reminder for a contribution. Best
	// effort: missing tasks are not an error.
	CancelReminder(contributionID uint) error
	// IsAsync returns true if the queue is backed by Redis.
	IsAsync() bool
	// Close gracefully shuts down the queue.
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config.
// Without Redis the DB poll dispatcher alone drives rotation jobs and
// reminders are skipped.
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to poll-only mode: %v", err)
				globalTaskQueue = NewPollQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Poll-only queue initialized (Redis disabled)")
			globalTaskQueue = NewPollQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// reminderTaskID gives reminders a deterministic id per contribution so
// confirmation can cancel them without a lookup table.
func reminderTaskID(contributionID uint) string {
	return fmt.Sprintf("reminder-%d", contributionID)
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)
	inspector := asynq.NewInspector(redisOpt)

	// Verify the connection before accepting tasks
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		inspector.Close()
		return nil, err
	}

	return &AsyncQueue{client: client, inspector: inspector}, nil
}

func (q *AsyncQueue) EnqueueRotation(task *RotationTask, delay time.Duration) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", err
	}

	t := asynq.NewTask(TaskTypeRotation, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue(queueRotations),
		asynq.TaskID(uuid.NewString()),
		asynq.ProcessIn(delay),
		// Retry is owned by the job table, not the transport.
		asynq.MaxRetry(0),
	)
	if err != nil {
		return "", err
	}

	logger.Infof("[AsyncQueue] Rotation task enqueued: id=%s, job=%d, delay=%s", info.ID, task.JobID, delay)
	return info.ID, nil
}

func (q *AsyncQueue) ScheduleReminder(task *ReminderTask, at time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeReminder, payload)
	_, err = q.client.Enqueue(t,
		asynq.Queue(queueReminders),
		asynq.TaskID(reminderTaskID(task.ContributionID)),
		asynq.ProcessAt(at),
		asynq.MaxRetry(1),
	)
	if err == asynq.ErrTaskIDConflict {
		// A reminder for this contribution is already scheduled.
		return nil
	}
	return err
}

func (q *AsyncQueue) CancelReminder(contributionID uint) error {
	err := q.inspector.DeleteTask(queueReminders, reminderTaskID(contributionID))
	if err == asynq.ErrTaskNotFound || err == asynq.ErrQueueNotFound {
		return nil
	}
	return err
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	q.inspector.Close()
	return q.client.Close()
}

// PollQueue implements TaskQueue without Redis. Rotation jobs are persisted
// rows picked up by the dispatcher's DB poll, so enqueueing is a no-op;
// reminders have no durable home and are skipped.
type PollQueue struct{}

func NewPollQueue() *PollQueue {
	return &PollQueue{}
}

func (q *PollQueue) EnqueueRotation(task *RotationTask, delay time.Duration) (string, error) {
	// The dispatcher poll will pick the job row up once scheduled_at passes.
	return "", nil
}

func (q *PollQueue) ScheduleReminder(task *ReminderTask, at time.Time) error {
	logger.Debug().Uint("contribution_id", task.ContributionID).
		Msg("reminder skipped: no async queue configured")
	return nil
}

func (q *PollQueue) CancelReminder(contributionID uint) error {
	return nil
}

func (q *PollQueue) IsAsync() bool {
	return false
}

func (q *PollQueue) Close() error {
	return nil
}
