package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Group status values
const (
	GroupStatusActive    = "active"
	GroupStatusPaused    = "paused"
	GroupStatusCompleted = "completed"
	GroupStatusDissolved = "dissolved"
)

// Group cadence values
const (
	CadenceDaily   = "daily"
	CadenceWeekly  = "weekly"
	CadenceMonthly = "monthly"
)

// Member role and status values
const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	MemberStatusActive    = "active"
	MemberStatusSuspended = "suspended"
	MemberStatusLeft      = "left"
)

// Contribution status values
const (
	ContributionPending   = "pending"
	ContributionPaid      = "paid"
	ContributionOverdue   = "overdue"
	ContributionCancelled = "cancelled"
)

// Payout status values
const (
	PayoutScheduled  = "scheduled"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

// Rotation job status values
const (
	RotationPending    = "pending"
	RotationProcessing = "processing"
	RotationCompleted  = "completed"
	RotationFailed     = "failed"
)

// User represents a platform account. Group-level permissions hang off
// Member.Role, not User.Role; the latter only gates platform admin endpoints.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Phone     string         `gorm:"uniqueIndex;size:30;not null" json:"phone"`
	Name      string         `gorm:"size:100;not null" json:"name"`
	Password  string         `gorm:"size:255" json:"-"`
	Role      string         `gorm:"size:20;default:user" json:"role"` // admin, user
	IsActive  bool           `json:"is_active"`
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Group represents a rotating-savings group. One recipient is paid the pooled
// contributions each cycle until every eligible member has received a payout.
//
// CurrentCycle runs 1..TotalCycles while the rotation is live; the value
// TotalCycles+1 marks a group whose last cycle settled but whose completion
// has not been finalized yet.
type Group struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"size:200;not null" json:"name"`
	AdminID            uint           `gorm:"index;not null" json:"admin_id"` // user id of the group admin
	Currency           string         `gorm:"size:10;default:KES" json:"currency"`
	MemberCount        int            `json:"member_count"`
	ContributionAmount float64        `gorm:"not null" json:"contribution_amount"`
	Cadence            string         `gorm:"size:20;not null" json:"cadence"` // daily, weekly, monthly
	CurrentCycle       int            `gorm:"default:1" json:"current_cycle"`
	TotalCycles        int            `json:"total_cycles"`
	CycleStartDate     time.Time      `json:"cycle_start_date"`
	CycleEndDate       time.Time      `json:"cycle_end_date"`
	Status             string         `gorm:"size:20;default:active;index" json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

// Member ties a user into a group. JoinOrder is 1-based, unique and
// contiguous per group; it determines payout rotation order.
type Member struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	GroupID        uint       `gorm:"index:idx_member_group_user,unique;not null" json:"group_id"`
	UserID         uint       `gorm:"index:idx_member_group_user,unique;not null" json:"user_id"`
	User           *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role           string     `gorm:"size:20;default:member" json:"role"` // admin, member
	JoinOrder      int        `gorm:"not null" json:"join_order"`
	Status         string     `gorm:"size:20;default:active;index" json:"status"`
	PayoutReceived bool       `gorm:"default:false" json:"payout_received"`
	OnTimeCount    int        `gorm:"default:0" json:"on_time_count"`
	LateCount      int        `gorm:"default:0" json:"late_count"`
	MissedCount    int        `gorm:"default:0" json:"missed_count"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Contribution is one member's payment obligation for one cycle.
// Rows are immutable history once terminal: pending -> paid|overdue|cancelled,
// and paid is final (no further penalty accrual).
type Contribution struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	GroupID           uint       `gorm:"uniqueIndex:idx_contrib_group_member_cycle;not null" json:"group_id"`
	MemberID          uint       `gorm:"uniqueIndex:idx_contrib_group_member_cycle;not null" json:"member_id"`
	Member            *Member    `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	CycleNumber       int        `gorm:"uniqueIndex:idx_contrib_group_member_cycle;not null" json:"cycle_number"`
	Amount            float64    `gorm:"not null" json:"amount"`
	DueDate           time.Time  `gorm:"index" json:"due_date"`
	Status            string     `gorm:"size:20;default:pending;index" json:"status"`
	PaidDate          *time.Time `json:"paid_date"`
	LatePenaltyAmount float64    `gorm:"default:0" json:"late_penalty_amount"`
	ConfirmedBy       *uint      `json:"confirmed_by"`                     // admin user id
	ConfirmationType  string     `gorm:"size:30" json:"confirmation_type"` // cash, mobile_money, bank
	Notes             string     `gorm:"size:500" json:"notes"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Payout is the pooled disbursement for one cycle. The unique index on
// (group_id, cycle_number) is the idempotency anchor for cycle processing:
// concurrent settlement attempts collapse into one row.
type Payout struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	GroupID         uint       `gorm:"uniqueIndex:idx_payout_group_cycle;not null" json:"group_id"`
	CycleNumber     int        `gorm:"uniqueIndex:idx_payout_group_cycle;not null" json:"cycle_number"`
	RecipientID     uint       `gorm:"index;not null" json:"recipient_id"` // member id
	Recipient       *Member    `gorm:"foreignKey:RecipientID" json:"recipient,omitempty"`
	NetAmount       float64    `gorm:"not null" json:"net_amount"`
	Reference       string     `gorm:"size:60" json:"reference"`
	Status          string     `gorm:"size:20;default:scheduled;index" json:"status"`
	ApprovedByAdmin bool       `gorm:"default:false" json:"approved_by_admin"`
	ScheduledDate   time.Time  `json:"scheduled_date"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TurnRotationJob is the durable record of a scheduled cycle rotation.
// The row, not any in-memory timer, is the source of truth: a process restart
// re-dispatches due pending rows. JobKey ("{group}_{cycle}") is unique so a
// (group, cycle) pair can be scheduled at most once.
type TurnRotationJob struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	GroupID      uint       `gorm:"index;not null" json:"group_id"`
	CycleNumber  int        `gorm:"not null" json:"cycle_number"`
	JobKey       string     `gorm:"uniqueIndex;size:40;not null" json:"job_key"`
	TaskID       string     `gorm:"size:60" json:"task_id"` // asynq task id when Redis is enabled
	ScheduledAt  time.Time  `gorm:"index" json:"scheduled_at"`
	Status       string     `gorm:"size:20;default:pending;index" json:"status"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	MaxAttempts  int        `gorm:"default:3" json:"max_attempts"`
	ErrorMessage string     `gorm:"size:1000" json:"error_message"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobKeyFor builds the unique scheduling key for a (group, cycle) pair.
func JobKeyFor(groupID uint, cycle int) string {
	return fmt.Sprintf("%d_%d", groupID, cycle)
}

// Late payment action types
const (
	LateActionWarning    = "warning"
	LateActionPenalty    = "penalty"
	LateActionSuspension = "suspension"
	LateActionRemoval    = "removal"
)

// LatePaymentAction records a warning/penalty/suspension/removal taken against
// an overdue contribution, whether triggered by an admin or by the automatic
// escalation monitor (TriggeredBy == nil).
type LatePaymentAction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	GroupID        uint      `gorm:"index;not null" json:"group_id"`
	MemberID       uint      `gorm:"index;not null" json:"member_id"`
	ContributionID uint      `gorm:"index;not null" json:"contribution_id"`
	CycleNumber    int       `gorm:"not null" json:"cycle_number"`
	Action         string    `gorm:"size:20;not null" json:"action"`
	DaysLate       int       `json:"days_late"`
	PenaltyAmount  float64   `gorm:"default:0" json:"penalty_amount"`
	TriggeredBy    *uint     `json:"triggered_by"` // admin user id; nil for automatic actions
	Notes          string    `gorm:"size:500" json:"notes"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// NotificationChannel is an outbound webhook endpoint that receives rotation
// events (cycle completed, rotation failed, payout settled).
type NotificationChannel struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"size:100;not null" json:"name"`
	Type      string         `gorm:"size:30;not null" json:"type"` // webhook, slack
	URL       string         `gorm:"size:500;not null" json:"url"`
	Secret    string         `gorm:"size:255" json:"-"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Notification is a per-user in-app message rendered from an event template.
type Notification struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	GroupID    *uint      `gorm:"index" json:"group_id"`
	TemplateID string     `gorm:"size:60;not null" json:"template_id"`
	Title      string     `gorm:"size:200" json:"title"`
	Body       string     `gorm:"size:1000" json:"body"`
	ReadAt     *time.Time `json:"read_at"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

// AuditLog records admin-facing operations and engine decisions.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"` // info, warning, error
	Module    string    `gorm:"size:50;index" json:"module"`
	Action    string    `gorm:"size:100;index" json:"action"`
	Message   string    `gorm:"type:text" json:"message"`
	ActorID   *uint     `json:"actor_id"` // user id; nil for system actions
	GroupID   *uint     `gorm:"index" json:"group_id"`
	Extra     string    `gorm:"type:text" json:"extra"` // JSON extra data
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides
func (User) TableName() string                { return "users" }
func (Group) TableName() string               { return "groups" }
func (Member) TableName() string              { return "members" }
func (Contribution) TableName() string        { return "contributions" }
func (Payout) TableName() string              { return "payouts" }
func (TurnRotationJob) TableName() string     { return "turn_rotation_jobs" }
func (LatePaymentAction) TableName() string   { return "late_payment_actions" }
func (NotificationChannel) TableName() string { return "notification_channels" }
func (Notification) TableName() string        { return "notifications" }
func (AuditLog) TableName() string            { return "audit_logs" }

// IsTerminal reports whether the contribution can no longer change status.
func (c *Contribution) IsTerminal() bool {
	return c.Status == ContributionPaid || c.Status == ContributionCancelled
}

// PoolAmount is the gross pool for one cycle of this group.
func (g *Group) PoolAmount(activeMembers int) float64 {
	return g.ContributionAmount * float64(activeMembers)
}
