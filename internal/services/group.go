package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// GroupService covers group CRUD and settings. Cycle mechanics live in
// CycleService; this service only guards the invariants that settings
// changes could break.
type GroupService struct {
	db       *gorm.DB
	cfg      *config.RotationConfig
	validate *validator.Validate
}

func NewGroupService(db *gorm.DB, cfg *config.RotationConfig) *GroupService {
	return &GroupService{
		db:       db,
		cfg:      cfg,
		validate: validator.New(),
	}
}

type CreateGroupRequest struct {
	Name               string  `json:"name" validate:"required,min=2,max=200"`
	Currency           string  `json:"currency" validate:"omitempty,len=3"`
	ContributionAmount float64 `json:"contribution_amount" validate:"required,gt=0"`
	Cadence            string  `json:"cadence" validate:"required,oneof=daily weekly monthly"`
	StartDate          string  `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	AdminID            uint    `json:"-"`
}

// CreateGroup creates a group with its admin as the first member. Cycles
// are sized to the member count later, when the rotation starts; until
// then TotalCycles tracks membership.
func (s *GroupService) CreateGroup(req *CreateGroupRequest) (*models.Group, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, response.NewValidationError(validationMessage(err))
	}

	start := time.Now()
	if req.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return nil, response.NewValidationError("start_date must be YYYY-MM-DD")
		}
		start = parsed
	}

	currency := req.Currency
	if currency == "" {
		currency = "KES"
	}

	group := &models.Group{
		Name:               req.Name,
		AdminID:            req.AdminID,
		Currency:           currency,
		MemberCount:        1,
		ContributionAmount: req.ContributionAmount,
		Cadence:            req.Cadence,
		CurrentCycle:       1,
		TotalCycles:        1,
		CycleStartDate:     start,
		CycleEndDate:       AddCadence(start, req.Cadence, 1),
		Status:             models.GroupStatusActive,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		member := &models.Member{
			GroupID:   group.ID,
			UserID:    req.AdminID,
			Role:      models.RoleAdmin,
			JoinOrder: 1,
			Status:    models.MemberStatusActive,
			JoinedAt:  time.Now(),
		}
		return tx.Create(member).Error
	})
	if err != nil {
		return nil, err
	}

	AuditInfo("group", "create",
		fmt.Sprintf("group %d (%s) created", group.ID, group.Name),
		&req.AdminID, &group.ID, group)
	return group, nil
}

// GetGroup returns a group with its members preloaded.
func (s *GroupService) GetGroup(groupID uint) (*models.Group, []models.Member, error) {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return nil, nil, err
	}
	var members []models.Member
	if err := s.db.Preload("User").
		Where("group_id = ?", groupID).
		Order("join_order").Find(&members).Error; err != nil {
		return nil, nil, err
	}
	return group, members, nil
}

type ListGroupsRequest struct {
	UserID   uint   `form:"-"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// ListGroups returns the groups the user belongs to, paged.
func (s *GroupService) ListGroups(req *ListGroupsRequest) ([]models.Group, int64, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	memberOf := s.db.Model(&models.Member{}).
		Select("group_id").
		Where("user_id = ? AND status IN ?", req.UserID,
			[]string{models.MemberStatusActive, models.MemberStatusSuspended})

	query := s.db.Model(&models.Group{}).Where("id IN (?)", memberOf)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var groups []models.Group
	err := query.Order("created_at DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&groups).Error
	return groups, total, err
}

type UpdateGroupRequest struct {
	GroupID            uint    `json:"-"`
	AdminID            uint    `json:"-"`
	Name               string  `json:"name" validate:"omitempty,min=2,max=200"`
	ContributionAmount float64 `json:"contribution_amount" validate:"omitempty,gt=0"`
	Cadence            string  `json:"cadence" validate:"omitempty,oneof=daily weekly monthly"`
}

// UpdateGroup changes group settings. Amount and cadence only move between
// cycles in spirit: the new values apply from the next cycle's
// contributions, existing rows keep the terms they were opened under.
func (s *GroupService) UpdateGroup(req *UpdateGroupRequest) (*models.Group, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, response.NewValidationError(validationMessage(err))
	}

	group, err := loadGroup(s.db, req.GroupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, req.AdminID); err != nil {
		return nil, err
	}
	if group.Status == models.GroupStatusDissolved {
		return nil, response.NewValidationError("group is dissolved")
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.ContributionAmount > 0 {
		updates["contribution_amount"] = req.ContributionAmount
	}
	if req.Cadence != "" {
		updates["cadence"] = req.Cadence
	}
	if len(updates) == 0 {
		return group, nil
	}

	if err := s.db.Model(group).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.db.First(group, group.ID).Error; err != nil {
		return nil, err
	}

	AuditInfo("group", "update",
		fmt.Sprintf("group %d settings updated", group.ID),
		&req.AdminID, &group.ID, updates)
	return group, nil
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %q failed validation rule %q", fe.Field(), fe.Tag())
}
