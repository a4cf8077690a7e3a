package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

const maxGroupMembers = 50

// MemberService manages group membership: joining, leaving, role transfer
// and per-member history. Join order is 1-based and kept contiguous; the
// turn order calculator depends on that.
type MemberService struct {
	db  *gorm.DB
	cfg *config.RotationConfig
}

func NewMemberService(db *gorm.DB, cfg *config.RotationConfig) *MemberService {
	return &MemberService{db: db, cfg: cfg}
}

type AddMemberRequest struct {
	GroupID uint   `json:"-"`
	AdminID uint   `json:"-"`
	Phone   string `json:"phone" binding:"required"`
}

// AddMember adds the user with the given phone to the group, appended at
// the end of the rotation order.
func (s *MemberService) AddMember(req *AddMemberRequest) (*models.Member, error) {
	group, err := loadGroup(s.db, req.GroupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(s.db, group, req.AdminID); err != nil {
		return nil, err
	}
	if group.Status == models.GroupStatusDissolved || group.Status == models.GroupStatusCompleted {
		return nil, response.NewValidationError("group is not accepting members")
	}

	var user models.User
	if err := s.db.Where("phone = ?", req.Phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("no user with this phone number")
		}
		return nil, err
	}

	var existing models.Member
	err = s.db.Where("group_id = ? AND user_id = ?", group.ID, user.ID).First(&existing).Error
	if err == nil {
		if existing.Status == models.MemberStatusLeft {
			// Re-joining goes to the back of the rotation.
			return s.rejoin(group, &existing)
		}
		return nil, response.NewValidationError("user is already a member of this group")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.Member{}).
		Where("group_id = ? AND status != ?", group.ID, models.MemberStatusLeft).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count >= maxGroupMembers {
		return nil, response.NewValidationError(
			fmt.Sprintf("group is full (max %d members)", maxGroupMembers))
	}

	member := &models.Member{
		GroupID:   group.ID,
		UserID:    user.ID,
		Role:      models.RoleMember,
		Status:    models.MemberStatusActive,
		JoinedAt:  time.Now(),
		JoinOrder: s.nextJoinOrder(group.ID),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(member).Error; err != nil {
			return err
		}
		return s.syncMembership(tx, group.ID)
	})
	if err != nil {
		return nil, err
	}

	AuditInfo("member", "add",
		fmt.Sprintf("user %d joined group %d at position %d", user.ID, group.ID, member.JoinOrder),
		&req.AdminID, &group.ID, member)
	return member, nil
}

func (s *MemberService) rejoin(group *models.Group, member *models.Member) (*models.Member, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(member).Updates(map[string]interface{}{
			"status":          models.MemberStatusActive,
			"role":            models.RoleMember,
			"join_order":      s.nextJoinOrder(group.ID),
			"payout_received": false,
			"left_at":         nil,
			"joined_at":       time.Now(),
		}).Error; err != nil {
			return err
		}
		return s.syncMembership(tx, group.ID)
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.First(member, member.ID).Error; err != nil {
		return nil, err
	}
	return member, nil
}

// RemoveMember marks a member as left and compacts the remaining join
// order. The group admin cannot be removed; transfer the role first.
func (s *MemberService) RemoveMember(groupID, memberID, adminID uint) error {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return err
	}
	if err := requireGroupAdmin(s.db, group, adminID); err != nil {
		return err
	}

	var member models.Member
	if err := s.db.Where("id = ? AND group_id = ?", memberID, groupID).
		First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NewNotFound("member not found in this group")
		}
		return err
	}
	if member.Status == models.MemberStatusLeft {
		return response.NewValidationError("member has already left")
	}
	if member.UserID == group.AdminID {
		return response.NewValidationError("transfer the admin role before removing this member")
	}

	if err := removeMember(s.db, group, &member); err != nil {
		return err
	}

	AuditInfo("member", "remove",
		fmt.Sprintf("member %d removed from group %d", member.ID, group.ID),
		&adminID, &group.ID, nil)
	return nil
}

// TransferAdmin moves the group admin role to another active member. The
// group has exactly one admin at all times.
func (s *MemberService) TransferAdmin(groupID, toMemberID, adminID uint) error {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return err
	}
	if group.AdminID != adminID {
		return response.NewPermissionDenied("only the group admin can transfer the role")
	}

	var target models.Member
	if err := s.db.Where("id = ? AND group_id = ? AND status = ?",
		toMemberID, groupID, models.MemberStatusActive).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NewNotFound("target member not found or not active")
		}
		return err
	}
	if target.UserID == adminID {
		return response.NewValidationError("user is already the group admin")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Group{}).Where("id = ?", groupID).
			Update("admin_id", target.UserID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Member{}).
			Where("group_id = ? AND user_id = ?", groupID, adminID).
			Update("role", models.RoleMember).Error; err != nil {
			return err
		}
		return tx.Model(&models.Member{}).Where("id = ?", target.ID).
			Update("role", models.RoleAdmin).Error
	})
	if err != nil {
		return err
	}

	AuditInfo("member", "transfer_admin",
		fmt.Sprintf("group %d admin role transferred from user %d to user %d",
			groupID, adminID, target.UserID),
		&adminID, &groupID, nil)
	return nil
}

// MemberHistory is a user's record within one group.
type MemberHistory struct {
	Member        models.Member         `json:"member"`
	Contributions []models.Contribution `json:"contributions"`
	Payouts       []models.Payout       `json:"payouts"`
}

// GetMemberHistory returns contributions and payouts for a member. Any
// group member may view it; outsiders may not.
func (s *MemberService) GetMemberHistory(groupID, memberID, requesterID uint) (*MemberHistory, error) {
	group, err := loadGroup(s.db, groupID)
	if err != nil {
		return nil, err
	}
	if group.AdminID != requesterID {
		var n int64
		s.db.Model(&models.Member{}).
			Where("group_id = ? AND user_id = ? AND status != ?",
				groupID, requesterID, models.MemberStatusLeft).
			Count(&n)
		if n == 0 {
			return nil, response.NewPermissionDenied("not a member of this group")
		}
	}

	var member models.Member
	if err := s.db.Preload("User").
		Where("id = ? AND group_id = ?", memberID, groupID).
		First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("member not found in this group")
		}
		return nil, err
	}

	history := &MemberHistory{Member: member}
	if err := s.db.Where("member_id = ?", memberID).
		Order("cycle_number").Find(&history.Contributions).Error; err != nil {
		return nil, err
	}
	if err := s.db.Where("recipient_id = ?", memberID).
		Order("cycle_number").Find(&history.Payouts).Error; err != nil {
		return nil, err
	}
	return history, nil
}

func (s *MemberService) nextJoinOrder(groupID uint) int {
	var highest int
	s.db.Model(&models.Member{}).
		Where("group_id = ? AND status != ?", groupID, models.MemberStatusLeft).
		Select("COALESCE(MAX(join_order), 0)").Scan(&highest)
	return highest + 1
}

// syncMembership refreshes the group's cached member count and, when the
// rotation has not produced payouts yet, its total cycle count.
func (s *MemberService) syncMembership(tx *gorm.DB, groupID uint) error {
	var count int64
	if err := tx.Model(&models.Member{}).
		Where("group_id = ? AND status = ?", groupID, models.MemberStatusActive).
		Count(&count).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{"member_count": count}

	var payouts int64
	if err := tx.Model(&models.Payout{}).
		Where("group_id = ?", groupID).Count(&payouts).Error; err != nil {
		return err
	}
	if payouts == 0 {
		updates["total_cycles"] = count
	}
	return tx.Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error
}

// removeMember marks a member as left, cancels their open contributions for
// the current cycle and closes the join-order gap so rotation math stays on
// a contiguous sequence. Shared with the late-payment removal action.
func removeMember(db *gorm.DB, group *models.Group, member *models.Member) error {
	now := time.Now()
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Member{}).Where("id = ?", member.ID).
			Updates(map[string]interface{}{
				"status":  models.MemberStatusLeft,
				"left_at": &now,
			}).Error; err != nil {
			return err
		}

		// Open obligations die with the membership; history stays.
		if err := tx.Model(&models.Contribution{}).
			Where("member_id = ? AND status IN ?", member.ID,
				[]string{models.ContributionPending, models.ContributionOverdue}).
			Update("status", models.ContributionCancelled).Error; err != nil {
			return err
		}

		// Compact: everyone behind the leaver moves up one slot.
		if err := tx.Model(&models.Member{}).
			Where("group_id = ? AND status != ? AND join_order > ?",
				group.ID, models.MemberStatusLeft, member.JoinOrder).
			UpdateColumn("join_order", gorm.Expr("join_order - 1")).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Member{}).
			Where("group_id = ? AND status = ?", group.ID, models.MemberStatusActive).
			Count(&count).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"member_count": count}

		var payouts int64
		if err := tx.Model(&models.Payout{}).
			Where("group_id = ?", group.ID).Count(&payouts).Error; err != nil {
			return err
		}
		if payouts == 0 {
			updates["total_cycles"] = count
		}
		return tx.Model(&models.Group{}).Where("id = ?", group.ID).Updates(updates).Error
	})
}
