package services

import (
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

// requireGroupAdmin verifies that userID is the admin of the group, either as
// the owning user on the Group row or through an admin-role membership.
func requireGroupAdmin(db *gorm.DB, group *models.Group, userID uint) error {
	if group.AdminID == userID {
		return nil
	}

	var count int64
	db.Model(&models.Member{}).
		Where("group_id = ? AND user_id = ? AND role = ? AND status = ?",
			group.ID, userID, models.RoleAdmin, models.MemberStatusActive).
		Count(&count)
	if count == 0 {
		return response.NewPermissionDenied("only the group admin can perform this action")
	}
	return nil
}

// loadGroup fetches a group or returns a NOT_FOUND application error.
func loadGroup(db *gorm.DB, groupID uint) (*models.Group, error) {
	var group models.Group
	if err := db.First(&group, groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, response.NewNotFound("group not found")
		}
		return nil, err
	}
	return &group, nil
}
