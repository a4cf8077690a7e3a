package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/internal/utils"
	"github.com/rotapool/backend/pkg/logger"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthService struct {
	db  *gorm.DB
	cfg *config.JWTConfig
}

func NewAuthService(db *gorm.DB, cfg *config.JWTConfig) *AuthService {
	return &AuthService{db: db, cfg: cfg}
}

type LoginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login authenticates by phone and password and issues a JWT.
func (s *AuthService) Login(req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	if err := s.db.Where("phone = ?", req.Phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewPermissionDenied("invalid phone or password")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, response.NewPermissionDenied("account is disabled")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, response.NewPermissionDenied("invalid phone or password")
	}

	token, err := utils.GenerateToken(user.ID, user.Phone, user.Role, s.cfg.ExpireHour)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Model(&user).Update("last_login", &now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("failed to record last login")
	}

	return &LoginResponse{Token: token, User: &user}, nil
}

type RegisterRequest struct {
	Phone    string `json:"phone" binding:"required,min=7,max=30"`
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register creates a platform account.
func (s *AuthService) Register(req *RegisterRequest) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("phone = ?", req.Phone).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, response.NewValidationError("phone number is already registered")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Phone:    req.Phone,
		Name:     req.Name,
		Password: hash,
		Role:     "user",
		IsActive: true,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}

	AuditInfo("auth", "register", fmt.Sprintf("user %d registered", user.ID), &user.ID, nil, nil)
	return user, nil
}

// CreateAdminIfNotExists seeds the platform admin account on first boot.
func CreateAdminIfNotExists(db *gorm.DB, phone, password string) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", "admin").
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &models.User{
		Phone:    phone,
		Name:     "Platform Admin",
		Password: hash,
		Role:     "admin",
		IsActive: true,
	}
	if err := db.Create(admin).Error; err != nil {
		return err
	}
	logger.Info().Str("phone", phone).Msg("platform admin account created")
	return nil
}
