package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthHandler struct {
	authService *services.AuthService
	db          *gorm.DB
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		authService: services.NewAuthService(db, &cfg.JWT),
		db:          db,
	}
}

// Login authenticates by phone and password
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// Register creates a platform account
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.Register(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Me returns the authenticated user
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	var user models.User
	if err := h.db.First(&user, middleware.GetUserID(c)).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}
	response.Success(c, user)
}
