package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db      *gorm.DB
	started time.Time
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now()}
}

// Check reports service and database health
// GET /api/health
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"uptime":   time.Since(h.started).String(),
	})
}
