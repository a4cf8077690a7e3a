package services

import (
	"encoding/json"
	"time"

	"github.com/rotapool/backend/internal/models"
	"gorm.io/gorm"
)

var auditDB *gorm.DB

// InitAuditLogger wires the package-level audit writer. Audit failures are
// never fatal: a nil or broken DB just drops the record.
func InitAuditLogger(db *gorm.DB) {
	auditDB = db
}

func AuditInfo(module, action, message string, actorID *uint, groupID *uint, extra interface{}) {
	writeAudit("info", module, action, message, actorID, groupID, extra)
}

func AuditWarning(module, action, message string, actorID *uint, groupID *uint, extra interface{}) {
	writeAudit("warning", module, action, message, actorID, groupID, extra)
}

func AuditError(module, action, message string, actorID *uint, groupID *uint, extra interface{}) {
	writeAudit("error", module, action, message, actorID, groupID, extra)
}

func writeAudit(level, module, action, message string, actorID *uint, groupID *uint, extra interface{}) {
	if auditDB == nil {
		return
	}

	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.AuditLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		ActorID:   actorID,
		GroupID:   groupID,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}
	auditDB.Create(entry)
}

type AuditLogService struct {
	db *gorm.DB
}

func NewAuditLogService(db *gorm.DB) *AuditLogService {
	return &AuditLogService{db: db}
}

type AuditLogListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Level    string `form:"level"`
	Module   string `form:"module"`
	GroupID  *uint  `form:"group_id"`
}

type AuditLogListResponse struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []models.AuditLog `json:"items"`
}

func (s *AuditLogService) List(req *AuditLogListRequest) (*AuditLogListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.AuditLog{})
	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.GroupID != nil {
		query = query.Where("group_id = ?", *req.GroupID)
	}

	var total int64
	query.Count(&total)

	var items []models.AuditLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &AuditLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}
