package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/pkg/logger"
	"gorm.io/gorm"
)

// Notification template IDs. Handlers and the rotation engine publish these;
// delivery channels decide how to render them.
const (
	TemplatePaymentConfirmed = "payment_confirmed"
	TemplatePaymentReminder  = "payment_reminder"
	TemplateLateWarning      = "late_warning"
	TemplateLatePenalty      = "late_penalty"
	TemplateSuspension       = "member_suspended"
	TemplateCycleCompleted   = "cycle_completed"
	TemplateNextRecipient    = "next_recipient"
	TemplatePayoutSettled    = "payout_settled"
	TemplateRotationFailed   = "rotation_failed"
	TemplateGroupCompleted   = "group_completed"
	TemplateGroupRestarted   = "group_restarted"
	TemplateGroupDissolved   = "group_dissolved"
)

// NotificationService is the fire-and-forget outbound side of the engine.
// Every method swallows delivery errors: a failed notification must never
// fail the operation that triggered it.
type NotificationService struct {
	db     *gorm.DB
	client *http.Client
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{
		db:     db,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendToUser stores an in-app notification for one user. Errors are logged
// and dropped.
func (s *NotificationService) SendToUser(userID uint, groupID *uint, templateID string, data map[string]interface{}) {
	title, body := renderTemplate(templateID, data)

	n := &models.Notification{
		UserID:     userID,
		GroupID:    groupID,
		TemplateID: templateID,
		Title:      title,
		Body:       body,
	}
	if err := s.db.Create(n).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", userID).Str("template", templateID).
			Msg("failed to store notification")
	}
}

// NotifyGroup sends the same notification to every active member of a group.
func (s *NotificationService) NotifyGroup(groupID uint, templateID string, data map[string]interface{}) {
	var members []models.Member
	if err := s.db.Where("group_id = ? AND status = ?", groupID, models.MemberStatusActive).
		Find(&members).Error; err != nil {
		logger.Warn().Err(err).Uint("group_id", groupID).Msg("failed to load members for notification")
		return
	}
	gid := groupID
	for _, m := range members {
		s.SendToUser(m.UserID, &gid, templateID, data)
	}
}

// PublishEvent posts a rotation event to all active webhook channels.
// Payloads are signed with the channel secret when one is configured.
func (s *NotificationService) PublishEvent(event string, groupID uint, payload map[string]interface{}) {
	var channels []models.NotificationChannel
	if err := s.db.Where("is_active = ?", true).Find(&channels).Error; err != nil {
		logger.Warn().Err(err).Msg("failed to load notification channels")
		return
	}
	if len(channels) == 0 {
		return
	}

	body := map[string]interface{}{
		"event":     event,
		"group_id":  groupID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		logger.Warn().Err(err).Str("event", event).Msg("failed to marshal event payload")
		return
	}

	for _, ch := range channels {
		if err := s.postWebhook(&ch, raw); err != nil {
			logger.Warn().Err(err).Str("channel", ch.Name).Str("event", event).
				Msg("webhook delivery failed")
		}
	}
}

func (s *NotificationService) postWebhook(ch *models.NotificationChannel, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, ch.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if ch.Secret != "" {
		mac := hmac.New(sha256.New, []byte(ch.Secret))
		mac.Write(payload)
		req.Header.Set("X-Rotapool-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// renderTemplate maps a template ID plus data to a title/body pair.
func renderTemplate(templateID string, data map[string]interface{}) (string, string) {
	get := func(key string) interface{} {
		if data == nil {
			return ""
		}
		if v, ok := data[key]; ok {
			return v
		}
		return ""
	}

	switch templateID {
	case TemplatePaymentConfirmed:
		return "Payment confirmed",
			fmt.Sprintf("Your contribution of %v for cycle %v has been confirmed.", get("amount"), get("cycle"))
	case TemplatePaymentReminder:
		return "Contribution due",
			fmt.Sprintf("Your contribution of %v for cycle %v is due on %v.", get("amount"), get("cycle"), get("due_date"))
	case TemplateLateWarning:
		return "Late payment warning",
			fmt.Sprintf("Your contribution for cycle %v is %v day(s) late. Please pay to avoid penalties.", get("cycle"), get("days_late"))
	case TemplateLatePenalty:
		return "Late payment penalty applied",
			fmt.Sprintf("A penalty of %v was applied to your cycle %v contribution.", get("penalty"), get("cycle"))
	case TemplateSuspension:
		return "Membership suspended",
			fmt.Sprintf("Your membership has been suspended after %v day(s) of non-payment.", get("days_late"))
	case TemplateCycleCompleted:
		return "Cycle completed",
			fmt.Sprintf("All contributions for cycle %v are in. The payout is being processed.", get("cycle"))
	case TemplateNextRecipient:
		return "You're next!",
			fmt.Sprintf("You are the recipient for cycle %v. Expected payout: %v.", get("cycle"), get("amount"))
	case TemplatePayoutSettled:
		return "Payout settled",
			fmt.Sprintf("The payout of %v for cycle %v has been settled.", get("amount"), get("cycle"))
	case TemplateRotationFailed:
		return "Rotation needs attention",
			fmt.Sprintf("Automatic rotation for cycle %v failed after %v attempts: %v", get("cycle"), get("attempts"), get("error"))
	case TemplateGroupCompleted:
		return "Group completed",
			"Every member has received a payout. The group rotation is complete."
	case TemplateGroupRestarted:
		return "Group restarted",
			"A new rotation has started. Check your updated turn order."
	case TemplateGroupDissolved:
		return "Group dissolved",
			"The group has been dissolved by its admin."
	default:
		return "Notification", fmt.Sprintf("%v", get("message"))
	}
}
