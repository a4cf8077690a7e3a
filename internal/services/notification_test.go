package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotapool/backend/internal/models"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name       string
		templateID string
		data       map[string]interface{}
		wantTitle  string
		wantInBody string
	}{
		{
			"payment confirmed",
			TemplatePaymentConfirmed,
			map[string]interface{}{"amount": 1000.0, "cycle": 3},
			"Payment confirmed",
			"cycle 3",
		},
		{
			"late warning",
			TemplateLateWarning,
			map[string]interface{}{"cycle": 1, "days_late": 5},
			"Late payment warning",
			"5 day(s) late",
		},
		{
			"next recipient",
			TemplateNextRecipient,
			map[string]interface{}{"cycle": 2, "amount": 3000.0},
			"You're next!",
			"recipient for cycle 2",
		},
		{
			"nil data does not panic",
			TemplateCycleCompleted,
			nil,
			"Cycle completed",
			"contributions",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := renderTemplate(tt.templateID, tt.data)
			if title != tt.wantTitle {
				t.Errorf("title = %q, expected %q", title, tt.wantTitle)
			}
			if !strings.Contains(body, tt.wantInBody) {
				t.Errorf("body = %q, expected to contain %q", body, tt.wantInBody)
			}
		})
	}
}

func TestSendToUser_StoresNotification(t *testing.T) {
	db := testDB(t)
	group, members := seedGroup(t, db, 2, 1000, models.CadenceWeekly)
	svc := NewNotificationService(db)

	gid := group.ID
	svc.SendToUser(members[0].UserID, &gid, TemplatePayoutSettled, map[string]interface{}{
		"amount": 2000.0, "cycle": 1,
	})

	var stored models.Notification
	if err := db.Where("user_id = ?", members[0].UserID).First(&stored).Error; err != nil {
		t.Fatalf("notification not stored: %v", err)
	}
	if stored.TemplateID != TemplatePayoutSettled {
		t.Errorf("TemplateID = %q, expected %q", stored.TemplateID, TemplatePayoutSettled)
	}
	if stored.GroupID == nil || *stored.GroupID != group.ID {
		t.Errorf("GroupID = %v, expected %d", stored.GroupID, group.ID)
	}
}

func TestNotifyGroup_SkipsInactiveMembers(t *testing.T) {
	db := testDB(t)
	group, members := seedGroup(t, db, 3, 1000, models.CadenceWeekly)
	svc := NewNotificationService(db)

	if err := db.Model(&members[2]).Update("status", models.MemberStatusLeft).Error; err != nil {
		t.Fatalf("update member: %v", err)
	}

	svc.NotifyGroup(group.ID, TemplateGroupCompleted, nil)

	var count int64
	db.Model(&models.Notification{}).Where("group_id = ?", group.ID).Count(&count)
	if count != 2 {
		t.Errorf("notifications = %d, expected 2 (left member skipped)", count)
	}
}

func TestPublishEvent_SignedWebhook(t *testing.T) {
	db := testDB(t)
	group, _ := seedGroup(t, db, 2, 1000, models.CadenceWeekly)

	received := make(chan *http.Request, 1)
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "whsec_test"
	channel := &models.NotificationChannel{
		Name:     "test hook",
		Type:     "webhook",
		URL:      server.URL,
		Secret:   secret,
		IsActive: true,
	}
	if err := db.Create(channel).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	svc := NewNotificationService(db)
	svc.PublishEvent("cycle.processed", group.ID, map[string]interface{}{"new_cycle": 2})

	var req *http.Request
	select {
	case req = <-received:
	default:
		t.Fatal("webhook was not delivered")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(receivedBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if got := req.Header.Get("X-Rotapool-Signature"); got != want {
		t.Errorf("signature = %q, expected %q", got, want)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(receivedBody, &body); err != nil {
		t.Fatalf("unmarshal webhook body: %v", err)
	}
	if body["event"] != "cycle.processed" {
		t.Errorf("event = %v, expected cycle.processed", body["event"])
	}
}

func TestPublishEvent_SkipsInactiveChannels(t *testing.T) {
	db := testDB(t)
	group, _ := seedGroup(t, db, 2, 1000, models.CadenceWeekly)

	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := &models.NotificationChannel{
		Name:     "disabled hook",
		Type:     "webhook",
		URL:      server.URL,
		IsActive: false,
	}
	if err := db.Create(channel).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	// A column default of true would silently overwrite the false on insert.
	var stored models.NotificationChannel
	if err := db.First(&stored, channel.ID).Error; err != nil {
		t.Fatalf("reload channel: %v", err)
	}
	if stored.IsActive {
		t.Fatal("channel persisted as active, expected inactive")
	}

	svc := NewNotificationService(db)
	svc.PublishEvent("cycle.processed", group.ID, nil)
	if hits != 0 {
		t.Errorf("inactive channel received %d request(s), expected 0", hits)
	}
}
