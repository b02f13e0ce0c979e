//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

type notificationDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Read      bool   `json:"read"`
	EmailSent bool   `json:"email_sent"`
}

type pageDTO struct {
	Notifications []notificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

func createNotification(t *testing.T, base, userID, typ, title string, want int) notificationDTO {
	t.Helper()
	b := HTTPDoJSON(t, http.MethodPost, base+"/v1/notifications", map[string]any{
		"user_id": userID, "type": typ, "title": title, "message": title + " body",
	}, want)
	var n notificationDTO
	if want == http.StatusCreated {
		if err := json.Unmarshal(b, &n); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return n
}

func TestGateway_NotificationLifecycle(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.AGBaseURL+"/healthz", 60*time.Second)
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID, _ := SeedUser(t, db, "mika")
	base := cfg.AGBaseURL
	users := base + "/v1/users/" + userID

	// no rows yet: fail closed
	createNotification(t, base, userID, "mention", "Before seed", http.StatusNoContent)

	HTTPDoJSON(t, http.MethodPost, users+"/preferences/seed", nil, http.StatusOK)

	var created []notificationDTO
	for _, title := range []string{"one", "two", "three", "four", "five"} {
		created = append(created, createNotification(t, base, userID, "mention", title, http.StatusCreated))
	}

	var page pageDTO
	if err := json.Unmarshal(HTTPDoJSON(t, http.MethodGet, users+"/notifications?limit=2", nil, http.StatusOK), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Notifications) != 2 || page.Total != 5 {
		t.Fatalf("page: got %d rows total %d", len(page.Notifications), page.Total)
	}
	if page.Notifications[0].Title != "five" {
		t.Fatalf("want newest first, got %q", page.Notifications[0].Title)
	}

	readURL := users + "/notifications/" + created[0].ID + "/read"
	if b := string(HTTPDoJSON(t, http.MethodPost, readURL, nil, http.StatusOK)); !strings.Contains(b, `"updated":true`) {
		t.Fatalf("first mark read: %s", b)
	}
	if b := string(HTTPDoJSON(t, http.MethodPost, readURL, nil, http.StatusOK)); !strings.Contains(b, `"updated":false`) {
		t.Fatalf("second mark read: %s", b)
	}

	if b := string(HTTPDoJSON(t, http.MethodGet, users+"/notifications/unread-count", nil, http.StatusOK)); !strings.Contains(b, `"count":4`) {
		t.Fatalf("unread count: %s", b)
	}
	HTTPDoJSON(t, http.MethodPost, users+"/notifications/read-all", nil, http.StatusOK)
	if b := string(HTTPDoJSON(t, http.MethodGet, users+"/notifications/unread-count", nil, http.StatusOK)); !strings.Contains(b, `"count":0`) {
		t.Fatalf("unread count after read-all: %s", b)
	}

	HTTPDoJSON(t, http.MethodPatch, users+"/preferences/mention", map[string]bool{"in_app_enabled": false}, http.StatusOK)
	createNotification(t, base, userID, "mention", "muted", http.StatusNoContent)
}

func TestGateway_EmailThroughOutbox(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.AGBaseURL+"/healthz", 60*time.Second)
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID, email := SeedUser(t, db, "sora")
	SeedPreference(t, db, userID, "achievement", true, true)
	SeedPreference(t, db, userID, "mention", true, false)

	n := createNotification(t, cfg.AGBaseURL, userID, "achievement", "Quest Completed!", http.StatusCreated)
	if n.EmailSent {
		t.Fatalf("email_sent must start false")
	}

	msg, ok := WaitMail(t, cfg.MailhogAPI, email, 30*time.Second)
	if !ok {
		t.Fatalf("no mail for %s", email)
	}
	if subj := msg.Header("Subject"); !strings.Contains(subj, "Quest Completed!") {
		t.Fatalf("bad subject: %q", subj)
	}
	if !WaitEmailSent(t, db, n.ID, 10*time.Second) {
		t.Fatalf("email_sent not set")
	}

	// email disabled for mentions: row persisted, no mail
	m := createNotification(t, cfg.AGBaseURL, userID, "mention", "Mentioned", http.StatusCreated)
	time.Sleep(3 * time.Second)
	if EmailSent(t, db, m.ID) {
		t.Fatalf("mention must not be emailed")
	}
}

func TestGateway_Validation(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.AGBaseURL+"/healthz", 60*time.Second)

	HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/notifications", map[string]any{
		"user_id": "not-a-uuid", "type": "system", "title": "t", "message": "m",
	}, http.StatusBadRequest)
	HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/notifications", map[string]any{
		"user_id": "7d1c6f1e-7a43-4f5a-9d2e-1f4f8f0a0001", "type": "spam", "title": "t", "message": "m",
	}, http.StatusBadRequest)
	HTTPDoJSON(t, http.MethodGet, cfg.AGBaseURL+"/v1/realtime/status", nil, http.StatusOK)
}
