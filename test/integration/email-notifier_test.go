//go:build integration

package integration

import (
	"strings"
	"testing"
	"time"
)

type emailRequested struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	RequestedAt    time.Time `json:"requested_at"`
}

func TestEmailNotifier_HappyPath(t *testing.T) {
	cfg := LoadCfg()
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.EmailTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID, email := SeedUser(t, db, "rin")
	nid := SeedNotification(t, db, userID, "system", "Maintenance tonight", "Servers restart at 02:00 UTC.")

	PublishJSON(t, cfg.KafkaBootstrap, cfg.EmailTopic, []byte(userID), emailRequested{
		NotificationID: nid, UserID: userID, RequestedAt: time.Now().UTC(),
	})

	msg, ok := WaitMail(t, cfg.MailhogAPI, email, 25*time.Second)
	if !ok {
		t.Fatalf("no mail for %s", email)
	}
	if subj := msg.Header("Subject"); !strings.Contains(subj, "Maintenance tonight") {
		t.Fatalf("bad subject: %q", subj)
	}
	if !strings.Contains(msg.Content.Body, "Servers restart at 02:00 UTC.") || !strings.Contains(msg.Content.Body, "Hi rin,") {
		t.Fatalf("bad body: %q", msg.Content.Body)
	}
	if !WaitEmailSent(t, db, nid, 10*time.Second) {
		t.Fatalf("email_sent not set for %s", nid)
	}
}

func TestEmailNotifier_AlreadySentIsSkipped(t *testing.T) {
	cfg := LoadCfg()
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.EmailTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID, email := SeedUser(t, db, "kai")
	nid := SeedNotification(t, db, userID, "achievement", "Badge", "You earned a badge")
	if _, err := db.Exec(`update notifications set email_sent = true where id = $1`, nid); err != nil {
		t.Fatalf("[db] mark sent: %v", err)
	}

	PublishJSON(t, cfg.KafkaBootstrap, cfg.EmailTopic, []byte(userID), emailRequested{NotificationID: nid, UserID: userID})
	ExpectNoMail(t, cfg.MailhogAPI, email, 6*time.Second)
}

func TestEmailNotifier_UnknownNotificationIgnored(t *testing.T) {
	cfg := LoadCfg()
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.EmailTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	userID, email := SeedUser(t, db, "ghost")

	PublishJSON(t, cfg.KafkaBootstrap, cfg.EmailTopic, []byte(userID), emailRequested{
		NotificationID: "00000000-0000-0000-0000-000000000000", UserID: userID,
	})
	PublishJSON(t, cfg.KafkaBootstrap, cfg.EmailTopic, []byte(userID), map[string]any{"notification_id": 42})
	ExpectNoMail(t, cfg.MailhogAPI, email, 6*time.Second)
}
