package notification

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	TypeMention        Type = "mention"
	TypeQuestAvailable Type = "quest_available"
	TypeEventReminder  Type = "event_reminder"
	TypeAchievement    Type = "achievement"
	TypeSystem         Type = "system"
)

// Types lists every notification type in a stable order.
var Types = []Type{TypeMention, TypeQuestAvailable, TypeEventReminder, TypeAchievement, TypeSystem}

var (
	ErrInvalidType    = errors.New("invalid notification type")
	ErrUserIDRequired = errors.New("user id is required")
)

func (t Type) Valid() bool {
	switch t {
	case TypeMention, TypeQuestAvailable, TypeEventReminder, TypeAchievement, TypeSystem:
		return true
	}
	return false
}

func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	EmailSent bool           `json:"email_sent"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

type Page struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
}

// Preference is the per-(user, type) delivery switch. A missing row is
// reported as a nil *Preference, never as a zero value.
type Preference struct {
	UserID       string    `json:"user_id"`
	Type         Type      `json:"type"`
	InAppEnabled bool      `json:"in_app_enabled"`
	EmailEnabled bool      `json:"email_enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PreferencePatch carries only the fields the caller wants to change.
type PreferencePatch struct {
	InAppEnabled *bool `json:"in_app_enabled,omitempty"`
	EmailEnabled *bool `json:"email_enabled,omitempty"`
}

func (p PreferencePatch) Empty() bool {
	return p.InAppEnabled == nil && p.EmailEnabled == nil
}

// DefaultPreferences is what a freshly registered user gets when seeded.
func DefaultPreferences(userID string) []Preference {
	out := make([]Preference, 0, len(Types))
	for _, t := range Types {
		out = append(out, Preference{
			UserID:       userID,
			Type:         t,
			InAppEnabled: true,
			EmailEnabled: t == TypeSystem,
		})
	}
	return out
}

type Recipient struct {
	UserID string
	Email  string
	Name   string
}

// EmailRequest is the hand-off record between the delivery path and the
// email worker.
type EmailRequest struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	RequestedAt    time.Time `json:"requested_at"`
}

type EmailSender interface {
	Send(ctx context.Context, toAddress, toName, subject, htmlBody string) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
