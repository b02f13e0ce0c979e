package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/goccy/go-json"
)

var (
	ErrUnknownEvent  = errors.New("realtime: unknown event")
	ErrMalformed     = errors.New("realtime: malformed payload")
	ErrIgnoredChange = errors.New("realtime: change ignored")
)

const (
	tableActivities    = "activities"
	tableLeaderboard   = "leaderboard"
	tableNotifications = "notifications"
)

// Decode turns a raw transport message into exactly one typed event.
func Decode(m domain.Message) (domain.DomainEvent, error) {
	switch m.Kind {
	case domain.BindingBroadcast:
		return decodeBroadcast(m)
	case domain.BindingChanges:
		return decodeChange(m)
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnknownEvent, m.Kind)
}

func decodeBroadcast(m domain.Message) (domain.DomainEvent, error) {
	switch m.Event {
	case EventActivity:
		var ev domain.ActivityEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: activity: %v", ErrMalformed, err)
		}
		if ev.Type == "" {
			return nil, fmt.Errorf("%w: activity without type", ErrMalformed)
		}
		return ev, nil
	case EventLeaderboard:
		var ev domain.LeaderboardUpdate
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: leaderboard: %v", ErrMalformed, err)
		}
		if ev.UserID == "" {
			return nil, fmt.Errorf("%w: leaderboard update without user", ErrMalformed)
		}
		if ev.Type == "" {
			ev.Type = domain.LeaderboardPointsAwarded
		}
		return ev, nil
	case EventNotification:
		var ev domain.NotificationEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: notification: %v", ErrMalformed, err)
		}
		if ev.Notification.ID == "" {
			return nil, fmt.Errorf("%w: notification without id", ErrMalformed)
		}
		if ev.Change == "" {
			ev.Change = domain.ChangeInsert
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: broadcast %q", ErrUnknownEvent, m.Event)
}

type changeRecord struct {
	Type      string          `json:"type"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

type activityRow struct {
	ID          flexString     `json:"id"`
	UserID      flexString     `json:"user_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   pgTime         `json:"created_at"`
}

type leaderboardRow struct {
	ID        flexString     `json:"id"`
	UserID    flexString     `json:"user_id"`
	Points    int            `json:"points"`
	Rank      int            `json:"rank"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata"`
	UpdatedAt pgTime         `json:"updated_at"`
}

type notificationRow struct {
	ID        flexString     `json:"id"`
	UserID    flexString     `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
	Read      bool           `json:"read"`
	EmailSent bool           `json:"email_sent"`
	CreatedAt pgTime         `json:"created_at"`
	UpdatedAt pgTime         `json:"updated_at"`
}

func decodeChange(m domain.Message) (domain.DomainEvent, error) {
	var rec changeRecord
	if err := json.Unmarshal(m.Payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: change: %v", ErrMalformed, err)
	}
	if rec.Type == "" {
		rec.Type = m.Event
	}
	if rec.Table == "" {
		rec.Table = m.Table
	}
	if rec.Type == "DELETE" {
		return nil, fmt.Errorf("%w: delete on %s", ErrIgnoredChange, rec.Table)
	}
	if len(rec.Record) == 0 {
		return nil, fmt.Errorf("%w: change without record", ErrMalformed)
	}

	switch rec.Table {
	case tableActivities:
		var row activityRow
		if err := json.Unmarshal(rec.Record, &row); err != nil {
			return nil, fmt.Errorf("%w: activity row: %v", ErrMalformed, err)
		}
		return domain.ActivityEvent{
			ID:          string(row.ID),
			UserID:      string(row.UserID),
			Type:        domain.ActivityType(row.Type),
			Title:       row.Title,
			Description: row.Description,
			Metadata:    row.Metadata,
			CreatedAt:   row.CreatedAt.Time,
		}, nil

	case tableLeaderboard:
		var row leaderboardRow
		if err := json.Unmarshal(rec.Record, &row); err != nil {
			return nil, fmt.Errorf("%w: leaderboard row: %v", ErrMalformed, err)
		}
		typ := domain.LeaderboardPointsAwarded
		if rec.Type == "UPDATE" && len(rec.OldRecord) > 0 {
			var old leaderboardRow
			if err := json.Unmarshal(rec.OldRecord, &old); err == nil && old.Rank != 0 && old.Rank != row.Rank {
				typ = domain.LeaderboardRankChanged
			}
		}
		return domain.LeaderboardUpdate{
			ID:          string(row.ID),
			UserID:      string(row.UserID),
			Type:        typ,
			Description: row.Reason,
			Points:      row.Points,
			Rank:        row.Rank,
			Metadata:    row.Metadata,
			UpdatedAt:   row.UpdatedAt.Time,
		}, nil

	case tableNotifications:
		var row notificationRow
		if err := json.Unmarshal(rec.Record, &row); err != nil {
			return nil, fmt.Errorf("%w: notification row: %v", ErrMalformed, err)
		}
		change := domain.ChangeInsert
		if rec.Type == "UPDATE" {
			change = domain.ChangeUpdate
		}
		return domain.NotificationEvent{
			Change: change,
			Notification: notification.Notification{
				ID:        string(row.ID),
				UserID:    string(row.UserID),
				Type:      notification.Type(row.Type),
				Title:     row.Title,
				Message:   row.Message,
				Metadata:  row.Metadata,
				Read:      row.Read,
				EmailSent: row.EmailSent,
				CreatedAt: row.CreatedAt.Time,
				UpdatedAt: row.UpdatedAt.Time,
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: table %q", ErrUnknownEvent, rec.Table)
}

// flexString accepts both JSON strings and numbers, since change feeds
// serialize bigint keys as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

var pgTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// pgTime parses the timestamp renderings Postgres change feeds produce.
type pgTime struct{ time.Time }

func (t *pgTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range pgTimeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
