package realtime

import (
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
)

type EventKind string

const (
	KindActivity     EventKind = "activity"
	KindLeaderboard  EventKind = "leaderboard"
	KindNotification EventKind = "notification"
)

// DomainEvent is implemented only by ActivityEvent, LeaderboardUpdate and
// NotificationEvent.
type DomainEvent interface {
	Kind() EventKind
	domainEvent()
}

type ActivityType string

const (
	ActivityQuestCompleted ActivityType = "quest_completed"
	ActivityBadgeEarned    ActivityType = "badge_earned"
	ActivityLevelUp        ActivityType = "level_up"
	ActivityPostCreated    ActivityType = "post_created"
	ActivityEventJoined    ActivityType = "event_joined"
	ActivityMemberJoined   ActivityType = "member_joined"
)

type ActivityEvent struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Type        ActivityType   `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (ActivityEvent) Kind() EventKind { return KindActivity }
func (ActivityEvent) domainEvent()    {}

type LeaderboardUpdateType string

const (
	LeaderboardPointsAwarded LeaderboardUpdateType = "points_awarded"
	LeaderboardRankChanged   LeaderboardUpdateType = "rank_changed"
)

type LeaderboardUpdate struct {
	ID          string                `json:"id"`
	UserID      string                `json:"user_id"`
	Type        LeaderboardUpdateType `json:"type"`
	Description string                `json:"description,omitempty"`
	Points      int                   `json:"points"`
	Rank        int                   `json:"rank,omitempty"`
	Metadata    map[string]any        `json:"metadata,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func (LeaderboardUpdate) Kind() EventKind { return KindLeaderboard }
func (LeaderboardUpdate) domainEvent()    {}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
)

type NotificationEvent struct {
	Change       ChangeType                `json:"change"`
	Notification notification.Notification `json:"notification"`
}

func (NotificationEvent) Kind() EventKind { return KindNotification }
func (NotificationEvent) domainEvent()    {}
