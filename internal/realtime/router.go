package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/NordCoder/Questline/internal/domain/notification"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	"go.uber.org/zap"
)

const (
	ChannelActivity    = "activity-feed"
	ChannelLeaderboard = "leaderboard-updates"
	channelUserPrefix  = "user-notifications:"

	EventActivity     = "new_activity"
	EventLeaderboard  = "leaderboard_update"
	EventNotification = "notification"
)

func NotificationChannel(userID string) string { return channelUserPrefix + userID }

type channelManager interface {
	Subscribe(ctx context.Context, name string, bindings ...domain.Binding) *Channel
	Unsubscribe(ctx context.Context, name string) error
	Send(ctx context.Context, channel, event string, payload any) error
}

// Router wires the well-known channels, decodes what arrives on them and
// fans typed events out to local handlers.
type Router struct {
	hub channelManager
	log *zap.Logger

	mu          sync.Mutex
	initialized bool
	channels    []string

	activity      *registry[domain.ActivityEvent]
	leaderboard   *registry[domain.LeaderboardUpdate]
	notifications *registry[domain.NotificationEvent]
}

func NewRouter(hub channelManager, log *zap.Logger) *Router {
	log = obs.Component(log, "realtime.router")
	return &Router{
		hub:           hub,
		log:           log,
		activity:      newRegistry[domain.ActivityEvent](string(domain.KindActivity), log),
		leaderboard:   newRegistry[domain.LeaderboardUpdate](string(domain.KindLeaderboard), log),
		notifications: newRegistry[domain.NotificationEvent](string(domain.KindNotification), log),
	}
}

// Initialize subscribes the activity and leaderboard channels, plus the
// per-user notification channel when userID is set. Calling it again while
// initialized does nothing.
func (r *Router) Initialize(ctx context.Context, userID string) {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return
	}
	r.initialized = true
	names := []string{ChannelActivity, ChannelLeaderboard}
	if userID != "" {
		names = append(names, NotificationChannel(userID))
	}
	r.channels = names
	r.mu.Unlock()

	activity := r.hub.Subscribe(ctx, ChannelActivity,
		r.binding(domain.BindingBroadcast, EventActivity, "", ""),
		r.binding(domain.BindingChanges, "INSERT", tableActivities, ""),
	)
	r.hub.Subscribe(ctx, ChannelLeaderboard,
		r.binding(domain.BindingBroadcast, EventLeaderboard, "", ""),
		r.binding(domain.BindingChanges, domain.AnyEvent, tableLeaderboard, ""),
	)
	if userID != "" {
		name := NotificationChannel(userID)
		r.hub.Subscribe(ctx, name,
			r.binding(domain.BindingBroadcast, EventNotification, "", ""),
			r.binding(domain.BindingChanges, domain.AnyEvent, tableNotifications, "user_id=eq."+userID),
		)
	}
	if activity.Disabled() {
		r.log.Warn("router initialized without a transport; channels are inert", zap.Strings("channels", names))
		return
	}
	r.log.Info("router initialized", zap.Strings("channels", names))
}

func (r *Router) binding(kind domain.BindingKind, event, table, filter string) domain.Binding {
	b := domain.Binding{Kind: kind, Event: event, Table: table, Filter: filter, Handler: r.handle}
	if kind == domain.BindingChanges {
		b.Schema = "public"
	}
	return b
}

func (r *Router) handle(m domain.Message) {
	ev, err := Decode(m)
	if err != nil {
		if errors.Is(err, ErrIgnoredChange) {
			r.log.Debug("change ignored", zap.String("channel", m.Channel), zap.Error(err))
			return
		}
		eventsDropped.WithLabelValues(m.Channel).Inc()
		r.log.Warn("undecodable realtime payload dropped",
			zap.String("channel", m.Channel), zap.String("event", m.Event), zap.Error(err))
		return
	}
	r.Dispatch(ev)
}

// Dispatch hands an already typed event to the matching handler set.
func (r *Router) Dispatch(ev domain.DomainEvent) {
	eventsDispatched.WithLabelValues(string(ev.Kind())).Inc()
	switch e := ev.(type) {
	case domain.ActivityEvent:
		r.activity.dispatch(e)
	case domain.LeaderboardUpdate:
		r.leaderboard.dispatch(e)
	case domain.NotificationEvent:
		r.notifications.dispatch(e)
	}
}

func (r *Router) OnActivity(h func(domain.ActivityEvent)) (unsubscribe func()) {
	return r.activity.add(h)
}

func (r *Router) OnLeaderboardUpdate(h func(domain.LeaderboardUpdate)) (unsubscribe func()) {
	return r.leaderboard.add(h)
}

func (r *Router) OnNotification(h func(domain.NotificationEvent)) (unsubscribe func()) {
	return r.notifications.add(h)
}

// BroadcastActivity is fire-and-forget; failures are only logged.
func (r *Router) BroadcastActivity(ctx context.Context, ev domain.ActivityEvent) {
	if err := r.hub.Send(ctx, ChannelActivity, EventActivity, ev); err != nil {
		r.log.Warn("broadcast activity failed", zap.String("activity_id", ev.ID), zap.Error(err))
	}
}

func (r *Router) BroadcastLeaderboardUpdate(ctx context.Context, u domain.LeaderboardUpdate) {
	if err := r.hub.Send(ctx, ChannelLeaderboard, EventLeaderboard, u); err != nil {
		r.log.Warn("broadcast leaderboard update failed", zap.String("user_id", u.UserID), zap.Error(err))
	}
}

// BroadcastNotification pushes a notification record to its owner's
// channel. The error is returned for the caller to log; it never fails the
// surrounding write.
func (r *Router) BroadcastNotification(ctx context.Context, n notification.Notification, change domain.ChangeType) error {
	return r.hub.Send(ctx, NotificationChannel(n.UserID), EventNotification, domain.NotificationEvent{
		Change:       change,
		Notification: n,
	})
}

// Cleanup unsubscribes every channel this router created and drops every
// handler. It is safe to call on a router that was never initialized.
func (r *Router) Cleanup(ctx context.Context) {
	r.mu.Lock()
	names := r.channels
	r.channels = nil
	r.initialized = false
	r.mu.Unlock()

	for _, name := range names {
		if err := r.hub.Unsubscribe(ctx, name); err != nil {
			r.log.Warn("unsubscribe failed", zap.String("channel", name), zap.Error(err))
		}
	}
	r.activity.clear()
	r.leaderboard.clear()
	r.notifications.clear()
}
