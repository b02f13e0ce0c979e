// Package delivery is the only writer of notification records. It gates
// every write on the user's preferences, pushes new records to the owner's
// realtime channel and hands email off to a dispatcher.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidID = errors.New("invalid id")

type Broadcaster interface {
	BroadcastNotification(ctx context.Context, n notification.Notification, change domain.ChangeType) error
}

type EmailDispatcher interface {
	Dispatch(ctx context.Context, n notification.Notification)
}

// TxDispatcher hands email off with a database write. Given a transactor,
// CreateNotification runs Enqueue in the transaction that inserts the
// notification, so a record never commits without its email request.
type TxDispatcher interface {
	EmailDispatcher
	Enqueue(ctx context.Context, n notification.Notification) error
}

type CreateInput struct {
	UserID   string            `json:"user_id"`
	Type     notification.Type `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

type Service struct {
	repo  notification.Repo
	prefs notification.PreferenceRepo
	bus   Broadcaster
	email EmailDispatcher
	tx    Transactor
	log   *zap.Logger
	clk   notification.Clock
	newID func() string
}

type Option func(*Service)

func WithClock(c notification.Clock) Option { return func(s *Service) { s.clk = c } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithTransactor lets a TxDispatcher join the insert transaction.
func WithTransactor(tx Transactor) Option { return func(s *Service) { s.tx = tx } }

// NewService wires the delivery path. bus and email may be nil, in which
// case that step is skipped.
func NewService(
	repo notification.Repo,
	prefs notification.PreferenceRepo,
	bus Broadcaster,
	email EmailDispatcher,
	log *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		repo:  repo,
		prefs: prefs,
		bus:   bus,
		email: email,
		log:   obs.Component(log, "delivery"),
		clk:   notification.SystemClock{},
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func checkUser(userID string) error {
	if userID == "" {
		return notification.ErrUserIDRequired
	}
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: user %q", ErrInvalidID, userID)
	}
	return nil
}

// CreateNotification persists and broadcasts a notification when the
// owner's in-app preference allows it. A nil result with a nil error means
// the notification was suppressed.
func (s *Service) CreateNotification(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	if err := checkUser(in.UserID); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", notification.ErrInvalidType, in.Type)
	}
	log := s.log.With(zap.String("user_id", in.UserID), zap.String("type", string(in.Type)))

	pref, err := s.prefs.Get(ctx, in.UserID, in.Type)
	if err != nil {
		log.Warn("preference lookup failed, notification suppressed", zap.Error(err))
		countState(stateSuppressed)
		return nil, nil
	}
	if pref == nil || !pref.InAppEnabled {
		log.Debug("notification suppressed by preference", zap.Bool("row_present", pref != nil))
		countState(stateSuppressed)
		return nil, nil
	}

	now := s.clk.Now()
	n := &notification.Notification{
		ID:        s.newID(),
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	wantEmail := pref.EmailEnabled && s.email != nil
	txd, inTx := s.email.(TxDispatcher)
	inTx = inTx && wantEmail && s.tx != nil

	if inTx {
		err = s.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := s.repo.Insert(ctx, n); err != nil {
				return fmt.Errorf("persist notification: %w", err)
			}
			if err := txd.Enqueue(ctx, *n); err != nil {
				return fmt.Errorf("enqueue email request: %w", err)
			}
			return nil
		})
	} else if err = s.repo.Insert(ctx, n); err != nil {
		err = fmt.Errorf("persist notification: %w", err)
	}
	if err != nil {
		log.Error("persist notification failed", zap.Bool("with_email_request", inTx), zap.Error(err))
		countState(stateFailed)
		return nil, err
	}
	countState(statePersisted)

	s.broadcast(ctx, *n, domain.ChangeInsert)

	switch {
	case inTx:
		countState(stateEmailPending)
	case wantEmail:
		countState(stateEmailPending)
		s.email.Dispatch(ctx, *n)
	default:
		countState(stateEmailSkipped)
	}
	return n, nil
}

func (s *Service) broadcast(ctx context.Context, n notification.Notification, change domain.ChangeType) {
	if s.bus == nil {
		return
	}
	if err := s.bus.BroadcastNotification(ctx, n, change); err != nil {
		s.log.Warn("notification broadcast failed",
			zap.String("notification_id", n.ID), zap.String("change", string(change)), zap.Error(err))
		return
	}
	if change == domain.ChangeInsert {
		countState(stateBroadcast)
	}
}

func (s *Service) GetUserNotifications(ctx context.Context, userID string, opts notification.ListOptions) (notification.Page, error) {
	if err := checkUser(userID); err != nil {
		return notification.Page{}, err
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}
	if opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	list, total, err := s.repo.ListByUser(ctx, userID, opts)
	if err != nil {
		s.log.Error("list notifications failed", zap.String("user_id", userID), zap.Error(err))
		return notification.Page{}, err
	}
	if list == nil {
		list = []notification.Notification{}
	}
	return notification.Page{Notifications: list, Total: total}, nil
}

// MarkAsRead reports whether the call changed anything. A second call for
// the same id returns false.
func (s *Service) MarkAsRead(ctx context.Context, id, userID string) (bool, error) {
	if err := checkUser(userID); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, fmt.Errorf("%w: notification %q", ErrInvalidID, id)
	}

	updated, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		s.log.Error("mark read failed", zap.String("notification_id", id), zap.Error(err))
		return false, err
	}
	if updated == nil {
		return false, nil
	}
	s.broadcast(ctx, *updated, domain.ChangeUpdate)
	return true, nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (bool, error) {
	if err := checkUser(userID); err != nil {
		return false, err
	}
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		s.log.Error("mark all read failed", zap.String("user_id", userID), zap.Error(err))
		return false, err
	}
	return n > 0, nil
}

func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	if err := checkUser(userID); err != nil {
		return 0, err
	}
	n, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		s.log.Error("unread count failed", zap.String("user_id", userID), zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (s *Service) NotifyQuestCompletion(ctx context.Context, userID, questTitle string, points int) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeAchievement,
		Title:    "Quest Completed!",
		Message:  fmt.Sprintf("You completed %q and earned %d points.", questTitle, points),
		Metadata: map[string]any{"quest_title": questTitle, "points": points},
	})
}

func (s *Service) NotifyBadgeEarned(ctx context.Context, userID, badgeName string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeAchievement,
		Title:    "New Badge Earned!",
		Message:  fmt.Sprintf("You earned the %q badge.", badgeName),
		Metadata: map[string]any{"badge_name": badgeName},
	})
}

func (s *Service) NotifyLevelUp(ctx context.Context, userID string, level int) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeAchievement,
		Title:    "Level Up!",
		Message:  fmt.Sprintf("Congratulations! You reached level %d.", level),
		Metadata: map[string]any{"level": level},
	})
}

func (s *Service) NotifyEventReminder(ctx context.Context, userID, eventTitle string, startsAt time.Time) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeEventReminder,
		Title:    "Event Reminder",
		Message:  fmt.Sprintf("%q starts at %s.", eventTitle, startsAt.Format(time.RFC1123)),
		Metadata: map[string]any{"event_title": eventTitle, "starts_at": startsAt.UTC().Format(time.RFC3339)},
	})
}

func (s *Service) NotifyMention(ctx context.Context, userID, mentionedBy, where string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeMention,
		Title:    "You were mentioned",
		Message:  fmt.Sprintf("%s mentioned you in %s.", mentionedBy, where),
		Metadata: map[string]any{"mentioned_by": mentionedBy, "location": where},
	})
}

func (s *Service) NotifySystem(ctx context.Context, userID, title, message string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:  userID,
		Type:    notification.TypeSystem,
		Title:   title,
		Message: message,
	})
}

func (s *Service) NotifyQuestAvailable(ctx context.Context, userID, questTitle string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeQuestAvailable,
		Title:    "New Quest Available",
		Message:  fmt.Sprintf("A new quest is waiting for you: %q.", questTitle),
		Metadata: map[string]any{"quest_title": questTitle},
	})
}
