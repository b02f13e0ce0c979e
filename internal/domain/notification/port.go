package notification

import "context"

type Repo interface {
	Insert(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, int, error)
	// MarkRead returns the updated record, or nil when the notification does
	// not exist, belongs to someone else, or was already read.
	MarkRead(ctx context.Context, id, userID string) (*Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkEmailSent(ctx context.Context, id string) error
}

type PreferenceRepo interface {
	Get(ctx context.Context, userID string, t Type) (*Preference, error)
	List(ctx context.Context, userID string) ([]Preference, error)
	Update(ctx context.Context, userID string, t Type, patch PreferencePatch) error
	Seed(ctx context.Context, userID string) error
}

type RecipientReader interface {
	GetRecipient(ctx context.Context, userID string) (*Recipient, error)
}
