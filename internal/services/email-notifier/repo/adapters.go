package repo

import (
	"context"
	"strings"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/domain/user"
)

var _ notification.RecipientReader = UserReader{}

// UserReader resolves the email recipient from the platform users table.
type UserReader struct{ R user.Repo }

func (a UserReader) GetRecipient(ctx context.Context, userID string) (*notification.Recipient, error) {
	u, err := a.R.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	name := u.Username
	if name == "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	return &notification.Recipient{UserID: u.ID, Email: u.Email, Name: name}, nil
}

// NotificationStore narrows the notification repo to what the email step
// touches.
type NotificationStore struct{ R notification.Repo }

func (a NotificationStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	return a.R.Get(ctx, id)
}

func (a NotificationStore) MarkEmailSent(ctx context.Context, id string) error {
	return a.R.MarkEmailSent(ctx, id)
}
