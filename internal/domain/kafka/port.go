package kafka

import (
	"context"

	"github.com/NordCoder/Questline/internal/domain/notification"
)

type EmailEvents interface {
	PublishEmailRequested(ctx context.Context, req notification.EmailRequest) error
}
