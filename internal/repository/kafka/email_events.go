package kafka

import (
	"context"

	"github.com/NordCoder/Questline/internal/domain/kafka"
	"github.com/NordCoder/Questline/internal/domain/notification"
)

const TopicEmailRequested = "questline.email.requested"

type EmailEventsKafka struct {
	p *Producer
}

func NewEmailEventsKafka(p *Producer) *EmailEventsKafka { return &EmailEventsKafka{p: p} }

var _ kafka.EmailEvents = (*EmailEventsKafka)(nil)

func (e *EmailEventsKafka) PublishEmailRequested(ctx context.Context, req notification.EmailRequest) error {
	return e.p.PublishJSON(ctx, KeyFromString(req.UserID), req)
}
