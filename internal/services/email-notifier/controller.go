package notifier

import (
	"context"
	"errors"

	"github.com/NordCoder/Questline/internal/domain/notification"
	kafkax "github.com/NordCoder/Questline/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var consumed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "email_notifier_messages_consumed_total",
	Help: "EmailRequested events consumed",
})

type Controller struct {
	Log *zap.Logger
	Sub *kafkax.Consumer
	UC  *Handler
}

func (c *Controller) Handler() kafkax.Handler {
	return kafkax.JSONHandler(func(ctx context.Context, _ []byte, req notification.EmailRequest) error {
		consumed.Inc()
		return c.UC.HandleRequest(ctx, req)
	})
}

func (c *Controller) Run(ctx context.Context) error {
	if err := c.Sub.Consume(ctx, c.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		c.Log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}
