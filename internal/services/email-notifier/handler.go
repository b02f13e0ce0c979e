package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/obs"
	pg "github.com/NordCoder/Questline/internal/repository/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	outcomeSent        = "sent"
	outcomeFailed      = "failed"
	outcomeAlreadySent = "already_sent"
	outcomeNoRecipient = "no_recipient"
	outcomeRender      = "render_failed"
	outcomeMissing     = "missing_notification"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "email_deliveries_total",
	Help: "Notification emails by outcome.",
}, []string{"outcome"})

type NotificationStore interface {
	Get(ctx context.Context, id string) (*notification.Notification, error)
	MarkEmailSent(ctx context.Context, id string) error
}

// Handler is the email step. It never returns delivery errors to its
// callers and never retries.
type Handler struct {
	Users     notification.RecipientReader
	Store     NotificationStore
	Out       notification.EmailSender
	Templates *Templates
	Log       *zap.Logger
}

func (h *Handler) log(ctx context.Context) *zap.Logger {
	l := h.Log
	if l == nil {
		l = zap.NewNop()
	}
	return obs.WithTrace(ctx, l)
}

// SendNotificationEmail renders n and sends it to the given address.
func (h *Handler) SendNotificationEmail(ctx context.Context, toAddress, toName string, n notification.Notification) bool {
	log := h.log(ctx).With(zap.String("notification_id", n.ID), zap.String("type", string(n.Type)))

	subject, body, err := h.Templates.Render(n, toName)
	if err != nil {
		deliveries.WithLabelValues(outcomeRender).Inc()
		log.Error("render email failed", zap.Error(err))
		return false
	}
	if err := h.Out.Send(ctx, toAddress, toName, subject, body); err != nil {
		deliveries.WithLabelValues(outcomeFailed).Inc()
		log.Warn("email delivery failed", zap.Error(err))
		return false
	}
	deliveries.WithLabelValues(outcomeSent).Inc()
	return true
}

// Deliver runs the whole email step for a persisted notification and
// reports whether its email is out.
func (h *Handler) Deliver(ctx context.Context, n notification.Notification) bool {
	log := h.log(ctx).With(zap.String("notification_id", n.ID), zap.String("user_id", n.UserID))

	if h.Store != nil {
		cur, err := h.Store.Get(ctx, n.ID)
		switch {
		case err != nil:
			log.Warn("re-read before email failed, using given record", zap.Error(err))
		case cur.EmailSent:
			deliveries.WithLabelValues(outcomeAlreadySent).Inc()
			log.Debug("email already sent")
			return true
		default:
			n = *cur
		}
	}

	rcpt, err := h.Users.GetRecipient(ctx, n.UserID)
	if err != nil || rcpt == nil || rcpt.Email == "" {
		deliveries.WithLabelValues(outcomeNoRecipient).Inc()
		log.Warn("no email recipient", zap.Error(err))
		return false
	}

	if !h.SendNotificationEmail(ctx, rcpt.Email, rcpt.Name, n) {
		return false
	}

	if h.Store != nil {
		if err := h.Store.MarkEmailSent(ctx, n.ID); err != nil {
			log.Error("email sent but not recorded", zap.Error(err))
		}
	}
	return true
}

// HandleRequest serves one EmailRequested message from Kafka. Only a
// store failure while loading the record is returned, so the message is
// not committed and gets another chance.
func (h *Handler) HandleRequest(ctx context.Context, req notification.EmailRequest) error {
	if req.NotificationID == "" {
		h.log(ctx).Warn("email request without notification id", zap.String("user_id", req.UserID))
		return nil
	}
	n, err := h.Store.Get(ctx, req.NotificationID)
	if err != nil {
		if errors.Is(err, pg.ErrNotFound) {
			deliveries.WithLabelValues(outcomeMissing).Inc()
			h.log(ctx).Warn("email request for unknown notification", zap.String("notification_id", req.NotificationID))
			return nil
		}
		return fmt.Errorf("load notification: %w", err)
	}
	h.Deliver(ctx, *n)
	return nil
}
