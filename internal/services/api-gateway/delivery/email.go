package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/domain/outbox"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Deliverer performs the email step for one persisted notification and
// reports whether the email went out.
type Deliverer interface {
	Deliver(ctx context.Context, n notification.Notification) bool
}

var _ EmailDispatcher = (*AsyncEmail)(nil)

// AsyncEmail runs the email step in-process, off the caller's goroutine.
type AsyncEmail struct {
	d       Deliverer
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewAsyncEmail(d Deliverer, timeout time.Duration, log *zap.Logger) *AsyncEmail {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncEmail{d: d, timeout: timeout, log: obs.Component(log, "delivery.email")}
}

// Dispatch returns immediately. The email step keeps the caller's values
// (trace context) but not its cancellation.
func (a *AsyncEmail) Dispatch(ctx context.Context, n notification.Notification) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				countState(stateEmailFailed)
				a.log.Error("email step panicked", zap.String("notification_id", n.ID), zap.Any("panic", r))
			}
		}()

		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if a.d.Deliver(ectx, n) {
			countState(stateEmailSent)
			return
		}
		countState(stateEmailFailed)
	}()
}

// Wait blocks until every dispatched email step has finished.
func (a *AsyncEmail) Wait() { a.wg.Wait() }

type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error
}

// OutboxEmail records an email request in the outbox; the email-notifier
// service picks it up from Kafka.
type OutboxEmail struct {
	repo OutboxEnqueuer
	clk  notification.Clock
	log  *zap.Logger
}

func NewOutboxEmail(repo OutboxEnqueuer, clk notification.Clock, log *zap.Logger) *OutboxEmail {
	if clk == nil {
		clk = notification.SystemClock{}
	}
	return &OutboxEmail{repo: repo, clk: clk, log: obs.Component(log, "delivery.outbox_email")}
}

func EmailIdempotencyKey(notificationID string) string { return "email:" + notificationID }

var _ TxDispatcher = (*OutboxEmail)(nil)

// Dispatch enqueues outside any transaction and only logs a failure.
func (o *OutboxEmail) Dispatch(ctx context.Context, n notification.Notification) {
	if err := o.Enqueue(ctx, n); err != nil {
		countState(stateEmailFailed)
		o.log.Warn("email request not enqueued", zap.String("notification_id", n.ID), zap.Error(err))
	}
}

// Enqueue writes the email request for n with the transaction carried by
// ctx, if any.
func (o *OutboxEmail) Enqueue(ctx context.Context, n notification.Notification) error {
	data, err := json.Marshal(notification.EmailRequest{
		NotificationID: n.ID,
		UserID:         n.UserID,
		RequestedAt:    o.clk.Now(),
	})
	if err != nil {
		return err
	}
	return o.repo.Enqueue(ctx, EmailIdempotencyKey(n.ID), outbox.KindEmailRequested, data)
}
