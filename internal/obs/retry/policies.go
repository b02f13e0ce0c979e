package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// HandoffPolicy covers publishing an outbox record to the broker. Attempts
// stay low because the runner picks unsent records up again on its next tick.
func HandoffPolicy(log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return Policy{
		Name:     "outbox_handoff",
		Attempts: 4,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			log.Warn("outbox handoff attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) {
				log.Error("outbox handoff gave up", zap.Error(err))
			}
		},
	}
}
