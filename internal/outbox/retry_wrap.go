package outbox

import (
	"context"

	"github.com/NordCoder/Questline/internal/domain/outbox"
	"github.com/NordCoder/Questline/internal/obs/retry"
)

func WrapKindHandler(h outbox.KindHandler, p retry.Policy) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		return retry.Do(ctx, p, func(ctx context.Context) error { return h(ctx, data) })
	}
}
