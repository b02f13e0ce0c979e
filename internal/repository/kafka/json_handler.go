package kafka

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// JSONHandler decodes the message value into a T before calling handle.
// Values that do not decode are skipped, since a retry cannot fix them.
func JSONHandler[T any](handle func(context.Context, []byte, T) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg T
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrSkip, err)
		}
		return handle(ctx, key, msg)
	}
}
