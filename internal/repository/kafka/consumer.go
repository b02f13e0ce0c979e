package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Questline/internal/obs"
	"github.com/NordCoder/Questline/internal/obs/retry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
	cfg    *ConsumerConfig
}

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	// HandleAttempts bounds how often one message is handed to the handler
	// before it is committed anyway. Zero means 3.
	HandleAttempts int
	Logger         *zap.Logger
}

// ErrSkip tells Consume to commit a message without handling it again.
var ErrSkip = errors.New("kafka: skip message")

var fetchBackoff = retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	if cfg.HandleAttempts <= 0 {
		cfg.HandleAttempts = 3
	}

	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	c := &Consumer{reader: r, cfg: cfg}
	c.log = c.tagged(cfg.Logger)
	return c
}

func (c *Consumer) tagged(l *zap.Logger) *zap.Logger {
	return obs.Component(l, "kafka.consumer").With(
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
	)
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		return c
	}
	cp := *c
	cp.log = c.tagged(l)
	return &cp
}

// Consume fetches messages until ctx is done. Every message is committed
// once the handler succeeds, returns ErrSkip, or runs out of attempts.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	log := c.log
	log.Info("consumer started")

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped")
				return ctx.Err()
			}
			wait := fetchBackoff.Next(failures)
			failures++
			if errors.Is(err, io.EOF) {
				log.Debug("fetch EOF; retry", zap.Duration("backoff", wait))
			} else {
				log.Warn("fetch failed; retry", zap.Error(err), zap.Duration("backoff", wait))
			}
			if !sleep(ctx, wait) {
				log.Info("consumer stopped")
				return ctx.Err()
			}
			continue
		}
		failures = 0

		if err := c.handleWithRetry(ctx, msg, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fields := []zap.Field{zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err)}
			if errors.Is(err, ErrSkip) {
				log.Warn("message skipped", fields...)
			} else {
				log.Error("message dropped after retries", fields...)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				log.Info("commit interrupted by context cancel")
				return ctx.Err()
			}
			log.Warn("commit failed; will retry later", zap.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message, h Handler) error {
	return retry.Do(ctx, retry.Policy{
		Name:      "kafka.handle." + msg.Topic,
		Attempts:  c.cfg.HandleAttempts,
		Backoff:   retry.ExpoJitter{Base: 250 * time.Millisecond, Max: 2 * time.Second},
		Retryable: func(err error) bool { return !errors.Is(err, ErrSkip) },
		OnAttempt: func(i int, err error) {
			c.log.Debug("handler attempt failed", zap.Int("attempt", i+1), zap.Int64("offset", msg.Offset), zap.Error(err))
		},
	}, func(ctx context.Context) error { return c.handle(ctx, msg, h) })
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h Handler) error {
	parent := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{&msg.Headers})
	ctx, span := otel.Tracer("kafka.consumer").Start(parent, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingOperationReceive,
		),
	)
	defer span.End()

	err := h(ctx, msg.Key, msg.Value)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
