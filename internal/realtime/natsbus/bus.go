// Package natsbus carries realtime channels over NATS subjects.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// envelope is the body of every message published on a channel subject.
type envelope struct {
	Kind    domain.BindingKind `json:"kind"`
	Event   string             `json:"event"`
	Table   string             `json:"table,omitempty"`
	Payload json.RawMessage    `json:"payload"`
}

var _ domain.Transport = (*Bus)(nil)

type Bus struct {
	cfg Config
	log *zap.Logger

	mu    sync.Mutex
	nc    *nats.Conn
	hooks domain.Hooks
}

func New(cfg Config, log *zap.Logger) *Bus {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "questline"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Bus{cfg: cfg, log: obs.Component(log, "realtime.nats")}
}

// Subject maps a channel name onto a NATS subject.
func (b *Bus) Subject(channel string) string {
	return b.cfg.SubjectPrefix + "." + strings.ReplaceAll(channel, ":", ".")
}

// Connect dials without client side reconnects; the connection manager
// owns the backoff.
func (b *Bus) Connect(_ context.Context, hooks domain.Hooks) error {
	nc, err := nats.Connect(b.cfg.URL,
		nats.Name(b.cfg.Name),
		nats.Timeout(b.cfg.Timeout),
		nats.NoReconnect(),
		nats.NoEcho(),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) { b.dropped(c, err) }),
		nats.ErrorHandler(func(c *nats.Conn, _ *nats.Subscription, err error) {
			b.log.Warn("nats async error", zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	b.mu.Lock()
	old := b.nc
	b.nc = nc
	b.hooks = hooks
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}

	b.log.Info("nats connected", zap.String("url", nc.ConnectedUrlRedacted()))
	if hooks.OnOpen != nil {
		hooks.OnOpen()
	}
	return nil
}

func (b *Bus) dropped(c *nats.Conn, err error) {
	b.mu.Lock()
	if b.nc != c {
		b.mu.Unlock()
		return
	}
	b.nc = nil
	hooks := b.hooks
	b.mu.Unlock()

	c.Close()
	if err == nil || errors.Is(err, io.EOF) {
		b.log.Warn("nats connection closed", zap.Error(err))
		if hooks.OnClose != nil {
			hooks.OnClose(err)
		}
		return
	}
	b.log.Warn("nats connection lost", zap.Error(err))
	if hooks.OnError != nil {
		hooks.OnError(err)
	}
}

func (b *Bus) Disconnect(context.Context) error {
	b.mu.Lock()
	nc := b.nc
	b.nc = nil
	b.mu.Unlock()
	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

func (b *Bus) conn() (*nats.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return b.nc, nil
}

func (b *Bus) Channel(name string) domain.TransportChannel {
	return &subject{bus: b, name: name, subject: b.Subject(name)}
}

type changeRecord struct {
	Type      string `json:"type"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	Record    any    `json:"record"`
	OldRecord any    `json:"old_record,omitempty"`
}

// publishChange injects a row change into a channel, the way a CDC relay
// feeding this bus would.
func (b *Bus) publishChange(ctx context.Context, channel, changeType, table string, record, oldRecord any) error {
	raw, err := json.Marshal(changeRecord{
		Type: changeType, Schema: "public", Table: table, Record: record, OldRecord: oldRecord,
	})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return b.publish(ctx, b.Subject(channel), envelope{
		Kind: domain.BindingChanges, Event: changeType, Table: table, Payload: raw,
	})
}

func (b *Bus) publish(ctx context.Context, subj string, env envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc, err := b.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return nc.Publish(subj, data)
}

var _ domain.TransportChannel = (*subject)(nil)

type subject struct {
	bus     *Bus
	name    string
	subject string

	mu       sync.Mutex
	bindings []domain.Binding
	sub      *nats.Subscription
}

func (s *subject) On(b domain.Binding) {
	s.mu.Lock()
	s.bindings = append(s.bindings, b)
	s.mu.Unlock()
}

func (s *subject) Join(context.Context) error {
	nc, err := s.bus.conn()
	if err != nil {
		return err
	}
	sub, err := nc.Subscribe(s.subject, s.receive)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Unsubscribe()
	}
	return nil
}

func (s *subject) Send(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return s.bus.publish(ctx, s.subject, envelope{Kind: domain.BindingBroadcast, Event: event, Payload: raw})
}

func (s *subject) Leave(context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

// receive runs on the subscription's own goroutine, so one subject is
// handled in arrival order.
func (s *subject) receive(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.bus.log.Warn("bad envelope", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	m := domain.Message{Channel: s.name, Kind: env.Kind, Event: env.Event, Table: env.Table, Payload: env.Payload}

	s.mu.Lock()
	bs := append([]domain.Binding(nil), s.bindings...)
	s.mu.Unlock()
	for _, b := range bs {
		if b.Handler == nil || !b.Matches(m) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.bus.log.Error("binding handler panicked", zap.String("subject", s.subject), zap.Any("panic", r))
				}
			}()
			b.Handler(m)
		}()
	}
}
