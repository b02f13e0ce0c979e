package wsclient

import (
	"context"
	"sync"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"go.uber.org/zap"
)

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig `json:"broadcast"`
	Presence        presenceConfig  `json:"presence"`
	PostgresChanges []changeFilter  `json:"postgres_changes"`
}

type broadcastConfig struct {
	Ack  bool `json:"ack"`
	Self bool `json:"self"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table,omitempty"`
	Filter string `json:"filter,omitempty"`
}

var _ domain.TransportChannel = (*topic)(nil)

type topic struct {
	c    *Client
	name string

	mu       sync.Mutex
	bindings []domain.Binding
	joined   bool
}

func (t *topic) wireName() string { return topicPrefix + t.name }

func (t *topic) On(b domain.Binding) {
	t.mu.Lock()
	t.bindings = append(t.bindings, b)
	t.mu.Unlock()
}

func (t *topic) Join(ctx context.Context) error {
	t.mu.Lock()
	filters := make([]changeFilter, 0, len(t.bindings))
	for _, b := range t.bindings {
		if b.Kind != domain.BindingChanges {
			continue
		}
		filters = append(filters, changeFilter{Event: b.Event, Schema: b.Schema, Table: b.Table, Filter: b.Filter})
	}
	t.mu.Unlock()

	err := t.c.write(ctx, t.wireName(), eventJoin, joinPayload{
		Config: joinConfig{
			Broadcast:       broadcastConfig{Self: false},
			PostgresChanges: filters,
		},
		AccessToken: t.c.cfg.APIKey,
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.joined = true
	t.mu.Unlock()
	return nil
}

func (t *topic) Send(ctx context.Context, event string, payload any) error {
	t.mu.Lock()
	joined := t.joined
	t.mu.Unlock()
	if !joined {
		if err := t.Join(ctx); err != nil {
			return err
		}
	}
	return t.c.write(ctx, t.wireName(), eventBroadcast, map[string]any{
		"type":    eventBroadcast,
		"event":   event,
		"payload": payload,
	})
}

func (t *topic) Leave(ctx context.Context) error {
	t.c.mu.Lock()
	if t.c.topics[t.name] == t {
		delete(t.c.topics, t.name)
	}
	t.c.mu.Unlock()

	t.mu.Lock()
	joined := t.joined
	t.joined = false
	t.mu.Unlock()
	if !joined {
		return nil
	}
	return t.c.write(ctx, t.wireName(), eventLeave, struct{}{})
}

func (t *topic) dispatch(m domain.Message) {
	t.mu.Lock()
	bs := append([]domain.Binding(nil), t.bindings...)
	t.mu.Unlock()
	for _, b := range bs {
		if b.Handler == nil || !b.Matches(m) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.c.log.Error("binding handler panicked", zap.String("topic", t.name), zap.Any("panic", r))
				}
			}()
			b.Handler(m)
		}()
	}
}
