package realtime

import (
	"context"
	"sync"
	"time"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
)

type fakeTransport struct {
	mu            sync.Mutex
	openOnConnect bool
	connectErr    error
	connects      int
	disconnects   int
	hooks         domain.Hooks
	channels      []*fakeChannel
}

func (f *fakeTransport) Connect(_ context.Context, hooks domain.Hooks) error {
	f.mu.Lock()
	f.connects++
	f.hooks = hooks
	open, err := f.openOnConnect, f.connectErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if open {
		hooks.OnOpen()
	}
	return nil
}

func (f *fakeTransport) Channel(name string) domain.TransportChannel {
	ch := &fakeChannel{name: name}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) lastHooks() domain.Hooks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hooks
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) named(name string) []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeChannel
	for _, ch := range f.channels {
		if ch.name == name {
			out = append(out, ch)
		}
	}
	return out
}

func (f *fakeTransport) latest(name string) *fakeChannel {
	chs := f.named(name)
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

type sentMessage struct {
	event   string
	payload any
}

type fakeChannel struct {
	mu       sync.Mutex
	name     string
	bindings []domain.Binding
	joined   bool
	left     bool
	sent     []sentMessage
}

func (c *fakeChannel) On(b domain.Binding) {
	c.mu.Lock()
	c.bindings = append(c.bindings, b)
	c.mu.Unlock()
}

func (c *fakeChannel) Join(context.Context) error {
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Send(_ context.Context, event string, payload any) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentMessage{event: event, payload: payload})
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Leave(context.Context) error {
	c.mu.Lock()
	c.left = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *fakeChannel) isLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

func (c *fakeChannel) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeChannel) emit(m domain.Message) {
	m.Channel = c.name
	c.mu.Lock()
	bs := append([]domain.Binding(nil), c.bindings...)
	c.mu.Unlock()
	for _, b := range bs {
		if b.Matches(m) {
			b.Handler(m)
		}
	}
}

// fakeScheduler records requested delays and runs callbacks only when told.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []*scheduled
}

type scheduled struct {
	f       func()
	stopped bool
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &scheduled{f: f}
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, item)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		was := !item.stopped
		item.stopped = true
		return was
	}
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pending {
		if !p.stopped {
			n++
		}
	}
	return n
}

// fireNext runs the oldest live callback and reports whether one existed.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var next *scheduled
	for len(s.pending) > 0 {
		p := s.pending[0]
		s.pending = s.pending[1:]
		if !p.stopped {
			p.stopped = true
			next = p
			break
		}
	}
	s.mu.Unlock()
	if next == nil {
		return false
	}
	next.f()
	return true
}

type statusLog struct {
	mu   sync.Mutex
	seen []domain.Status
}

func (l *statusLog) record(s domain.Status) {
	l.mu.Lock()
	l.seen = append(l.seen, s)
	l.mu.Unlock()
}

func (l *statusLog) all() []domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Status(nil), l.seen...)
}
