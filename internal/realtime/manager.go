package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/NordCoder/Questline/internal/obs/retry"
	"go.uber.org/zap"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
	defaultOpTimeout   = 10 * time.Second
)

var ErrNotConnected = errors.New("realtime: not connected")

// Scheduler runs f once after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func timeScheduler(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type ManagerOption func(*Manager)

func WithBaseDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.baseDelay = d
		}
	}
}

func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.schedule = s
		}
	}
}

// Channel is the manager-owned record of a named logical channel. The
// transport handle is replaced on every reconnect.
type Channel struct {
	name     string
	bindings []domain.Binding
	handle   domain.TransportChannel
	disabled bool
}

func (c *Channel) Name() string { return c.name }

// Disabled reports whether the channel is an inert placeholder because no
// transport is configured.
func (c *Channel) Disabled() bool { return c.disabled }

// Manager owns the single transport connection and every channel
// multiplexed over it.
type Manager struct {
	transport   domain.Transport
	log         *zap.Logger
	baseDelay   time.Duration
	maxAttempts int
	schedule    Scheduler

	mu        sync.Mutex
	status    domain.Status
	channels  map[string]*Channel
	observers map[uint64]func(domain.Status)
	nextObs   uint64
	attempts  int
	gen       uint64
	timerSeq  uint64
	stopTimer func() bool
	closing   bool
}

func NewManager(t domain.Transport, log *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport:   t,
		log:         obs.Component(log, "realtime.manager"),
		baseDelay:   DefaultBaseDelay,
		maxAttempts: DefaultMaxAttempts,
		schedule:    timeScheduler,
		status:      domain.StatusClosed,
		channels:    make(map[string]*Channel),
		observers:   make(map[uint64]func(domain.Status)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enabled reports whether a transport is configured at all.
func (m *Manager) Enabled() bool { return m.transport != nil }

func (m *Manager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) OnStatusChange(fn func(domain.Status)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Connect opens the transport. Dial failures are not returned; they are fed
// into the reconnect machine like any other drop.
func (m *Manager) Connect(ctx context.Context) error {
	if m.transport == nil {
		m.log.Info("realtime transport not configured; running with inert channels")
		return nil
	}
	m.mu.Lock()
	if m.status == domain.StatusOpen || m.status == domain.StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	m.closing = false
	m.cancelTimerLocked()
	gen := m.setConnectingLocked()
	m.mu.Unlock()

	m.notify(domain.StatusConnecting)
	m.dial(ctx, gen)
	return ctx.Err()
}

// Reconnect is the caller-initiated escape hatch after the automatic
// attempts are exhausted. It resets the attempt counter and dials at once.
func (m *Manager) Reconnect(ctx context.Context) error {
	if m.transport == nil {
		return nil
	}
	m.mu.Lock()
	m.closing = false
	m.attempts = 0
	m.cancelTimerLocked()
	m.gen++
	for _, ch := range m.channels {
		ch.handle = nil
	}
	m.mu.Unlock()

	if err := m.transport.Disconnect(ctx); err != nil {
		m.log.Debug("disconnect before reconnect", zap.Error(err))
	}

	m.mu.Lock()
	gen := m.setConnectingLocked()
	m.mu.Unlock()

	m.log.Info("manual reconnect")
	m.notify(domain.StatusConnecting)
	m.dial(ctx, gen)
	return ctx.Err()
}

// Subscribe tracks a channel and joins it when the connection is open. An
// existing channel with the same name is torn down and replaced.
func (m *Manager) Subscribe(ctx context.Context, name string, bindings ...domain.Binding) *Channel {
	if m.transport == nil {
		return &Channel{name: name, bindings: bindings, disabled: true}
	}

	ch := &Channel{name: name, bindings: bindings}

	m.mu.Lock()
	var old domain.TransportChannel
	if prev, ok := m.channels[name]; ok {
		old = prev.handle
	}
	m.channels[name] = ch
	open := m.status == domain.StatusOpen
	if open {
		ch.handle = m.newHandle(ch)
	}
	handle := ch.handle
	m.mu.Unlock()

	if old != nil {
		m.leave(ctx, name, old)
	}
	if handle != nil {
		m.join(ctx, name, handle)
	}
	return ch
}

func (m *Manager) Unsubscribe(ctx context.Context, name string) error {
	m.mu.Lock()
	ch, ok := m.channels[name]
	if ok {
		delete(m.channels, name)
	}
	m.mu.Unlock()

	if !ok || ch.handle == nil {
		return nil
	}
	return ch.handle.Leave(ctx)
}

// Send publishes a broadcast on the named channel. Channels that are not
// tracked get a short-lived handle for the single send.
func (m *Manager) Send(ctx context.Context, channel, event string, payload any) error {
	if m.transport == nil {
		return nil
	}
	m.mu.Lock()
	if m.status != domain.StatusOpen {
		m.mu.Unlock()
		return ErrNotConnected
	}
	var handle domain.TransportChannel
	tracked := false
	if ch, ok := m.channels[channel]; ok && ch.handle != nil {
		handle = ch.handle
		tracked = true
	} else {
		handle = m.transport.Channel(channel)
	}
	m.mu.Unlock()

	err := handle.Send(ctx, event, payload)
	if !tracked {
		if lerr := handle.Leave(ctx); lerr != nil {
			m.log.Debug("leave ephemeral channel", zap.String("channel", channel), zap.Error(lerr))
		}
	}
	return err
}

// Disconnect tears down every channel, waits for the teardowns and closes
// the transport. Automatic reconnects stay off until Connect or Reconnect.
func (m *Manager) Disconnect(ctx context.Context) error {
	if m.transport == nil {
		return nil
	}
	m.mu.Lock()
	m.closing = true
	m.cancelTimerLocked()
	m.gen++
	chans := m.channels
	m.channels = make(map[string]*Channel)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, ch := range chans {
		if ch.handle == nil {
			continue
		}
		wg.Add(1)
		go func(name string, h domain.TransportChannel) {
			defer wg.Done()
			if err := h.Leave(ctx); err != nil {
				m.log.Debug("leave on disconnect", zap.String("channel", name), zap.Error(err))
			}
		}(name, ch.handle)
	}
	wg.Wait()

	err := m.transport.Disconnect(ctx)

	m.mu.Lock()
	changed := m.status != domain.StatusClosed
	m.status = domain.StatusClosed
	m.mu.Unlock()
	if changed {
		m.notify(domain.StatusClosed)
	}
	m.log.Info("realtime disconnected")
	return err
}

func (m *Manager) setConnectingLocked() uint64 {
	m.gen++
	m.status = domain.StatusConnecting
	statusGauge(domain.StatusConnecting)
	return m.gen
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	dctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	hooks := domain.Hooks{
		OnOpen:  func() { m.handleOpen(gen) },
		OnClose: func(err error) { m.handleDrop(gen, domain.StatusClosed, err) },
		OnError: func(err error) { m.handleDrop(gen, domain.StatusError, err) },
	}
	if err := m.transport.Connect(dctx, hooks); err != nil {
		m.handleDrop(gen, domain.StatusError, err)
	}
}

func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closing {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.status = domain.StatusOpen
	statusGauge(domain.StatusOpen)
	type pending struct {
		name   string
		handle domain.TransportChannel
	}
	joins := make([]pending, 0, len(m.channels))
	for name, ch := range m.channels {
		ch.handle = m.newHandle(ch)
		joins = append(joins, pending{name: name, handle: ch.handle})
	}
	m.mu.Unlock()

	m.log.Info("realtime connected", zap.Int("channels", len(joins)))
	m.notify(domain.StatusOpen)

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	for _, p := range joins {
		m.join(ctx, p.name, p.handle)
	}
}

func (m *Manager) handleDrop(gen uint64, status domain.Status, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.closing {
		m.mu.Unlock()
		return
	}
	// invalidate hooks of the dead connection
	m.gen++
	m.status = status
	statusGauge(status)
	for _, ch := range m.channels {
		ch.handle = nil
	}

	var delay time.Duration
	scheduled := false
	if m.attempts < m.maxAttempts {
		m.attempts++
		delay = retry.ExpoJitter{Base: m.baseDelay}.Next(m.attempts - 1)
		m.timerSeq++
		seq := m.timerSeq
		m.stopTimer = m.schedule(delay, func() { m.retry(seq) })
		scheduled = true
	}
	attempt := m.attempts
	m.mu.Unlock()

	log := m.log.With(zap.String("status", string(status)), zap.Error(cause))
	m.notify(status)

	if scheduled {
		reconnectAttempts.Inc()
		log.Warn("realtime connection lost; reconnect scheduled",
			zap.Int("attempt", attempt), zap.Duration("delay", delay))
		return
	}
	reconnectExhausted.Inc()
	log.Error("realtime reconnect attempts exhausted; manual reconnect required",
		zap.Int("max_attempts", m.maxAttempts))
}

func (m *Manager) retry(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.closing || m.status == domain.StatusOpen {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	gen := m.setConnectingLocked()
	m.mu.Unlock()

	m.notify(domain.StatusConnecting)
	m.dial(context.Background(), gen)
}

func (m *Manager) cancelTimerLocked() {
	m.timerSeq++
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Manager) newHandle(ch *Channel) domain.TransportChannel {
	h := m.transport.Channel(ch.name)
	for _, b := range ch.bindings {
		h.On(b)
	}
	return h
}

func (m *Manager) join(ctx context.Context, name string, h domain.TransportChannel) {
	if err := h.Join(ctx); err != nil {
		m.log.Warn("channel join failed", zap.String("channel", name), zap.Error(err))
	}
}

func (m *Manager) leave(ctx context.Context, name string, h domain.TransportChannel) {
	if err := h.Leave(ctx); err != nil {
		m.log.Debug("channel leave failed", zap.String("channel", name), zap.Error(err))
	}
}

func (m *Manager) notify(s domain.Status) {
	m.mu.Lock()
	obs := make([]func(domain.Status), 0, len(m.observers))
	for _, fn := range m.observers {
		obs = append(obs, fn)
	}
	m.mu.Unlock()

	for _, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("status observer panicked", zap.Any("panic", r))
				}
			}()
			fn(s)
		}()
	}
}
