package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/domain/outbox"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
)

const (
	userA = "6f1c1d2e-0000-4000-8000-00000000000a"
	userB = "6f1c1d2e-0000-4000-8000-00000000000b"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[string]*notification.Notification
	insertErr error
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]*notification.Notification{}} }

func (m *memRepo) Insert(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	n.Read, n.EmailSent = false, false
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *n
	return &cp, nil
}

func (m *memRepo) ListByUser(_ context.Context, userID string, opts notification.ListOptions) ([]notification.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []notification.Notification
	for _, n := range m.rows {
		if n.UserID != userID || (opts.UnreadOnly && n.Read) {
			continue
		}
		all = append(all, *n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if opts.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[opts.Offset:]
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, total, nil
}

func (m *memRepo) MarkRead(_ context.Context, id, userID string) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.UserID != userID || n.Read {
		return nil, nil
	}
	n.Read = true
	cp := *n
	return &cp, nil
}

func (m *memRepo) MarkAllRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for _, n := range m.rows {
		if n.UserID == userID && !n.Read {
			n.Read = true
			c++
		}
	}
	return c, nil
}

func (m *memRepo) UnreadCount(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.rows {
		if n.UserID == userID && !n.Read {
			c++
		}
	}
	return c, nil
}

func (m *memRepo) MarkEmailSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return errors.New("not found")
	}
	n.EmailSent = true
	return nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memPrefs struct {
	mu     sync.Mutex
	rows   map[string]notification.Preference
	getErr error
	writes int
}

func newMemPrefs() *memPrefs { return &memPrefs{rows: map[string]notification.Preference{}} }

func (m *memPrefs) set(userID string, t notification.Type, inApp, email bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[userID+"/"+string(t)] = notification.Preference{UserID: userID, Type: t, InAppEnabled: inApp, EmailEnabled: email}
}

func (m *memPrefs) Get(_ context.Context, userID string, t notification.Type) (*notification.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.rows[userID+"/"+string(t)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memPrefs) List(_ context.Context, userID string) ([]notification.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notification.Preference
	for _, t := range notification.Types {
		if p, ok := m.rows[userID+"/"+string(t)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPrefs) Update(_ context.Context, userID string, t notification.Type, patch notification.PreferencePatch) error {
	if patch.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	p := m.rows[userID+"/"+string(t)]
	p.UserID, p.Type = userID, t
	if patch.InAppEnabled != nil {
		p.InAppEnabled = *patch.InAppEnabled
	}
	if patch.EmailEnabled != nil {
		p.EmailEnabled = *patch.EmailEnabled
	}
	m.rows[userID+"/"+string(t)] = p
	return nil
}

func (m *memPrefs) Seed(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range notification.DefaultPreferences(userID) {
		k := userID + "/" + string(p.Type)
		if _, ok := m.rows[k]; !ok {
			m.rows[k] = p
		}
	}
	return nil
}

type broadcastCall struct {
	n      notification.Notification
	change domain.ChangeType
}

type recordingBus struct {
	mu    sync.Mutex
	calls []broadcastCall
	err   error
}

func (b *recordingBus) BroadcastNotification(_ context.Context, n notification.Notification, change domain.ChangeType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{n: n, change: change})
	return b.err
}

func (b *recordingBus) snapshot() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingEmail) Dispatch(_ context.Context, n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// repoDeliverer marks the record sent, like the real email step does on
// success.
type repoDeliverer struct {
	repo *memRepo
	ok   bool
}

func (d repoDeliverer) Deliver(ctx context.Context, n notification.Notification) bool {
	if !d.ok {
		return false
	}
	return d.repo.MarkEmailSent(ctx, n.ID) == nil
}

type memOutbox struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
	kind []outbox.Kind
	err  error
}

func (m *memOutbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.kind = append(m.kind, kind)
	m.data = append(m.data, data)
	return nil
}

type fakeTx struct {
	calls int
	err   error
	log   *[]string
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(context.Context) error) error {
	f.calls++
	if err := fn(ctx); err != nil {
		f.record("rollback")
		return err
	}
	if f.err != nil {
		f.record("rollback")
		return f.err
	}
	f.record("commit")
	return nil
}

func (f *fakeTx) record(s string) {
	if f.log != nil {
		*f.log = append(*f.log, s)
	}
}

// invalidatingPrefs records writes and evictions in the order they happen.
type invalidatingPrefs struct {
	*memPrefs
	log *[]string
}

func (p invalidatingPrefs) Update(ctx context.Context, userID string, t notification.Type, patch notification.PreferencePatch) error {
	*p.log = append(*p.log, "update "+string(t))
	return p.memPrefs.Update(ctx, userID, t, patch)
}

func (p invalidatingPrefs) Invalidate(_ context.Context, _ string, types ...notification.Type) {
	for _, t := range types {
		*p.log = append(*p.log, "invalidate "+string(t))
	}
}

// snapshotTx restores repo to its state before fn when fn fails.
type snapshotTx struct {
	repo  *memRepo
	calls int
}

func (s *snapshotTx) WithTx(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	s.repo.mu.Lock()
	saved := make(map[string]*notification.Notification, len(s.repo.rows))
	for k, v := range s.repo.rows {
		saved[k] = v
	}
	s.repo.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.repo.mu.Lock()
		s.repo.rows = saved
		s.repo.mu.Unlock()
		return err
	}
	return nil
}
