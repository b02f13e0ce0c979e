package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/domain/outbox"
	"github.com/NordCoder/Questline/internal/obs/retry"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOutbox struct {
	mu      sync.Mutex
	pending []outbox.Message
	done    []string
	failed  []string
	pruned  []time.Duration
}

func (m *memOutbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated})
	return nil
}

func (m *memOutbox) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batch > len(m.pending) {
		batch = len(m.pending)
	}
	out := m.pending[:batch]
	m.pending = m.pending[batch:]
	return out, nil
}

func (m *memOutbox) MarkSuccess(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, keys...)
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, keys...)
	return nil
}

func (m *memOutbox) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, olderThan)
	n := int64(len(m.done))
	m.done = nil
	return n, nil
}

type recordingEvents struct {
	mu   sync.Mutex
	sent []notification.EmailRequest
	fail map[string]bool
}

func (r *recordingEvents) PublishEmailRequested(_ context.Context, req notification.EmailRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[req.NotificationID] {
		return errors.New("broker down")
	}
	r.sent = append(r.sent, req)
	return nil
}

func noRetry() retry.Policy {
	return retry.Policy{Attempts: 1, Backoff: retry.ExpoJitter{Base: time.Millisecond}}
}

func enqueue(t *testing.T, repo *memOutbox, id string) {
	t.Helper()
	data, err := json.Marshal(notification.EmailRequest{NotificationID: id, UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(context.Background(), "email:"+id, outbox.KindEmailRequested, data))
}

func TestRunner_TickPublishesAndMarks(t *testing.T) {
	repo := &memOutbox{}
	events := &recordingEvents{fail: map[string]bool{"n2": true}}
	enqueue(t, repo, "n1")
	enqueue(t, repo, "n2")
	require.NoError(t, repo.Enqueue(context.Background(), "bogus", outbox.Kind(99), []byte(`{}`)))

	r := NewOutboxRunner(nil, repo, MakeGlobalOutboxHandler(events, noRetry()), 1, 10, time.Hour, time.Minute)
	r.Tick(context.Background())

	require.Len(t, events.sent, 1)
	assert.Equal(t, "n1", events.sent[0].NotificationID)
	assert.Equal(t, []string{"email:n1"}, repo.done)
	assert.Equal(t, []string{"bogus"}, repo.failed)
}

func TestRunner_UndecodablePayloadIsTerminal(t *testing.T) {
	repo := &memOutbox{}
	events := &recordingEvents{}
	require.NoError(t, repo.Enqueue(context.Background(), "email:bad", outbox.KindEmailRequested, []byte(`not json`)))
	enqueue(t, repo, "n1")

	pol := retry.Policy{Attempts: 3, Backoff: retry.ExpoJitter{Base: time.Millisecond}}
	r := NewOutboxRunner(nil, repo, MakeGlobalOutboxHandler(events, pol), 1, 10, time.Hour, time.Minute)
	r.Tick(context.Background())

	assert.Equal(t, []string{"email:n1"}, repo.done)
	assert.Equal(t, []string{"email:bad"}, repo.failed)
	assert.Len(t, events.sent, 1)
}

func TestRunner_TransientFailureStaysPending(t *testing.T) {
	repo := &memOutbox{}
	events := &recordingEvents{fail: map[string]bool{"n1": true}}
	enqueue(t, repo, "n1")

	r := NewOutboxRunner(nil, repo, MakeGlobalOutboxHandler(events, noRetry()), 1, 10, time.Hour, time.Minute)
	r.Tick(context.Background())

	assert.Empty(t, repo.done)
	assert.Empty(t, repo.failed)
}

func TestRunner_StartStops(t *testing.T) {
	repo := &memOutbox{}
	events := &recordingEvents{}
	enqueue(t, repo, "n1")

	ctx, cancel := context.WithCancel(context.Background())
	r := NewOutboxRunner(nil, repo, MakeGlobalOutboxHandler(events, noRetry()), 2, 10, 5*time.Millisecond, time.Minute)
	r.Start(ctx)

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.done) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	r.Wait()
}

func TestGlobalHandler_RetriesPublish(t *testing.T) {
	calls := 0
	pub := publishFunc(func(context.Context, notification.EmailRequest) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	pol := retry.Policy{Attempts: 3, Backoff: retry.ExpoJitter{Base: time.Millisecond}}

	h, err := MakeGlobalOutboxHandler(pub, pol)(outbox.KindEmailRequested)
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte(`{"notification_id":"n1"}`)))
	assert.Equal(t, 3, calls)

	_, err = MakeGlobalOutboxHandler(pub, pol)(outbox.Kind(7))
	assert.Error(t, err)
}

type publishFunc func(context.Context, notification.EmailRequest) error

func (f publishFunc) PublishEmailRequested(ctx context.Context, req notification.EmailRequest) error {
	return f(ctx, req)
}

func TestRunner_PrunesOnSchedule(t *testing.T) {
	repo := &memOutbox{done: []string{"email:old"}}
	r := NewOutboxRunner(nil, repo, MakeGlobalOutboxHandler(&recordingEvents{}, noRetry()), 1, 10, time.Hour, time.Minute).
		WithRetention(24*time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.pruned) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	r.Wait()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, 24*time.Hour, repo.pruned[0])
	assert.Empty(t, repo.done)
}
