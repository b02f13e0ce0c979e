package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRealtimeServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	apiKeys  chan string
}

func newMockRealtimeServer(t *testing.T) *mockRealtimeServer {
	t.Helper()
	m := &mockRealtimeServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *websocket.Conn, 4),
		apiKeys:  make(chan string, 4),
	}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		m.apiKeys <- r.URL.Query().Get("apikey")
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.conns <- conn
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockRealtimeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-m.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func newTestClient(m *mockRealtimeServer) *Client {
	return New(Config{
		URL:               m.server.URL + "/realtime/v1",
		APIKey:            "anon-key",
		HeartbeatInterval: time.Hour,
	}, zap.NewNop())
}

func TestClient_JoinAndReceive(t *testing.T) {
	srv := newMockRealtimeServer(t)
	client := newTestClient(srv)

	opened := make(chan struct{}, 1)
	require.NoError(t, client.Connect(context.Background(), domain.Hooks{
		OnOpen: func() { opened <- struct{}{} },
	}))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	assert.Equal(t, "anon-key", <-srv.apiKeys)
	<-opened
	conn := srv.accept(t)

	got := make(chan domain.Message, 4)
	ch := client.Channel("activity-feed")
	ch.On(domain.Binding{Kind: domain.BindingBroadcast, Event: "new_activity", Handler: func(m domain.Message) { got <- m }})
	ch.On(domain.Binding{Kind: domain.BindingChanges, Event: "INSERT", Schema: "public", Table: "activities", Handler: func(m domain.Message) { got <- m }})
	require.NoError(t, ch.Join(context.Background()))

	join := readFrame(t, conn)
	assert.Equal(t, "realtime:activity-feed", join.Topic)
	assert.Equal(t, "phx_join", join.Event)
	var jp joinPayload
	require.NoError(t, json.Unmarshal(join.Payload, &jp))
	require.Len(t, jp.Config.PostgresChanges, 1)
	assert.Equal(t, "activities", jp.Config.PostgresChanges[0].Table)
	assert.False(t, jp.Config.Broadcast.Self)

	writeFrame(t, conn, `{"topic":"realtime:activity-feed","event":"phx_reply","payload":{"status":"ok"},"ref":"1"}`)
	writeFrame(t, conn, `{"topic":"realtime:activity-feed","event":"broadcast","payload":{"type":"broadcast","event":"new_activity","payload":{"id":"a1"}},"ref":null}`)
	writeFrame(t, conn, `{"topic":"realtime:activity-feed","event":"postgres_changes","payload":{"data":{"type":"INSERT","schema":"public","table":"activities","record":{"id":"a2"}},"ids":[1]},"ref":null}`)
	writeFrame(t, conn, `{"topic":"realtime:other","event":"broadcast","payload":{"type":"broadcast","event":"new_activity","payload":{}},"ref":null}`)

	first := <-got
	assert.Equal(t, domain.BindingBroadcast, first.Kind)
	assert.Equal(t, "activity-feed", first.Channel)
	assert.JSONEq(t, `{"id":"a1"}`, string(first.Payload))

	second := <-got
	assert.Equal(t, domain.BindingChanges, second.Kind)
	assert.Equal(t, "INSERT", second.Event)
	assert.Equal(t, "activities", second.Table)

	select {
	case extra := <-got:
		t.Fatalf("unexpected message %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_SendWrapsBroadcast(t *testing.T) {
	srv := newMockRealtimeServer(t)
	client := newTestClient(srv)
	require.NoError(t, client.Connect(context.Background(), domain.Hooks{}))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	conn := srv.accept(t)

	ch := client.Channel("user-notifications:u1")
	require.NoError(t, ch.Send(context.Background(), "notification", map[string]string{"id": "n1"}))

	assert.Equal(t, "phx_join", readFrame(t, conn).Event)
	msg := readFrame(t, conn)
	assert.Equal(t, "broadcast", msg.Event)
	assert.Equal(t, "realtime:user-notifications:u1", msg.Topic)
	assert.JSONEq(t, `{"type":"broadcast","event":"notification","payload":{"id":"n1"}}`, string(msg.Payload))

	require.NoError(t, ch.Leave(context.Background()))
	assert.Equal(t, "phx_leave", readFrame(t, conn).Event)
}

func TestClient_PeerCloseFiresOnClose(t *testing.T) {
	srv := newMockRealtimeServer(t)
	client := newTestClient(srv)

	closed := make(chan error, 1)
	require.NoError(t, client.Connect(context.Background(), domain.Hooks{
		OnClose: func(err error) { closed <- err },
		OnError: func(err error) { closed <- err },
	}))
	conn := srv.accept(t)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"), time.Now().Add(time.Second)))

	select {
	case err := <-closed:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	case <-time.After(5 * time.Second):
		t.Fatal("close hook not called")
	}
	assert.Error(t, client.Channel("x").Join(context.Background()))
}

func TestClient_DisconnectIsSilent(t *testing.T) {
	srv := newMockRealtimeServer(t)
	client := newTestClient(srv)

	fired := make(chan struct{}, 2)
	require.NoError(t, client.Connect(context.Background(), domain.Hooks{
		OnClose: func(error) { fired <- struct{}{} },
		OnError: func(error) { fired <- struct{}{} },
	}))
	srv.accept(t)

	require.NoError(t, client.Disconnect(context.Background()))
	require.NoError(t, client.Disconnect(context.Background()))

	select {
	case <-fired:
		t.Fatal("hooks must not fire on an intentional disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_DialFailure(t *testing.T) {
	srv := newMockRealtimeServer(t)
	client := New(Config{URL: srv.server.URL + "/wrong"}, zap.NewNop())

	err := client.Connect(context.Background(), domain.Hooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}
