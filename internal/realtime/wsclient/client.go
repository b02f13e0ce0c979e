// Package wsclient speaks the Phoenix channel protocol used by hosted
// realtime services over a single gorilla websocket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	topicPrefix    = "realtime:"
	phoenixTopic   = "phoenix"
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventBroadcast = "broadcast"
	eventChanges   = "postgres_changes"
)

type Config struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type changesPayload struct {
	Data json.RawMessage `json:"data"`
}

type changeHeader struct {
	Type  string `json:"type"`
	Table string `json:"table"`
}

var _ domain.Transport = (*Client)(nil)

type Client struct {
	cfg    Config
	log    *zap.Logger
	dialer websocket.Dialer
	ref    atomic.Uint64

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	hooks  domain.Hooks
	topics map[string]*topic

	writeMu sync.Mutex
}

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		log:    obs.Component(log, "realtime.ws"),
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		topics: make(map[string]*topic),
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	q := u.Query()
	if c.cfg.APIKey != "" {
		q.Set("apikey", c.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Connect(ctx context.Context, hooks domain.Hooks) error {
	wsURL, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.done = done
	c.hooks = hooks
	c.topics = make(map[string]*topic)
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.log.Info("websocket connected", zap.String("host", conn.RemoteAddr().String()))
	if hooks.OnOpen != nil {
		hooks.OnOpen()
	}

	go c.readLoop(conn)
	go c.heartbeat(conn, done)
	return nil
}

func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.topics = make(map[string]*topic)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Debug("close frame not sent", zap.Error(err))
	}
	return conn.Close()
}

func (c *Client) Channel(name string) domain.TransportChannel {
	t := &topic{c: c, name: name}
	c.mu.Lock()
	c.topics[name] = t
	c.mu.Unlock()
	return t
}

func (c *Client) current(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

// dropped reports an unexpected end of conn to the hooks exactly once.
func (c *Client) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	hooks, done := c.hooks, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()

	close(done)
	_ = conn.Close()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.log.Warn("websocket closed by peer", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
		if hooks.OnClose != nil {
			hooks.OnClose(err)
		}
		return
	}
	c.log.Warn("websocket read failed", zap.Error(err))
	if hooks.OnError != nil {
		hooks.OnError(err)
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("bad frame", zap.Error(err))
		return
	}
	switch env.Event {
	case eventReply, eventHeartbeat:
		return
	case eventError, eventClose:
		c.log.Warn("channel event from server", zap.String("topic", env.Topic), zap.String("event", env.Event))
		return
	}

	name := strings.TrimPrefix(env.Topic, topicPrefix)
	c.mu.Lock()
	t := c.topics[name]
	c.mu.Unlock()
	if t == nil {
		return
	}

	switch env.Event {
	case eventBroadcast:
		var bp broadcastPayload
		if err := json.Unmarshal(env.Payload, &bp); err != nil {
			c.log.Warn("bad broadcast payload", zap.String("topic", env.Topic), zap.Error(err))
			return
		}
		t.dispatch(domain.Message{Channel: name, Kind: domain.BindingBroadcast, Event: bp.Event, Payload: bp.Payload})
	case eventChanges:
		var cp changesPayload
		if err := json.Unmarshal(env.Payload, &cp); err != nil || len(cp.Data) == 0 {
			c.log.Warn("bad change payload", zap.String("topic", env.Topic), zap.Error(err))
			return
		}
		var hdr changeHeader
		_ = json.Unmarshal(cp.Data, &hdr)
		t.dispatch(domain.Message{Channel: name, Kind: domain.BindingChanges, Event: hdr.Type, Table: hdr.Table, Payload: cp.Data})
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeTo(conn, phoenixTopic, eventHeartbeat, struct{}{}); err != nil {
				c.log.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) nextRef() *string {
	r := strconv.FormatUint(c.ref.Add(1), 10)
	return &r
}

func (c *Client) write(ctx context.Context, topicName, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("websocket not connected")
	}
	return c.writeTo(conn, topicName, event, payload)
}

func (c *Client) writeTo(conn *websocket.Conn, topicName, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Topic: topicName, Event: event, Payload: raw, Ref: c.nextRef()})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}
