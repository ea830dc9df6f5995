// Package socket implements the WebSocket transport to the session server:
// a json envelope protocol with acked request/response correlation, push
// event dispatch, ping/pong keepalive and rate-limited reconnects.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// envelope is the frame exchanged with the server. ID is non-zero on acked
// requests and their responses; push events carry ID 0.
type envelope struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Push event types dispatched to callbacks.
const (
	evUpdate    = "update"
	evEphemeral = "ephemeral"
	evError     = "error"
)

// Callbacks receives push traffic and lifecycle notifications. All fields
// are optional; nil callbacks are ignored. Callbacks run on the read pump
// goroutine and must not block.
type Callbacks struct {
	// OnUpdate is called for every seq'd update event pushed by the server.
	OnUpdate func(update wire.UpdateEvent)

	// OnEphemeral is called for non-persistent events (presence, typing,
	// usage ticks). The payload is passed through unparsed.
	OnEphemeral func(data json.RawMessage)

	// OnConnected is called after each successful (re)connect.
	OnConnected func()

	// OnDisconnected is called when the connection drops, before any
	// reconnect attempt.
	OnDisconnected func(err error)
}

// Config configures a Client.
type Config struct {
	// URL is the server base URL; http(s) schemes are rewritten to ws(s).
	URL string
	// Token is sent as a bearer token on the handshake.
	Token string

	Callbacks Callbacks
	Logger    *slog.Logger

	// PingPeriod, WriteWait and PongWait tune the keepalive; zero values
	// select the defaults below.
	PingPeriod time.Duration
	WriteWait  time.Duration
	PongWait   time.Duration
	// SendBuffer sizes the outbound queue (default 256).
	SendBuffer int
}

const (
	defaultPingPeriod = 30 * time.Second
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 256
)

// ErrClosed is returned by Request when the client has been closed or the
// connection dropped before a response arrived.
var ErrClosed = errors.New("socket: connection closed")

// Client is a reconnecting WebSocket client. Request and Close are safe for
// concurrent use; the read pump dispatches callbacks sequentially.
type Client struct {
	cfg    Config
	wsURL  string
	logger *slog.Logger

	// reconnects paces redial attempts so a flapping server is not hammered.
	reconnects *rate.Limiter

	nextID atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	pending map[int64]chan envelope
	closed  bool
}

// New creates a client for the given server. It does not connect; call Run.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/updates"
	}

	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		cfg:        cfg,
		wsURL:      u.String(),
		logger:     cfg.Logger,
		reconnects: rate.NewLimiter(rate.Every(2*time.Second), 1),
		pending:    make(map[int64]chan envelope),
	}, nil
}

// Run connects and keeps the connection alive until ctx is canceled or the
// client is closed, redialing on failure. It returns ctx.Err() on
// cancellation and ErrClosed after Close.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.isClosed() {
			return ErrClosed
		}
		if err := c.reconnects.Wait(ctx); err != nil {
			return err
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return ErrClosed
		}
		c.logger.Warn("connection lost, reconnecting", "err", err)
		if c.cfg.Callbacks.OnDisconnected != nil {
			c.cfg.Callbacks.OnDisconnected(err)
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// runOnce dials once and pumps until the connection drops.
func (c *Client) runOnce(ctx context.Context) error {
	header := make(map[string][]string)
	if c.cfg.Token != "" {
		header["Authorization"] = []string{"Bearer " + c.cfg.Token}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	send := make(chan []byte, c.cfg.SendBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.send = send
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.wsURL)
	if c.cfg.Callbacks.OnConnected != nil {
		c.cfg.Callbacks.OnConnected()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go c.writePump(ctx, conn, send, stop, done)
	err = c.readPump(conn)

	c.teardown(conn, stop)
	<-done
	return err
}

// teardown detaches the connection, stops its write pump and fails all
// in-flight requests.
func (c *Client) teardown(conn *websocket.Conn, stop chan struct{}) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.send = nil
	}
	pending := c.pending
	c.pending = make(map[int64]chan envelope)
	c.mu.Unlock()

	close(stop)
	conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

// writePump drains the send queue to the wire and emits keepalive pings. It
// exits when the write fails, the context is canceled, or stop closes.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send chan []byte, stop, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ctx.Done():
			return
		}
	}
}

// readPump reads envelopes until the connection fails, routing responses to
// their waiting requests and push events to the callbacks.
func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if env.ID != 0 {
			c.deliver(env)
			continue
		}
		c.dispatch(env)
	}
}

// deliver hands a response envelope to its waiting request, if any.
func (c *Client) deliver(env envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (c *Client) dispatch(env envelope) {
	switch env.Type {
	case evUpdate:
		var update wire.UpdateEvent
		if err := json.Unmarshal(env.Data, &update); err != nil {
			c.logger.Warn("malformed update dropped", "err", err)
			return
		}
		if c.cfg.Callbacks.OnUpdate != nil {
			c.cfg.Callbacks.OnUpdate(update)
		}
	case evEphemeral:
		if c.cfg.Callbacks.OnEphemeral != nil {
			c.cfg.Callbacks.OnEphemeral(env.Data)
		}
	case evError:
		var data struct {
			Message string `json:"message"`
		}
		json.Unmarshal(env.Data, &data)
		c.logger.Warn("server error event", "message", data.Message)
	default:
		c.logger.Debug("unknown event ignored", "type", env.Type)
	}
}

// Request sends an acked request and waits for the matching response. It
// returns ErrClosed if the connection drops first and ctx.Err() when the
// context expires; timeouts belong to the caller's context.
func (c *Client) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", event, err)
		}
		data = b
	}

	id := c.nextID.Add(1)
	msg, err := json.Marshal(envelope{Type: event, ID: id, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	ch := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed || c.send == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	send := c.send
	c.mu.Unlock()

	select {
	case send <- msg:
	case <-ctx.Done():
		c.abandon(id)
		return nil, ctx.Err()
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.abandon(id)
		return nil, ctx.Err()
	}
}

func (c *Client) abandon(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Send enqueues a fire-and-forget event. The message is dropped when no
// connection is up or the queue is full.
func (c *Client) Send(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.logger.Warn("marshal send payload failed", "type", event, "err", err)
			return
		}
		data = b
	}
	msg, _ := json.Marshal(envelope{Type: event, Data: data})

	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return
	}
	select {
	case send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message", "type", event)
	}
}

// UpdatesSince issues the acked catch-up request used by the delta sync
// orchestrator.
func (c *Client) UpdatesSince(ctx context.Context, req wire.UpdatesSinceRequest) (*wire.UpdatesSinceResponse, error) {
	raw, err := c.Request(ctx, "request-updates-since", req)
	if err != nil {
		return nil, err
	}
	var resp wire.UpdatesSinceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode updates-since response: %w", err)
	}
	return &resp, nil
}

// Close shuts the client down permanently. A Run in progress returns
// ErrClosed once its current connection drops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
