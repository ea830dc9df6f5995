package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testServer is a scripted peer: handle receives every envelope and may
// write responses on the same connection.
type testServer struct {
	*httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newTestServer(t *testing.T, handle func(conn *websocket.Conn, env envelope)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if handle != nil {
				handle(conn, env)
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) push(t *testing.T, env envelope) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		n := len(ts.conns)
		var conn *websocket.Conn
		if n > 0 {
			conn = ts.conns[n-1]
		}
		ts.mu.Unlock()
		if conn != nil {
			if err := conn.WriteJSON(env); err != nil {
				t.Fatalf("push: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no connection to push to")
}

func startClient(t *testing.T, url string, cb Callbacks) *Client {
	t.Helper()
	c, err := New(Config{URL: url, Callbacks: cb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return c
}

func TestClient_RequestResponseCorrelation(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn, env envelope) {
		if env.Type != "echo" {
			return
		}
		conn.WriteJSON(envelope{Type: "echo", ID: env.ID, Data: env.Data})
	})

	connected := make(chan struct{}, 1)
	c := startClient(t, srv.URL, Callbacks{OnConnected: func() { connected <- struct{}{} }})
	<-connected

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := c.Request(ctx, "echo", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(got, &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["k"] != "v" {
		t.Errorf("payload = %v, want k=v", payload)
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	srv := newTestServer(t, nil) // never answers

	connected := make(chan struct{}, 1)
	c := startClient(t, srv.URL, Callbacks{OnConnected: func() { connected <- struct{}{} }})
	<-connected

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, "never", nil)
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestClient_PushUpdatesDispatched(t *testing.T) {
	srv := newTestServer(t, nil)

	connected := make(chan struct{}, 1)
	updates := make(chan wire.UpdateEvent, 4)
	startClient(t, srv.URL, Callbacks{
		OnConnected: func() { connected <- struct{}{} },
		OnUpdate:    func(u wire.UpdateEvent) { updates <- u },
	})
	<-connected

	data, _ := json.Marshal(wire.UpdateEvent{ID: "u1", Type: "new-message", Seq: 7})
	srv.push(t, envelope{Type: evUpdate, Data: data})

	select {
	case u := <-updates:
		if u.ID != "u1" || u.Seq != 7 {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update not dispatched")
	}
}

func TestClient_MalformedUpdateDropped(t *testing.T) {
	srv := newTestServer(t, nil)

	connected := make(chan struct{}, 1)
	updates := make(chan wire.UpdateEvent, 4)
	startClient(t, srv.URL, Callbacks{
		OnConnected: func() { connected <- struct{}{} },
		OnUpdate:    func(u wire.UpdateEvent) { updates <- u },
	})
	<-connected

	srv.push(t, envelope{Type: evUpdate, Data: json.RawMessage(`"not an object"`)})
	data, _ := json.Marshal(wire.UpdateEvent{ID: "u2", Type: "new-message", Seq: 8})
	srv.push(t, envelope{Type: evUpdate, Data: data})

	select {
	case u := <-updates:
		if u.ID != "u2" {
			t.Errorf("got %+v, want the valid update only", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid update after malformed one not dispatched")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	srv := newTestServer(t, nil)

	connected := make(chan struct{}, 4)
	startClient(t, srv.URL, Callbacks{OnConnected: func() { connected <- struct{}{} }})
	<-connected

	srv.mu.Lock()
	srv.conns[0].Close()
	srv.mu.Unlock()

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("client did not reconnect")
	}
}

func TestClient_CloseStopsRun(t *testing.T) {
	srv := newTestServer(t, nil)

	connected := make(chan struct{}, 1)
	c, err := New(Config{URL: srv.URL, Callbacks: Callbacks{
		OnConnected: func() { connected <- struct{}{} },
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()
	<-connected

	c.Close()

	select {
	case err := <-runErr:
		if err != ErrClosed {
			t.Errorf("Run returned %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestClient_UpdatesSince(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn, env envelope) {
		if env.Type != "request-updates-since" {
			return
		}
		var req wire.UpdatesSinceRequest
		json.Unmarshal(env.Data, &req)
		resp := wire.UpdatesSinceResponse{
			Success: true,
			Updates: []wire.UpdateEvent{{ID: "u1", Type: "new-session", Seq: req.Sessions + 1}},
			Counts:  &wire.UpdateCounts{Sessions: 1},
		}
		data, _ := json.Marshal(resp)
		conn.WriteJSON(envelope{Type: env.Type, ID: env.ID, Data: data})
	})

	connected := make(chan struct{}, 1)
	c := startClient(t, srv.URL, Callbacks{OnConnected: func() { connected <- struct{}{} }})
	<-connected

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.UpdatesSince(ctx, wire.UpdatesSinceRequest{Sessions: 41})
	if err != nil {
		t.Fatalf("UpdatesSince: %v", err)
	}
	if !resp.Success || len(resp.Updates) != 1 || resp.Updates[0].Seq != 42 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestNew_RejectsBadScheme(t *testing.T) {
	if _, err := New(Config{URL: "ftp://example.com"}); err == nil {
		t.Error("New accepted an ftp URL")
	}
}
