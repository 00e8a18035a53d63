package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/steveyegge/taskbridge/internal/jobs"
)

var (
	_ jobs.Refresher = (*Server)(nil)
	_ jobs.Refresher = (*Recorder)(nil)
	_ jobs.Refresher = Nop{}
)

func newTestServer(t *testing.T, status func() any) *Server {
	t.Helper()
	server := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0,
		Status: status,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// connect dials the server, reads the hello message and waits until the
// server has registered the client.
func connect(t *testing.T, ctx context.Context, server *Server, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeHello {
		t.Fatalf("Expected hello, got %s", msg.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", want, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestRefreshBroadcast(t *testing.T) {
	server := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := connect(t, ctx, server, 1)
	second := connect(t, ctx, server, 2)

	server.BroadcastRefresh()
	server.BroadcastRefreshList()

	for _, conn := range []*websocket.Conn{first, second} {
		if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeRefresh {
			t.Errorf("Expected %s, got %s", MessageTypeRefresh, msg.Type)
		}
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeRefreshList {
			t.Errorf("Expected %s, got %s", MessageTypeRefreshList, msg.Type)
		}
		if msg.Timestamp.IsZero() {
			t.Error("Expected broadcast timestamp to be set")
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	server := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connect(t, ctx, server, 1)
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected client to be removed, still %d", server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, func() any { return map[string]int{"enqueued": 3} })

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string         `json:"status"`
		Sync   map[string]int `json:"sync"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Expected status ok, got %q", body.Status)
	}
	if body.Sync["enqueued"] != 3 {
		t.Errorf("Expected sync status in health, got %v", body.Sync)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.BroadcastRefresh()
	r.BroadcastRefreshList()
	r.BroadcastRefreshList()

	tasks, lists := r.Counts()
	if tasks != 1 || lists != 2 {
		t.Errorf("Counts() = %d, %d; want 1, 2", tasks, lists)
	}
}
