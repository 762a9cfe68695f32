package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/sqldown/internal/sync"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Addr:   "127.0.0.1:0", // Use random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

// dial connects a client and consumes the hello message.
func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeHello {
		t.Fatalf("Expected %s message, got %s", MessageTypeHello, msg.Type)
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
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.Addr(); addr == "" || addr == "127.0.0.1:0" {
		t.Errorf("Addr() = %q, want the bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestServerStartAddrInUse(t *testing.T) {
	first := startServer(t)

	second := NewServer(&Config{Addr: first.Addr(), Logger: log.New(io.Discard, "", 0)})
	if err := second.Start(); err == nil {
		_ = second.Stop()
		t.Fatal("Start() on a busy address should fail")
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		dial(t, ctx, server)
	}
	if count := server.ClientCount(); count != 3 {
		t.Errorf("Expected 3 clients, got %d", count)
	}
}

func TestHandler_OnResult(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	h := NewHandler(server, log.New(io.Discard, "", 0))
	h.OnResult(sync.Event{Op: sync.OpWrite, Path: "notes/a.md"}, &sync.Result{
		Updated:  1,
		Errors:   []error{errors.New("b.md: invalid-frontmatter")},
		Extended: []string{"owner"},
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeEvent {
		t.Fatalf("Expected %s, got %s", MessageTypeEvent, msg.Type)
	}
	var ev EventData
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(EventData{Op: "write", Path: "notes/a.md"}, ev); diff != "" {
		t.Errorf("event data (-want +got):\n%s", diff)
	}

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeReconcile {
		t.Fatalf("Expected %s, got %s", MessageTypeReconcile, msg.Type)
	}
	var got ReconcileData
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	want := ReconcileData{
		Op:       "write",
		Path:     "notes/a.md",
		Updated:  1,
		Errors:   []string{"b.md: invalid-frontmatter"},
		Extended: []string{"owner"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconcile data (-want +got):\n%s", diff)
	}
}

func TestHandler_RescanSendsOnlyReconcile(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	NewHandler(server, nil).OnResult(sync.Event{Op: sync.OpRescan}, &sync.Result{Inserted: 3})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeReconcile {
		t.Fatalf("Expected %s, got %s", MessageTypeReconcile, msg.Type)
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	// Not started: nothing drains the queue.
	server := NewServer(&Config{Addr: "127.0.0.1:0", Buffer: 1, Logger: log.New(io.Discard, "", 0)})
	defer server.cancel()

	server.Broadcast(Message{Type: MessageTypeReconcile})
	server.Broadcast(Message{Type: MessageTypeReconcile})

	if server.dropped != 1 {
		t.Errorf("dropped = %d, want 1", server.dropped)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Clients != 0 {
		t.Errorf("health = %+v", h)
	}
}
