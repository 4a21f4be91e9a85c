package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerAcceptsAndRoutesOverSocket(t *testing.T) {
	router, sink, _ := newTestRouter(t)

	socketPath := filepath.Join(t.TempDir(), "ruster.sock")
	server := NewServer(socketPath, 0o666, router, sink)
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"command":"session","arguments":{"action":"create","session_id":"s1"}}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	var evt map[string]any
	if err := json.Unmarshal(line, &evt); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if evt["event"] != "created" {
		t.Fatalf("event = %v, want created", evt)
	}
}

func TestServerListenRemovesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "stale.sock")
	if err := os.WriteFile(socketPath, []byte("not a socket"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	router, sink, _ := newTestRouter(t)
	server := NewServer(socketPath, 0o666, router, sink)
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()
}
