package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/ruster/internal/config"
	"github.com/haasonsaas/ruster/internal/inferenceloop"
	"github.com/haasonsaas/ruster/internal/llmgateway"
	"github.com/haasonsaas/ruster/internal/sessions"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/internal/toolexec"
	"github.com/haasonsaas/ruster/pkg/models"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fakeEmbedder) Name() string   { return "fake" }
func (fakeEmbedder) Dimension() int { return 2 }

type textOnlyGateway struct{}

func (textOnlyGateway) Name() string { return "fake" }
func (textOnlyGateway) Embed(ctx context.Context, text, model string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (textOnlyGateway) ChatStream(ctx context.Context, req llmgateway.ChatRequest) (<-chan llmgateway.StreamItem, error) {
	items := make(chan llmgateway.StreamItem, 2)
	items <- llmgateway.StreamItem{Kind: llmgateway.ItemTextDelta, Text: "ok"}
	items <- llmgateway.StreamItem{Kind: llmgateway.ItemEnd, FinishReason: "stop"}
	close(items)
	return items, nil
}

func writePlainSkill(t *testing.T, dir, name string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "---\nname: " + name + "\ndescription: a test skill\n---\nBody.\n"
	if err := os.WriteFile(filepath.Join(skillDir, skills.SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
}

func newTestRouter(t *testing.T) (*Router, *Sink, *sessions.Store) {
	t.Helper()
	skillsDir := t.TempDir()
	writePlainSkill(t, skillsDir, "joke-teller")

	registry := skills.NewRegistry([]string{skillsDir}, nil, fakeEmbedder{})
	if err := registry.Rescan(context.Background()); err != nil {
		t.Fatalf("Rescan() error = %v", err)
	}

	store, err := sessions.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	tools := toolexec.NewManager(toolexec.Config{RunDir: t.TempDir()}, inferenceloop.ToolResolver{Store: store, Registry: registry}, nil)
	sink := NewSink()
	loop := inferenceloop.NewLoop(store, registry, textOnlyGateway{}, tools, sink, inferenceloop.Config{DefaultModel: "m1"}, nil)

	cfg := &config.Config{SocketPath: "/tmp/test.sock", RAGTopN: 3, RAGThreshold: 0.3}
	router := NewRouter(store, registry, loop, sink, cfg)
	return router, sink, store
}

func lastEvent(t *testing.T, conn *recordingConn) models.Event {
	t.Helper()
	if len(conn.events) == 0 {
		t.Fatal("expected at least one event")
	}
	return conn.events[len(conn.events)-1]
}

func TestRouterSessionCreateThenList(t *testing.T) {
	router, _, _ := newTestRouter(t)
	conn := &recordingConn{}

	router.Handle(context.Background(), conn, []byte(`{"command":"session","arguments":{"action":"create","session_id":"s1","model":"m1"}}`))
	evt := lastEvent(t, conn)
	if evt["event"] != "created" {
		t.Fatalf("event = %v, want created", evt)
	}

	router.Handle(context.Background(), conn, []byte(`{"command":"session","arguments":{"action":"list"}}`))
	evt = lastEvent(t, conn)
	if evt["event"] != "sessions" {
		t.Fatalf("event = %v, want sessions", evt)
	}
}

func TestRouterUnknownGroup(t *testing.T) {
	router, _, _ := newTestRouter(t)
	conn := &recordingConn{}
	router.Handle(context.Background(), conn, []byte(`{"command":"bogus","arguments":{"action":"x"}}`))
	evt := lastEvent(t, conn)
	if evt["event"] != "error" || evt["reason"] != "unknown_command" {
		t.Fatalf("event = %v, want unknown_command error", evt)
	}
}

func TestRouterMalformedInputKeepsConnectionUsable(t *testing.T) {
	router, _, _ := newTestRouter(t)
	conn := &recordingConn{}

	router.Handle(context.Background(), conn, []byte(`{not json`))
	if lastEvent(t, conn)["reason"] != "malformed_input" {
		t.Fatalf("expected malformed_input, got %v", conn.events)
	}

	router.Handle(context.Background(), conn, []byte(`{"command":"session","arguments":{"action":"list"}}`))
	if lastEvent(t, conn)["event"] != "sessions" {
		t.Fatalf("connection should still work after malformed input, got %v", conn.events)
	}
}

func TestRouterSkillAddListRemove(t *testing.T) {
	router, _, store := newTestRouter(t)
	conn := &recordingConn{}
	ctx := context.Background()

	if _, _, err := store.Create(ctx, "s1", "m1", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	router.Handle(ctx, conn, []byte(`{"command":"skill","arguments":{"action":"add","session_id":"s1","skill":"joke-teller"}}`))
	evt := lastEvent(t, conn)
	items, _ := evt["items"].([]string)
	if len(items) != 1 || items[0] != "joke-teller" {
		t.Fatalf("active skills = %v, want [joke-teller]", evt)
	}

	router.Handle(ctx, conn, []byte(`{"command":"skill","arguments":{"action":"remove","session_id":"s1","skill":"joke-teller"}}`))
	evt = lastEvent(t, conn)
	items, _ = evt["items"].([]string)
	if len(items) != 0 {
		t.Fatalf("active skills after remove = %v, want empty", evt)
	}
}

func TestRouterConfigGetSetList(t *testing.T) {
	router, _, _ := newTestRouter(t)
	conn := &recordingConn{}
	ctx := context.Background()

	router.Handle(ctx, conn, []byte(`{"command":"config","arguments":{"action":"set","key":"max_tool_rounds","value":3}}`))
	evt := lastEvent(t, conn)
	values, _ := evt["values"].(map[string]any)
	if values["max_tool_rounds"] != 3 {
		t.Fatalf("values = %v, want max_tool_rounds=3", values)
	}

	router.Handle(ctx, conn, []byte(`{"command":"config","arguments":{"action":"get","key":"max_tool_rounds"}}`))
	evt = lastEvent(t, conn)
	values, _ = evt["values"].(map[string]any)
	if values["max_tool_rounds"] != 3 {
		t.Fatalf("values = %v, want max_tool_rounds=3 after get", values)
	}

	router.Handle(ctx, conn, []byte(`{"command":"config","arguments":{"action":"set","key":"socket_path","value":"/nope"}}`))
	evt = lastEvent(t, conn)
	if evt["event"] != "error" {
		t.Fatalf("expected error setting a non-whitelisted key, got %v", evt)
	}
}
