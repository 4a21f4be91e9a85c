package toolexec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/ruster/internal/rerrors"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/pkg/models"
)

type fakeResolver struct {
	bySession map[string][]*skills.Skill
}

func (f fakeResolver) ActiveSkills(sessionID string) []*skills.Skill {
	return f.bySession[sessionID]
}

func newTestManager(t *testing.T, resolver Resolver) *Manager {
	t.Helper()
	return NewManager(Config{RunDir: t.TempDir(), Timeout: 2 * time.Second, OutputLines: 5}, resolver, nil)
}

func TestManagerExecuteCapturesStdout(t *testing.T) {
	sk := &skills.Skill{Name: "greeter", Path: t.TempDir(), Tools: []skills.ToolDef{
		{Name: "hello", Exec: "echo \"hi $RUSTER_TOOL_ARGS\""},
	}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {sk}}}
	m := newTestManager(t, resolver)

	result := m.Execute(context.Background(), "s1", models.ToolCallRequest{
		CallID:    "call-1",
		Name:      "hello",
		Arguments: json.RawMessage(`{"who":"world"}`),
	})

	if result.Err != nil {
		t.Fatalf("Execute() error = %v", result.Err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.ResultPreview, "world") {
		t.Errorf("ResultPreview = %q, want it to contain the passed argument", result.ResultPreview)
	}
	if result.Reference != "tool://call-1" {
		t.Errorf("Reference = %q, want tool://call-1", result.Reference)
	}
}

func TestManagerExecuteUnknownTool(t *testing.T) {
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {}}}
	m := newTestManager(t, resolver)

	result := m.Execute(context.Background(), "s1", models.ToolCallRequest{CallID: "c", Name: "missing"})
	if result.Err == nil {
		t.Fatal("expected error for unresolved tool")
	}
	if rerrors.Reason(result.Err) != "not_found" {
		t.Errorf("Reason = %q, want not_found", rerrors.Reason(result.Err))
	}
}

func TestManagerExecuteTimeout(t *testing.T) {
	sk := &skills.Skill{Name: "slow", Path: t.TempDir(), Tools: []skills.ToolDef{
		{Name: "sleepy", Exec: "sleep 5"},
	}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {sk}}}
	m := NewManager(Config{RunDir: t.TempDir(), Timeout: 100 * time.Millisecond}, resolver, nil)

	result := m.Execute(context.Background(), "s1", models.ToolCallRequest{CallID: "c-timeout", Name: "sleepy"})
	if !result.TimedOut {
		t.Fatal("expected TimedOut = true")
	}
	if rerrors.Reason(result.Err) != "tool_timeout" {
		t.Errorf("Reason = %q, want tool_timeout", rerrors.Reason(result.Err))
	}
}

func TestManagerResolveAmbiguousExact(t *testing.T) {
	a := &skills.Skill{Name: "a", Path: t.TempDir(), Tools: []skills.ToolDef{{Name: "run", Exec: "true"}}}
	b := &skills.Skill{Name: "b", Path: t.TempDir(), Tools: []skills.ToolDef{{Name: "run", Exec: "true"}}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {a, b}}}
	m := newTestManager(t, resolver)

	_, _, err := m.Resolve("s1", "run")
	if rerrors.Reason(err) != "conflict" {
		t.Errorf("Reason = %q, want conflict", rerrors.Reason(err))
	}
}

func TestManagerResolveQualifiedSuffix(t *testing.T) {
	a := &skills.Skill{Name: "a", Path: t.TempDir(), Tools: []skills.ToolDef{{Name: "run", Exec: "true"}}}
	b := &skills.Skill{Name: "b", Path: t.TempDir(), Tools: []skills.ToolDef{{Name: "run", Exec: "true"}}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {a, b}}}
	m := newTestManager(t, resolver)

	sk, tool, err := m.Resolve("s1", "a.run")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sk.Name != "a" || tool.Name != "run" {
		t.Errorf("resolved %s/%s, want a/run", sk.Name, tool.Name)
	}
}

func TestManagerExecuteRejectsArgumentsViolatingDeclaredSchema(t *testing.T) {
	sk := &skills.Skill{Name: "greeter", Path: t.TempDir(), Tools: []skills.ToolDef{
		{
			Name:       "hello",
			Exec:       "echo hi",
			Parameters: json.RawMessage(`{"type":"object","required":["who"],"properties":{"who":{"type":"string"}}}`),
		},
	}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {sk}}}
	m := newTestManager(t, resolver)

	result := m.Execute(context.Background(), "s1", models.ToolCallRequest{
		CallID:    "c-bad-args",
		Name:      "hello",
		Arguments: json.RawMessage(`{}`),
	})
	if result.Err == nil {
		t.Fatal("expected a schema validation error")
	}
	if rerrors.Reason(result.Err) != "malformed_input" {
		t.Errorf("Reason = %q, want malformed_input", rerrors.Reason(result.Err))
	}
}

func TestManagerExecuteAcceptsArgumentsMatchingDeclaredSchema(t *testing.T) {
	sk := &skills.Skill{Name: "greeter", Path: t.TempDir(), Tools: []skills.ToolDef{
		{
			Name:       "hello",
			Exec:       "echo hi",
			Parameters: json.RawMessage(`{"type":"object","required":["who"],"properties":{"who":{"type":"string"}}}`),
		},
	}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {sk}}}
	m := newTestManager(t, resolver)

	result := m.Execute(context.Background(), "s1", models.ToolCallRequest{
		CallID:    "c-good-args",
		Name:      "hello",
		Arguments: json.RawMessage(`{"who":"world"}`),
	})
	if result.Err != nil {
		t.Fatalf("Execute() error = %v", result.Err)
	}
}

func TestIsBuiltin(t *testing.T) {
	if !IsBuiltin(BuiltinPaginate) {
		t.Error("expected paginate_tool_output to be a builtin")
	}
	if IsBuiltin("something_else") {
		t.Error("did not expect something_else to be a builtin")
	}
}
