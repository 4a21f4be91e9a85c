package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/internal/rerrors"
	"github.com/haasonsaas/ruster/pkg/models"
)

func TestPaginateReadsCapturedOutput(t *testing.T) {
	sk := &skills.Skill{Name: "lines", Path: t.TempDir(), Tools: []skills.ToolDef{
		{Name: "emit", Exec: `for i in 1 2 3 4 5; do echo "line $i"; done`},
	}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {sk}}}
	m := NewManager(Config{RunDir: t.TempDir(), Timeout: 2 * time.Second, OutputLines: 2}, resolver, nil)

	exec := m.Execute(context.Background(), "s1", models.ToolCallRequest{CallID: "call-9", Name: "emit"})
	if exec.Err != nil {
		t.Fatalf("Execute() error = %v", exec.Err)
	}

	args, _ := json.Marshal(PaginateRequest{CallID: "call-9", OffsetLine: 2, MaxLines: 2})
	out, err := m.Paginate(args)
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}
	want := "line 3\nline 4"
	if out != want {
		t.Errorf("Paginate() = %q, want %q", out, want)
	}
}

func TestPaginateUnknownCallID(t *testing.T) {
	m := NewManager(Config{RunDir: t.TempDir()}, fakeResolver{}, nil)
	args, _ := json.Marshal(PaginateRequest{CallID: "nope"})
	_, err := m.Paginate(args)
	if rerrors.Reason(err) != "not_found" {
		t.Errorf("Reason = %q, want not_found", rerrors.Reason(err))
	}
}

func TestPaginateGrepFilters(t *testing.T) {
	sk := &skills.Skill{Name: "lines", Path: t.TempDir(), Tools: []skills.ToolDef{
		{Name: "emit", Exec: `echo keep; echo drop; echo keepme`},
	}}
	resolver := fakeResolver{bySession: map[string][]*skills.Skill{"s1": {sk}}}
	m := NewManager(Config{RunDir: t.TempDir(), Timeout: 2 * time.Second}, resolver, nil)

	exec := m.Execute(context.Background(), "s1", models.ToolCallRequest{CallID: "call-grep", Name: "emit"})
	if exec.Err != nil {
		t.Fatalf("Execute() error = %v", exec.Err)
	}
	args, _ := json.Marshal(PaginateRequest{CallID: "call-grep", Grep: "keep", MaxLines: 10})
	out, err := m.Paginate(args)
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}
	wantLines := fmt.Sprintf("keep\nkeepme")
	if out != wantLines {
		t.Errorf("Paginate() = %q, want %q", out, wantLines)
	}
}
