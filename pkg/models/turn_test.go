package models

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestTurnRoundTrip exercises spec.md §8's round-trip law: serialize then
// deserialize any Turn yields the same object.
func TestTurnRoundTrip(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "hi", SkillsSnapshot: []string{"clock", "joke-teller"}},
		{Role: RoleAssistant, Content: "sure", ToolCalls: []ToolCallRequest{
			{CallID: "c1", Name: "clock.now", Arguments: json.RawMessage(`{"tz":"UTC"}`)},
		}},
		{Role: RoleTool, Content: "12:00", CallID: "c1", ToolName: "clock.now"},
		{Role: RoleSystem, SkillSystem: "clock"},
	}

	for _, want := range turns {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		var got Turn
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestIsDedicatedSkillTurn(t *testing.T) {
	turn := Turn{Role: RoleSystem, SkillSystem: "clock"}
	if !turn.IsDedicatedSkillTurn("clock") {
		t.Error("expected IsDedicatedSkillTurn(clock) to be true")
	}
	if turn.IsDedicatedSkillTurn("joke-teller") {
		t.Error("expected IsDedicatedSkillTurn(joke-teller) to be false")
	}
}
