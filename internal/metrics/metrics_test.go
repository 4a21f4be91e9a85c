package metrics

import "testing"

func TestNewRegistersWithoutPanic(t *testing.T) {
	m := New()
	if m.registry == nil {
		t.Fatal("expected a non-nil registry")
	}
	m.ActiveSessions.Set(3)
	m.ToolExecutions.WithLabelValues("echo", "success").Inc()
	m.SkillsActivated.WithLabelValues("web-browsing").Inc()
}

func TestNewTwiceDoesNotCollide(t *testing.T) {
	New()
	New()
}
