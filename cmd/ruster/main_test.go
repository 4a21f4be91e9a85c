package main

import (
	"os"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPathPrefersExplicitFlag(t *testing.T) {
	if got := resolveConfigPath("/tmp/explicit.yaml"); got != "/tmp/explicit.yaml" {
		t.Errorf("resolveConfigPath() = %q, want explicit path", got)
	}
}

func TestResolveConfigPathFallsBackToEnvThenDefault(t *testing.T) {
	t.Setenv("RUSTER_CONFIG", "/tmp/env.yaml")
	if got := resolveConfigPath(""); got != "/tmp/env.yaml" {
		t.Errorf("resolveConfigPath() = %q, want env path", got)
	}

	os.Unsetenv("RUSTER_CONFIG")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath() = %q, want default path", got)
	}
}
