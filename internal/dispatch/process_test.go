package dispatch

import (
	"strings"
	"testing"
)

func TestFindCLIMissingBinary(t *testing.T) {
	if _, err := FindCLI("vitrine-nonexistent-cli-binary"); err == nil {
		t.Fatalf("expected error for a binary that isn't on PATH")
	}
}

func TestBuildArgsIncludesModelAndBudgetOverrides(t *testing.T) {
	budget := 10
	args := BuildArgs("/usr/bin/claude", "opus", "Bash,Read", &budget)
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	if !strings.Contains(joined, "--model opus") {
		t.Fatalf("args missing --model override: %v", args)
	}
	if !strings.Contains(joined, "--max-turns 10") {
		t.Fatalf("args missing --max-turns override: %v", args)
	}
}

func TestBuildArgsOmitsModelFlagForDefaultSonnet(t *testing.T) {
	args := BuildArgs("/usr/bin/claude", "sonnet", "Bash", nil)
	for _, a := range args {
		if a == "--model" {
			t.Fatalf("default model sonnet should not add --model flag: %v", args)
		}
	}
}

func TestFilterEnvStripsClaudeCode(t *testing.T) {
	out := filterEnv([]string{"CLAUDECODE=1", "PATH=/bin", "FOO=bar"})
	for _, kv := range out {
		if kv == "CLAUDECODE=1" {
			t.Fatalf("CLAUDECODE should be stripped: %v", out)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 remaining vars, got %v", out)
	}
}
