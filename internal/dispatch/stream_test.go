package dispatch

import (
	"strings"
	"testing"
)

func TestParseLineAssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":5,"output_tokens":2}}}`
	kind, text, usage := ParseLine(line)
	if kind != EventText {
		t.Fatalf("kind = %v, want text", kind)
	}
	if text != "hello" {
		t.Fatalf("text = %q", text)
	}
	if !usage.HasUsage || usage.InputTokens != 5 || usage.OutputTokens != 2 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestParseLineAssistantToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/a/b/c.py"}}]}}`
	kind, text, _ := ParseLine(line)
	if kind != EventTool {
		t.Fatalf("kind = %v, want tool_use", kind)
	}
	if text == "" {
		t.Fatalf("expected a hint string, got empty")
	}
}

func TestParseLineResult(t *testing.T) {
	line := `{"type":"result","result":"done","modelUsage":{"claude-sonnet":{"inputTokens":10,"outputTokens":3,"costUSD":0.05,"contextWindow":200000}}}`
	kind, text, usage := ParseLine(line)
	if kind != EventResult || text != "done" {
		t.Fatalf("kind=%v text=%q", kind, text)
	}
	if !usage.HasUsage || usage.CostUSD == nil || *usage.CostUSD != 0.05 {
		t.Fatalf("usage = %+v", usage)
	}
	if usage.ContextWindow != 200000 {
		t.Fatalf("context window = %d", usage.ContextWindow)
	}
}

func TestParseLineIgnoresMalformedAndUnknown(t *testing.T) {
	for _, line := range []string{`not json`, `{"type":"system"}`, ``} {
		kind, _, _ := ParseLine(line)
		if kind != EventIgnore {
			t.Fatalf("ParseLine(%q) kind = %v, want ignore", line, kind)
		}
	}
}

func TestToolUseHintTruncatesLongCommand(t *testing.T) {
	block := map[string]any{
		"name":  "Bash",
		"input": map[string]any{"command": string(make([]byte, 200))},
	}
	hint := toolUseHint(block)
	if len(hint) == 0 {
		t.Fatalf("expected non-empty hint")
	}
	want := "> *Running `" + string(make([]byte, 80)) + "...`...*"
	if !strings.Contains(hint, want) {
		t.Fatalf("expected command truncated to 80 bytes plus ellipsis, got %q", hint)
	}
}
