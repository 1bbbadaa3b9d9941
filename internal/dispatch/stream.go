package dispatch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// EventKind categorizes one parsed stream-json record.
type EventKind string

const (
	EventText   EventKind = "text"
	EventTool   EventKind = "tool_use"
	EventResult EventKind = "result"
	EventIgnore EventKind = "ignore"
)

// EventUsage carries whatever token/cost fields a stream record exposed;
// zero value fields mean "not present in this record", not "zero usage".
type EventUsage struct {
	InputTokens    int
	OutputTokens   int
	CacheRead      int
	CacheCreation  int
	ContextWindow  int
	CostUSD        *float64
	HasUsage       bool
}

// ParseLine parses one stream-json line into (kind, display text, usage).
// Malformed JSON or an unrecognized record type both yield EventIgnore —
// a parse failure on a single line is silently dropped rather than treated
// as fatal.
func ParseLine(line string) (EventKind, string, EventUsage) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return EventIgnore, "", EventUsage{}
	}

	switch obj["type"] {
	case "assistant":
		return parseAssistant(obj)
	case "result":
		return parseResult(obj)
	default:
		return EventIgnore, "", EventUsage{}
	}
}

func parseAssistant(obj map[string]any) (EventKind, string, EventUsage) {
	msg, _ := obj["message"].(map[string]any)
	content, _ := msg["content"].([]any)

	var b strings.Builder
	kind := EventText
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if t, ok := block["text"].(string); ok {
				b.WriteString(t)
			}
		case "tool_use":
			kind = EventTool
			b.WriteString(toolUseHint(block))
		}
	}

	usage := EventUsage{}
	if raw, ok := msg["usage"].(map[string]any); ok {
		usage.HasUsage = true
		usage.InputTokens = intField(raw, "input_tokens")
		usage.OutputTokens = intField(raw, "output_tokens")
		usage.CacheRead = intField(raw, "cache_read_input_tokens")
		usage.CacheCreation = intField(raw, "cache_creation_input_tokens")
	}
	return kind, b.String(), usage
}

func toolUseHint(block map[string]any) string {
	name, _ := block["name"].(string)
	input, _ := block["input"].(map[string]any)
	switch name {
	case "Read":
		path, _ := input["file_path"].(string)
		return fmt.Sprintf("\n\n> *Reading `%s`...*\n\n", filepath.Base(path))
	case "Glob":
		pattern, _ := input["pattern"].(string)
		if pattern == "" {
			pattern = "?"
		}
		return fmt.Sprintf("\n\n> *Searching for `%s`...*\n\n", pattern)
	case "Grep":
		pattern, _ := input["pattern"].(string)
		if pattern == "" {
			pattern = "?"
		}
		return fmt.Sprintf("\n\n> *Searching for \"%s\"...*\n\n", pattern)
	case "Bash":
		cmd, _ := input["command"].(string)
		short := cmd
		if len(short) > 80 {
			short = short[:80] + "..."
		}
		return fmt.Sprintf("\n\n> *Running `%s`...*\n\n", short)
	default:
		if name == "" {
			name = "?"
		}
		return fmt.Sprintf("\n\n> *Using %s...*\n\n", name)
	}
}

func parseResult(obj map[string]any) (EventKind, string, EventUsage) {
	text, _ := obj["result"].(string)
	usage := EventUsage{}

	if modelUsage, ok := obj["modelUsage"].(map[string]any); ok {
		for _, raw := range modelUsage {
			mu, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			usage.HasUsage = true
			usage.InputTokens = intField(mu, "inputTokens")
			usage.OutputTokens = intField(mu, "outputTokens")
			usage.CacheRead = intField(mu, "cacheReadInputTokens")
			usage.CacheCreation = intField(mu, "cacheCreationInputTokens")
			usage.ContextWindow = intField(mu, "contextWindow")
			if cost, ok := mu["costUSD"].(float64); ok {
				usage.CostUSD = &cost
			}
			break
		}
	} else if cost, ok := obj["total_cost_usd"].(float64); ok {
		usage.HasUsage = true
		usage.CostUSD = &cost
	}

	return EventResult, text, usage
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
