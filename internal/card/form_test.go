package card

import "testing"

func TestNewQuestionRequiresOptions(t *testing.T) {
	if _, err := NewQuestion("q1", "pick", nil); err == nil {
		t.Fatalf("expected error for empty options")
	}
}

func TestQuestionWithDefaultValidatesLabel(t *testing.T) {
	q, err := NewQuestion("q1", "pick one", []Option{{Label: "a"}, {Label: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.WithDefault("a"); err != nil {
		t.Fatalf("unexpected error for valid default: %v", err)
	}
	if err := q.WithDefault("nope"); err == nil {
		t.Fatalf("expected error for default not naming an option")
	}
}

func TestFormRejectsDuplicateFieldNames(t *testing.T) {
	q1, _ := NewQuestion("dup", "first", []Option{{Label: "a"}})
	q2, _ := NewQuestion("dup", "second", []Option{{Label: "b"}})
	if _, err := NewForm(q1, q2); err == nil {
		t.Fatalf("expected error for duplicate field names")
	}
}

func TestResolveOptionDescriptions(t *testing.T) {
	fieldSpecs := []map[string]any{
		{
			"name": "choice",
			"options": []any{
				map[string]any{"label": "yes", "description": "affirmative"},
				map[string]any{"label": "no", "description": "negative"},
			},
		},
	}
	values := map[string]any{"choice": "yes"}

	got := ResolveOptionDescriptions(values, fieldSpecs)
	entry, ok := got["choice"].(map[string]any)
	if !ok {
		t.Fatalf("expected a map entry for choice, got %#v", got["choice"])
	}
	if entry["selected"] != "yes" || entry["description"] != "affirmative" {
		t.Fatalf("unexpected resolved entry: %#v", entry)
	}
}

func TestResolveOptionDescriptionsMultiple(t *testing.T) {
	fieldSpecs := []map[string]any{
		{
			"name": "tags",
			"options": []any{
				map[string]any{"label": "x", "description": "ex"},
				map[string]any{"label": "y", "description": "why"},
			},
		},
	}
	values := map[string]any{"tags": []any{"x", "y"}}

	got := ResolveOptionDescriptions(values, fieldSpecs)
	entry, ok := got["tags"].(map[string]any)
	if !ok {
		t.Fatalf("expected a map entry for tags, got %#v", got["tags"])
	}
	selected, _ := entry["selected"].([]string)
	descriptions, _ := entry["descriptions"].([]string)
	if len(selected) != 2 || len(descriptions) != 2 {
		t.Fatalf("expected two selected/descriptions entries, got %#v", entry)
	}
}

func TestResolveOptionDescriptionsEmpty(t *testing.T) {
	if got := ResolveOptionDescriptions(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty result for empty inputs, got %#v", got)
	}
}
