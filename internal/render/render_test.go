package render

import (
	"strings"
	"testing"

	"github.com/hannesill/vitrine/internal/card"
)

type fakeSink struct {
	tables map[string]*Table
	jsons  map[string]any
	images map[string][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{tables: map[string]*Table{}, jsons: map[string]any{}, images: map[string][]byte{}}
}

func (f *fakeSink) StoreTable(cardID string, t *Table) error {
	f.tables[cardID] = t
	return nil
}

func (f *fakeSink) StoreJSON(cardID string, data any) error {
	f.jsons[cardID] = data
	return nil
}

func (f *fakeSink) StoreImage(cardID string, data []byte, format string) error {
	f.images[cardID] = data
	return nil
}

func disabledRedactor() *Redactor {
	return &Redactor{Enabled: false}
}

func TestRenderTable(t *testing.T) {
	tbl := &Table{
		Columns: []string{"val"},
		Dtypes:  []string{"int64"},
		Rows:    [][]any{{1}, {2}, {3}},
	}
	sink := newFakeSink()
	c, err := Render(tbl, Options{Title: "my table"}, sink, disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != card.Table {
		t.Fatalf("expected table card, got %v", c.Type)
	}
	if c.ArtifactID != c.ID {
		t.Fatalf("expected artifact id to equal card id for table cards")
	}
	if _, ok := sink.tables[c.ID]; !ok {
		t.Fatalf("expected table to be stored under card id")
	}
	shape, _ := c.Preview["shape"].([]int)
	if len(shape) != 2 || shape[0] != 3 || shape[1] != 1 {
		t.Fatalf("unexpected shape in preview: %#v", c.Preview["shape"])
	}
}

func TestRenderMarkdown(t *testing.T) {
	c, err := Render("hello world", Options{}, newFakeSink(), disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != card.Markdown {
		t.Fatalf("expected markdown card, got %v", c.Type)
	}
	if c.Preview["text"] != "hello world" {
		t.Fatalf("unexpected preview: %#v", c.Preview)
	}
}

func TestRenderKeyValue(t *testing.T) {
	c, err := Render(map[string]any{"a": 1, "b": "two"}, Options{}, newFakeSink(), disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != card.KeyValue {
		t.Fatalf("expected keyvalue card, got %v", c.Type)
	}
	items, _ := c.Preview["items"].(map[string]string)
	if items["a"] != "1" || items["b"] != "two" {
		t.Fatalf("unexpected stringified items: %#v", items)
	}
}

func TestRenderDecision(t *testing.T) {
	q, _ := card.NewQuestion("choice", "pick one", []card.Option{{Label: "a"}, {Label: "b"}})
	form, _ := card.NewForm(q)
	c, err := Render(form, Options{}, newFakeSink(), disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != card.Decision {
		t.Fatalf("expected decision card, got %v", c.Type)
	}
}

func TestRenderFallback(t *testing.T) {
	c, err := Render(42, Options{}, newFakeSink(), disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != card.Markdown {
		t.Fatalf("expected fallback to render as markdown, got %v", c.Type)
	}
	text, _ := c.Preview["text"].(string)
	if !strings.HasPrefix(text, "```\n") || !strings.HasSuffix(text, "```") {
		t.Fatalf("expected fenced repr, got %q", text)
	}
}

func TestRenderPlotlyTruncatesOversizedTraces(t *testing.T) {
	bigData := make([]any, maxPlotlyDataElements+500)
	for i := range bigData {
		bigData[i] = i
	}
	// Pad the spec with a large unrelated string to push it over the byte cap
	// without needing literally millions of array elements in the test.
	padding := strings.Repeat("x", maxPlotlySpecBytes+1)
	spec := PlotlySpec{
		Data: []map[string]any{
			{"y": bigData, "_pad": padding},
		},
		Layout: map[string]any{"title": "My Chart"},
	}
	sink := newFakeSink()
	c, err := Render(spec, Options{}, sink, disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Title != "My Chart" {
		t.Fatalf("expected title resolved from layout, got %q", c.Title)
	}
	stored, ok := sink.jsons[c.ID].(map[string]any)
	if !ok {
		t.Fatalf("expected stored plotly spec map")
	}
	data, _ := stored["data"].([]any)
	trace, _ := data[0].(map[string]any)
	y, _ := trace["y"].([]any)
	if len(y) != maxPlotlyDataElements {
		t.Fatalf("expected y truncated to %d elements, got %d", maxPlotlyDataElements, len(y))
	}
}

func TestRenderImageSanitizesSVG(t *testing.T) {
	svg := []byte(`<svg><script>alert(1)</script><a onclick="evil()">x</a></svg>`)
	sink := newFakeSink()
	c, err := Render(SVGFigure{SVG: svg}, Options{}, sink, disabledRedactor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != card.Image {
		t.Fatalf("expected image card, got %v", c.Type)
	}
	stored := sink.images[c.ID]
	if strings.Contains(string(stored), "<script") || strings.Contains(string(stored), "onclick") {
		t.Fatalf("expected sanitized SVG stored, got %q", stored)
	}
}

func TestRenderTableAppliesRedaction(t *testing.T) {
	tbl := &Table{
		Columns: []string{"first_name", "val"},
		Dtypes:  []string{"object", "int64"},
		Rows:    [][]any{{"Alice", 1}, {"Bob", 2}},
	}
	redactor := NewRedactor()
	sink := newFakeSink()
	c, err := Render(tbl, Options{}, sink, redactor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := sink.tables[c.ID]
	for _, row := range stored.Rows {
		if row[0] != "[REDACTED]" {
			t.Fatalf("expected first_name column redacted, got %v", row[0])
		}
	}
	if tbl.Rows[0][0] != "Alice" {
		t.Fatalf("expected original table left unmutated, got %v", tbl.Rows[0][0])
	}
}
