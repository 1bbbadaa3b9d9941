package render

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hannesill/vitrine/internal/card"
)

const (
	previewRows            = 20
	maxPlotlySpecBytes     = 5_000_000
	maxPlotlyDataElements  = 10_000
)

// ArtifactSink is the subset of artifact.Store the renderer needs, kept as
// an interface here to avoid an import cycle between render and artifact.
type ArtifactSink interface {
	StoreTable(cardID string, t *Table) error
	StoreJSON(cardID string, data any) error
	StoreImage(cardID string, data []byte, format string) error
}

// PlotlySpec wraps an already-JSON-safe chart spec (the Go equivalent of a
// plotly.graph_objects.Figure's to_plotly_json() output).
type PlotlySpec struct {
	Data   []map[string]any `json:"data"`
	Layout map[string]any   `json:"layout"`
}

// SVGFigure wraps pre-rendered SVG bytes (the Go equivalent of a matplotlib
// Figure rendered to SVG).
type SVGFigure struct {
	SVG []byte
}

func buildProvenance(source string) *card.Provenance {
	if source == "" {
		return nil
	}
	return &card.Provenance{Source: source, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Options carries the optional metadata accepted by Render.
type Options struct {
	Title       string
	Description string
	Source      string
	Study       string
}

// Render converts obj into a card.Card, persisting any large payload through
// store and applying redactor to tabular data first.
func Render(obj any, opts Options, store ArtifactSink, redactor *Redactor) (*card.Card, error) {
	if redactor == nil {
		redactor = NewRedactor()
	}

	switch v := obj.(type) {
	case *card.Form:
		return renderDecision(v, opts)
	case *Table:
		return renderTable(v, opts, store, redactor)
	case PlotlySpec:
		return renderPlotly(v, opts, store)
	case *PlotlySpec:
		return renderPlotly(*v, opts, store)
	case SVGFigure:
		return renderImage(v.SVG, opts, store)
	case *SVGFigure:
		return renderImage(v.SVG, opts, store)
	case string:
		return renderMarkdown(v, opts), nil
	case map[string]string:
		return renderKeyValueStrings(v, opts), nil
	case map[string]any:
		return renderKeyValue(v, opts), nil
	default:
		return renderFallback(v, opts), nil
	}
}

func renderTable(t *Table, opts Options, store ArtifactSink, redactor *Redactor) (*card.Card, error) {
	redacted := redactor.RedactTable(t)
	redacted, _ = redactor.EnforceRowLimit(redacted)

	c := card.New(card.Table)
	if err := store.StoreTable(c.ID, redacted); err != nil {
		return nil, fmt.Errorf("storing table artifact: %w", err)
	}

	preview := redacted.Head(previewRows)
	title := opts.Title
	if title == "" {
		title = "Table"
	}
	c.Title = title
	c.Description = opts.Description
	c.Study = opts.Study
	c.ArtifactID = c.ID
	c.ArtifactType = card.ArtifactColumnar
	c.Preview = map[string]any{
		"columns":      redacted.Columns,
		"dtypes":       dtypeMap(redacted),
		"shape":        []int{redacted.NumRows(), redacted.NumCols()},
		"preview_rows": preview.Rows,
	}
	c.Provenance = buildProvenance(opts.Source)
	return c, nil
}

func dtypeMap(t *Table) map[string]string {
	out := make(map[string]string, len(t.Columns))
	for i, col := range t.Columns {
		if i < len(t.Dtypes) {
			out[col] = t.Dtypes[i]
		} else {
			out[col] = "object"
		}
	}
	return out
}

func renderMarkdown(text string, opts Options) *card.Card {
	c := card.New(card.Markdown)
	c.Title = opts.Title
	c.Description = opts.Description
	c.Study = opts.Study
	c.Preview = map[string]any{"text": text}
	c.Provenance = buildProvenance(opts.Source)
	return c
}

func renderKeyValueStrings(data map[string]string, opts Options) *card.Card {
	items := make(map[string]string, len(data))
	for k, v := range data {
		items[k] = v
	}
	return finishKeyValue(items, opts)
}

func renderKeyValue(data map[string]any, opts Options) *card.Card {
	items := make(map[string]string, len(data))
	for k, v := range data {
		items[k] = fmt.Sprint(v)
	}
	return finishKeyValue(items, opts)
}

func finishKeyValue(items map[string]string, opts Options) *card.Card {
	c := card.New(card.KeyValue)
	title := opts.Title
	if title == "" {
		title = "Key-Value"
	}
	c.Title = title
	c.Description = opts.Description
	c.Study = opts.Study
	c.Preview = map[string]any{"items": items}
	c.Provenance = buildProvenance(opts.Source)
	return c
}

func renderPlotly(spec PlotlySpec, opts Options, store ArtifactSink) (*card.Card, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshaling plotly spec: %w", err)
	}
	specMap := map[string]any{}
	if err := json.Unmarshal(raw, &specMap); err != nil {
		return nil, fmt.Errorf("round-tripping plotly spec: %w", err)
	}
	if len(raw) > maxPlotlySpecBytes {
		log.Printf("[RENDER] plotly spec size (%d bytes) exceeds %d byte limit, truncating data arrays", len(raw), maxPlotlySpecBytes)
		if data, ok := specMap["data"].([]any); ok {
			for _, tr := range data {
				trace, ok := tr.(map[string]any)
				if !ok {
					continue
				}
				for k, v := range trace {
					if arr, ok := v.([]any); ok && len(arr) > maxPlotlyDataElements {
						trace[k] = arr[:maxPlotlyDataElements]
					}
				}
			}
		}
	}

	c := card.New(card.Plotly)
	if err := store.StoreJSON(c.ID, specMap); err != nil {
		return nil, fmt.Errorf("storing plotly artifact: %w", err)
	}

	title := opts.Title
	if title == "" {
		title = plotlyTitleFromLayout(specMap)
	}
	if title == "" {
		title = "Chart"
	}
	c.Title = title
	c.Description = opts.Description
	c.Study = opts.Study
	c.ArtifactID = c.ID
	c.ArtifactType = card.ArtifactJSON
	c.Preview = map[string]any{"spec": specMap}
	c.Provenance = buildProvenance(opts.Source)
	return c, nil
}

func plotlyTitleFromLayout(spec map[string]any) string {
	layout, _ := spec["layout"].(map[string]any)
	if layout == nil {
		return ""
	}
	switch t := layout["title"].(type) {
	case string:
		return t
	case map[string]any:
		if text, ok := t["text"].(string); ok {
			return text
		}
	}
	return ""
}

func renderImage(svg []byte, opts Options, store ArtifactSink) (*card.Card, error) {
	sanitized, err := SanitizeSVG(svg)
	if err != nil {
		return nil, err
	}

	c := card.New(card.Image)
	if err := store.StoreImage(c.ID, sanitized, "svg"); err != nil {
		return nil, fmt.Errorf("storing image artifact: %w", err)
	}

	title := opts.Title
	if title == "" {
		title = "Figure"
	}
	c.Title = title
	c.Description = opts.Description
	c.Study = opts.Study
	c.ArtifactID = c.ID
	c.ArtifactType = card.ArtifactSVG
	c.Preview = map[string]any{
		"data":       base64Encode(sanitized),
		"format":     "svg",
		"size_bytes": len(sanitized),
	}
	c.Provenance = buildProvenance(opts.Source)
	return c, nil
}

func renderDecision(f *card.Form, opts Options) (*card.Card, error) {
	c := card.New(card.Decision)
	title := opts.Title
	if title == "" {
		title = "Decision"
	}
	c.Title = title
	c.Description = opts.Description
	c.Study = opts.Study
	c.Preview = f.ToDict()
	c.Provenance = buildProvenance(opts.Source)
	return c, nil
}

func renderFallback(obj any, opts Options) *card.Card {
	text := fmt.Sprintf("```\n%#v\n```", obj)
	return renderMarkdown(text, opts)
}
