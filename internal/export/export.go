// Package export turns a study's cards into a self-contained artifact: a
// single HTML document viewable without a running server, or a JSON zip
// archive of card descriptors and raw artifact files.
package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/study"
)

// MaxHTMLTableRows is a row limit for table cards in an HTML export. The HTML
// export inlines only each card's stored preview, and no code path reads this
// constant.
const MaxHTMLTableRows = 10_000

func nonDeletedCards(mgr *study.Manager, label string) ([]*card.Card, error) {
	cards, err := mgr.ListAllCards(label)
	if err != nil {
		return nil, err
	}
	out := cards[:0]
	for _, c := range cards {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out, nil
}

func filteredStudies(mgr *study.Manager, label string) []study.Summary {
	studies := mgr.ListStudies()
	if label == "" {
		return studies
	}
	out := make([]study.Summary, 0, 1)
	for _, s := range studies {
		if s.Label == label {
			out = append(out, s)
		}
	}
	return out
}

// HTMLString renders a study (or every study, if label is "") as a single
// self-contained HTML document.
func HTMLString(mgr *study.Manager, label string) (string, error) {
	cards, err := nonDeletedCards(mgr, label)
	if err != nil {
		return "", err
	}
	return buildHTMLDocument(cards, filteredStudies(mgr, label), label), nil
}

// HTML writes the export from HTMLString to outputPath.
func HTML(mgr *study.Manager, outputPath, label string) error {
	html, err := HTMLString(mgr, label)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte(html), 0o644)
}

// meta is the manifest entry written as meta.json inside a JSON export.
type meta struct {
	ExportedAt string          `json:"exported_at"`
	Format     string          `json:"format_version"`
	Study      string          `json:"study,omitempty"`
	Studies    []study.Summary `json:"studies"`
	CardCount  int             `json:"card_count"`
}

// JSON writes a study (or all studies) as a zip archive containing
// meta.json, cards.json, and an artifacts/ directory of raw artifact files.
func JSON(mgr *study.Manager, outputPath, label string) error {
	if !strings.HasSuffix(outputPath, ".zip") {
		outputPath += ".zip"
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeJSONZip(f, mgr, label)
}

func writeJSONZip(w *os.File, mgr *study.Manager, label string) error {
	cards, err := nonDeletedCards(mgr, label)
	if err != nil {
		return err
	}
	studies := filteredStudies(mgr, label)

	zw := zip.NewWriter(w)
	defer zw.Close()

	m := meta{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Format:     "1.0",
		Study:      label,
		Studies:    studies,
		CardCount:  len(cards),
	}
	if err := writeZipJSON(zw, "meta.json", m); err != nil {
		return err
	}
	if err := writeZipJSON(zw, "cards.json", cards); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, c := range cards {
		if c.ArtifactID == "" || seen[c.ArtifactID] {
			continue
		}
		seen[c.ArtifactID] = true

		store := mgr.GetStoreForCard(c.ID)
		if store == nil {
			continue
		}
		for _, ext := range []string{"sqlite", "json", "svg", "png"} {
			path := filepath.Join(store.ArtifactsDir(), fmt.Sprintf("%s.%s", c.ArtifactID, ext))
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := addZipFile(zw, path, fmt.Sprintf("artifacts/%s.%s", c.ArtifactID, ext)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeZipJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func addZipFile(zw *zip.Writer, srcPath, arcname string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	w, err := zw.Create(arcname)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func buildHTMLDocument(cards []*card.Card, studies []study.Summary, label string) string {
	title := "vitrine export"
	if label != "" {
		title = "vitrine export — " + label
	}

	type cardView struct {
		Card    *card.Card
		Preview string
	}
	views := make([]cardView, 0, len(cards))
	for _, c := range cards {
		previewJSON, err := json.MarshalIndent(c.Preview, "", "  ")
		if err != nil {
			previewJSON = []byte("{}")
		}
		views = append(views, cardView{Card: c, Preview: string(previewJSON)})
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].Card.Timestamp < views[j].Card.Timestamp })

	var b strings.Builder
	if err := htmlTemplate.Execute(&b, map[string]any{
		"Title":   title,
		"Studies": studies,
		"Cards":   views,
	}); err != nil {
		return fmt.Sprintf("<html><body><p>export failed: %s</p></body></html>", template.HTMLEscapeString(err.Error()))
	}
	return b.String()
}

var htmlTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; }
.card { border: 1px solid #ddd; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
.card h3 { margin-top: 0; }
.meta { color: #888; font-size: 0.85rem; }
pre { white-space: pre-wrap; background: #f6f6f6; padding: 0.5rem; border-radius: 4px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Studies}}<p class="meta">{{.Label}} — {{.CardCount}} cards, started {{.StartTime}}</p>{{end}}
{{range .Cards}}
<div class="card">
<h3>{{.Card.Title}}</h3>
<p class="meta">{{.Card.Type}} · {{.Card.Timestamp}}</p>
<pre>{{.Preview}}</pre>
</div>
{{end}}
</body>
</html>
`))
