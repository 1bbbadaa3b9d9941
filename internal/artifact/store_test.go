package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hannesill/vitrine/internal/card"
	"github.com/hannesill/vitrine/internal/render"
)

func TestSanitizeSearch(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"blank", "   ", false},
		{"plain word", "sepsis", true},
		{"drop keyword", "DROP TABLE data", false},
		{"lowercase drop", "drop table data", false},
		{"comment marker", "foo--bar", false},
		{"semicolon", "foo;bar", false},
		{"punctuation allowed", "foo-bar (baz), 1.2:3/4'\"", true},
		{"disallowed char", "foo$bar", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := sanitizeSearch(tt.input)
			if ok != tt.want {
				t.Errorf("sanitizeSearch(%q) ok = %v, want %v", tt.input, ok, tt.want)
			}
		})
	}
}

func TestBuildSearchWhereRejectedYieldsUnfiltered(t *testing.T) {
	cols := []ColumnInfo{{Name: "name", Type: "TEXT"}}
	if where := buildSearchWhere("DROP TABLE data", cols); where != "" {
		t.Errorf("expected empty WHERE for rejected search, got %q", where)
	}
}

func TestAppendAndListCards(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "2026-01-01_000000_test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	c := card.New(card.Markdown)
	c.Study = "study-a"
	c.Title = "hello"
	if err := store.AppendCard(c); err != nil {
		t.Fatalf("AppendCard: %v", err)
	}

	cards, err := store.ListCards("")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	if cards[0].ID != c.ID || cards[0].Title != "hello" {
		t.Errorf("round-tripped card mismatch: %+v", cards[0])
	}

	filtered, err := store.ListCards("study-b")
	if err != nil {
		t.Fatalf("ListCards filtered: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("expected 0 cards for unmatched study, got %d", len(filtered))
	}
}

func TestUpdateCardMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "study")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	updated, err := store.UpdateCard("does-not-exist", map[string]any{"dismissed": true})
	if err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if updated != nil {
		t.Errorf("expected nil for missing card, got %+v", updated)
	}
}

func TestUpdateCardMerges(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "study")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c := card.New(card.Table)
	if err := store.AppendCard(c); err != nil {
		t.Fatalf("AppendCard: %v", err)
	}
	updated, err := store.UpdateCard(c.ID, map[string]any{"dismissed": true})
	if err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if updated == nil || !updated.Dismissed {
		t.Fatalf("expected dismissed=true, got %+v", updated)
	}
}

func TestRenameStudyUpdatesMatchingCards(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "study")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a := card.New(card.Markdown)
	a.Study = "old"
	b := card.New(card.Markdown)
	b.Study = "other"
	store.AppendCard(a)
	store.AppendCard(b)

	count, err := store.RenameStudy("old", "new")
	if err != nil {
		t.Fatalf("RenameStudy: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 card renamed, got %d", count)
	}

	cards, _ := store.ListCards("")
	for _, c := range cards {
		if c.ID == a.ID && c.Study != "new" {
			t.Errorf("card a study = %q, want new", c.Study)
		}
		if c.ID == b.ID && c.Study != "other" {
			t.Errorf("card b study unexpectedly changed to %q", c.Study)
		}
	}
}

func TestStoreTableAndReadPage(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "study")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tbl := &render.Table{
		Columns: []string{"name", "age"},
		Dtypes:  []string{"object", "int64"},
		Rows: [][]any{
			{"alice", int64(30)},
			{"bob", int64(41)},
			{"carol", int64(25)},
		},
	}
	if err := store.StoreTable("card1", tbl); err != nil {
		t.Fatalf("StoreTable: %v", err)
	}

	page, err := store.ReadTablePage("card1", 0, 50, "age", true, "")
	if err != nil {
		t.Fatalf("ReadTablePage: %v", err)
	}
	if page.TotalRows != 3 {
		t.Fatalf("expected 3 total rows, got %d", page.TotalRows)
	}
	if len(page.Rows) != 3 {
		t.Fatalf("expected 3 page rows, got %d", len(page.Rows))
	}
	if page.Rows[0][0] != "carol" {
		t.Errorf("expected sort-by-age to put carol first, got %v", page.Rows[0][0])
	}

	filtered, err := store.ReadTablePage("card1", 0, 50, "", true, "bob")
	if err != nil {
		t.Fatalf("ReadTablePage search: %v", err)
	}
	if filtered.TotalRows != 1 {
		t.Fatalf("expected 1 matching row, got %d", filtered.TotalRows)
	}
}

func TestReadTablePageMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "study")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.ReadTablePage("missing", 0, 10, "", true, ""); err == nil {
		t.Error("expected error for missing table artifact")
	}
}

func TestMetaJSONWrittenOnOpen(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir, "study-dir"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "meta.json")); err != nil {
		t.Fatalf("expected meta.json to exist after Open: %v", err)
	}
}
