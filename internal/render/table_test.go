package render

import "testing"

func TestTableCloneIsIndependent(t *testing.T) {
	t1 := &Table{Columns: []string{"a"}, Dtypes: []string{"int64"}, Rows: [][]any{{1}}}
	clone := t1.Clone()
	clone.Rows[0][0] = 2
	clone.Columns[0] = "b"
	if t1.Rows[0][0] != 1 || t1.Columns[0] != "a" {
		t.Fatalf("expected clone to be independent of original, original mutated: %#v", t1)
	}
}

func TestTableColumnIndex(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b", "c"}}
	if tbl.ColumnIndex("b") != 1 {
		t.Fatalf("expected index 1 for column b")
	}
	if tbl.ColumnIndex("missing") != -1 {
		t.Fatalf("expected -1 for missing column")
	}
}

func TestTableHead(t *testing.T) {
	tbl := &Table{Columns: []string{"v"}, Rows: [][]any{{1}, {2}, {3}}}
	h := tbl.Head(2)
	if len(h.Rows) != 2 || h.Rows[0][0] != 1 || h.Rows[1][0] != 2 {
		t.Fatalf("unexpected head: %#v", h.Rows)
	}
	full := tbl.Head(10)
	if len(full.Rows) != 3 {
		t.Fatalf("expected head(n>=len) to return all rows, got %d", len(full.Rows))
	}
}

func TestTableNumRowsCols(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b"}, Rows: [][]any{{1, 2}, {3, 4}}}
	if tbl.NumRows() != 2 || tbl.NumCols() != 2 {
		t.Fatalf("unexpected dims: rows=%d cols=%d", tbl.NumRows(), tbl.NumCols())
	}
}
