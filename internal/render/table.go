// Package render converts plain Go values into card.Card + artifact bytes
// through a single type-dispatch entry point, applying PHI/PII redaction
// beforehand.
package render

// Table is a column-oriented table with parallel-indexed rows. Columns
// carry an inferred dtype string purely for the preview.
type Table struct {
	Columns []string
	Dtypes  []string
	Rows    [][]any
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.Columns) }

// Clone returns a deep-enough copy for redaction to mutate without touching
// the caller's table — the original is never modified.
func (t *Table) Clone() *Table {
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	dtypes := make([]string, len(t.Dtypes))
	copy(dtypes, t.Dtypes)
	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, len(r))
		copy(row, r)
		rows[i] = row
	}
	return &Table{Columns: cols, Dtypes: dtypes, Rows: rows}
}

// ColumnIndex returns the index of a column name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Head returns a new Table containing at most n leading rows.
func (t *Table) Head(n int) *Table {
	if n >= len(t.Rows) {
		return t
	}
	return &Table{Columns: t.Columns, Dtypes: t.Dtypes, Rows: t.Rows[:n]}
}
