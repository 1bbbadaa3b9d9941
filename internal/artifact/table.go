package artifact

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hannesill/vitrine/internal/render"
)

// Table artifacts are single-table SQLite databases queried through an
// embedded analytical SQL engine, rather than a separate columnar file
// format and reader.
const tableName = "data"

const (
	maxPageLimit = 10_000
	minPageLimit = 1
)

// ColumnInfo describes one column of a stored table artifact.
type ColumnInfo struct {
	Name string
	Type string
}

// Page is one paged, optionally filtered/sorted slice of a table artifact.
type Page struct {
	Columns   []string
	Rows      [][]any
	TotalRows int
	Offset    int
	Limit     int
}

// ColumnStats summarizes one column of a table artifact.
type ColumnStats struct {
	NullCount    int64
	ApproxUnique int64
	Min          any
	Max          any
	Mean         *float64
}

func (s *Store) tablePath(cardID string) string {
	return filepath.Join(s.artifactsDir, cardID+".sqlite")
}

func sqliteColumnType(dtype string) string {
	lower := strings.ToLower(dtype)
	switch {
	case strings.Contains(lower, "int"):
		return "INTEGER"
	case strings.Contains(lower, "float"), strings.Contains(lower, "double"):
		return "REAL"
	case strings.Contains(lower, "bool"):
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func isNumericSQLType(t string) bool {
	upper := strings.ToUpper(t)
	for _, k := range []string{"INT", "REAL", "FLOA", "DOUB", "NUM", "DECIMAL"} {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// StoreTable writes a table as a single-table SQLite artifact, replacing any
// existing file for this card id.
func (s *Store) StoreTable(cardID string, t *render.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.tablePath(cardID)
	os.Remove(path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening table artifact: %w", err)
	}
	defer db.Close()

	colDefs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		dtype := "object"
		if i < len(t.Dtypes) {
			dtype = t.Dtypes[i]
		}
		colDefs[i] = fmt.Sprintf("%q %s", col, sqliteColumnType(dtype))
	}
	createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(colDefs, ", "))
	if _, err := db.Exec(createStmt); err != nil {
		return fmt.Errorf("creating table artifact schema: %w", err)
	}

	if len(t.Rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(t.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertStmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)", tableName, strings.Join(placeholders, ", "))

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning table artifact write: %w", err)
	}
	stmt, err := tx.Prepare(insertStmt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing table artifact insert: %w", err)
	}
	for _, row := range t.Rows {
		args := make([]any, len(row))
		copy(args, row)
		if _, err := stmt.Exec(args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("inserting table artifact row: %w", err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

func (s *Store) tableColumns(db *sql.DB) ([]ColumnInfo, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, fmt.Errorf("reading table artifact schema: %w", err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, ColumnInfo{Name: name, Type: colType})
	}
	return cols, rows.Err()
}

func clampLimit(limit int) int {
	if limit < minPageLimit {
		return minPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// ReadTablePage queries a paged, optionally sorted/filtered slice of a
// stored table artifact.
func (s *Store) ReadTablePage(cardID string, offset, limit int, sortCol string, sortAsc bool, search string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	offset = clampOffset(offset)

	path := s.tablePath(cardID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: no table artifact for card %s", ErrNotFound, cardID)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening table artifact: %w", err)
	}
	defer db.Close()

	cols, err := s.tableColumns(db)
	if err != nil {
		return nil, err
	}
	where := buildSearchWhere(search, cols)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", tableName, where)
	if err := db.QueryRow(countQuery).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting table artifact rows: %w", err)
	}

	query := fmt.Sprintf("SELECT * FROM %s%s", tableName, where)
	if sortCol != "" && hasColumn(cols, sortCol) {
		direction := "ASC"
		if !sortAsc {
			direction = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %q %s", sortCol, direction)
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying table artifact page: %w", err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var pageRows [][]any
	for rows.Next() {
		vals, err := scanRow(rows, len(colNames))
		if err != nil {
			return nil, err
		}
		pageRows = append(pageRows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{
		Columns:   colNames,
		Rows:      pageRows,
		TotalRows: total,
		Offset:    offset,
		Limit:     limit,
	}, nil
}

func hasColumn(cols []ColumnInfo, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	ptrs := make([]any, n)
	vals := make([]any, n)
	for i := range ptrs {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	return vals, nil
}

// TableStats computes per-column null count, approximate distinct count,
// min, max, and (numeric columns only) mean.
func (s *Store) TableStats(cardID string) (map[string]ColumnStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.tablePath(cardID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: no table artifact for card %s", ErrNotFound, cardID)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening table artifact: %w", err)
	}
	defer db.Close()

	cols, err := s.tableColumns(db)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]ColumnStats, len(cols))
	for _, col := range cols {
		numeric := isNumericSQLType(col.Type)
		aggs := []string{
			fmt.Sprintf("COUNT(*) - COUNT(%q)", col.Name),
			fmt.Sprintf("COUNT(DISTINCT %q)", col.Name),
			fmt.Sprintf("MIN(%q)", col.Name),
			fmt.Sprintf("MAX(%q)", col.Name),
		}
		if numeric {
			aggs = append(aggs, fmt.Sprintf("AVG(%q)", col.Name))
		}
		query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(aggs, ", "), tableName)

		var nullCount, approxUnique int64
		var min, max any
		var mean sql.NullFloat64
		scanArgs := []any{&nullCount, &approxUnique, &min, &max}
		if numeric {
			scanArgs = append(scanArgs, &mean)
		}
		if err := db.QueryRow(query).Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("computing stats for column %s: %w", col.Name, err)
		}
		if b, ok := min.([]byte); ok {
			min = string(b)
		}
		if b, ok := max.([]byte); ok {
			max = string(b)
		}
		cs := ColumnStats{NullCount: nullCount, ApproxUnique: approxUnique, Min: min, Max: max}
		if numeric && mean.Valid {
			cs.Mean = &mean.Float64
		}
		stats[col.Name] = cs
	}
	return stats, nil
}

// ExportTableCSV renders the full (optionally sorted/filtered) table as CSV,
// matching artifacts.py's export_table_csv.
func (s *Store) ExportTableCSV(cardID, sortCol string, sortAsc bool, search string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.tablePath(cardID)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: no table artifact for card %s", ErrNotFound, cardID)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("opening table artifact: %w", err)
	}
	defer db.Close()

	cols, err := s.tableColumns(db)
	if err != nil {
		return "", err
	}
	where := buildSearchWhere(search, cols)
	query := fmt.Sprintf("SELECT * FROM %s%s", tableName, where)
	if sortCol != "" && hasColumn(cols, sortCol) {
		direction := "ASC"
		if !sortAsc {
			direction = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %q %s", sortCol, direction)
	}

	rows, err := db.Query(query)
	if err != nil {
		return "", fmt.Errorf("querying table artifact for export: %w", err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(colNames); err != nil {
		return "", err
	}
	for rows.Next() {
		vals, err := scanRow(rows, len(colNames))
		if err != nil {
			return "", err
		}
		record := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				record[i] = ""
				continue
			}
			record[i] = fmt.Sprint(v)
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	w.Flush()
	return buf.String(), w.Error()
}
