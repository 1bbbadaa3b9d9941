package artifact

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	sqlKeywordRe  = regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|CREATE|EXEC|UNION)\b`)
	allowedCharRe = regexp.MustCompile(`^[\w\s.,\-:/'"()]+$`)
)

// sanitizeSearch rejects inputs containing SQL keywords, comment syntax, or
// statement terminators, and otherwise restricts the character set, matching
// artifacts.py's _sanitize_search. Returns ("", false) for anything rejected
// or blank — a rejected search yields an unfiltered query, not an error.
func sanitizeSearch(search string) (string, bool) {
	s := strings.TrimSpace(search)
	if s == "" {
		return "", false
	}
	if sqlKeywordRe.MatchString(s) {
		return "", false
	}
	if strings.Contains(s, "--") || strings.Contains(s, ";") {
		return "", false
	}
	if !allowedCharRe.MatchString(s) {
		return "", false
	}
	return s, true
}

// buildSearchWhere builds a " WHERE ..." clause (or "" if search is rejected
// or blank) that matches search as a case-insensitive substring across every
// column, non-text columns cast to text. SQLite's LIKE operator is already
// ASCII case-insensitive, which is the direct substitute for the ILIKE
// clause artifacts.py builds against DuckDB.
func buildSearchWhere(search string, cols []ColumnInfo) string {
	sanitized, ok := sanitizeSearch(search)
	if !ok {
		return ""
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(sanitized)
	escaped = strings.ReplaceAll(escaped, "'", "''")

	clauses := make([]string, 0, len(cols))
	for _, col := range cols {
		upper := strings.ToUpper(col.Type)
		isText := strings.Contains(upper, "VARCHAR") || strings.Contains(upper, "UTF8") ||
			strings.Contains(upper, "STRING") || strings.Contains(upper, "TEXT") || upper == ""
		if isText {
			clauses = append(clauses, fmt.Sprintf(`%q LIKE '%%%s%%' ESCAPE '\'`, col.Name, escaped))
		} else {
			clauses = append(clauses, fmt.Sprintf(`CAST(%q AS TEXT) LIKE '%%%s%%' ESCAPE '\'`, col.Name, escaped))
		}
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " OR ")
}
