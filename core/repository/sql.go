package repository

import "database/sql"

// MaxListLimit caps the rows any list query returns.
const MaxListLimit = 500

type rowScanner interface {
	Scan(dest ...any) error
}

// insert runs an INSERT and returns the new row id.
func insert(db *sql.DB, query string, args ...any) (int64, error) {
	result, err := db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// queryAll runs query and scans every row with scan.
func queryAll[T any](db *sql.DB, scan func(rowScanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// clampLimit bounds limit to 1..MaxListLimit, using fallback when unset.
func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		limit = fallback
	}
	return min(limit, MaxListLimit)
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deleteOlderThan(db *sql.DB, table, column string, days int) (int64, error) {
	query := `DELETE FROM ` + table + ` WHERE ` + column + ` < datetime('now', '-' || ? || ' days')`
	result, err := db.Exec(query, days)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
