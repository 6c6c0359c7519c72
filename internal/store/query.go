package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/bookinsight/internal/index"
)

// DefaultQueryRowLimit caps the rows returned by ReadOnlyQuery.
const DefaultQueryRowLimit = 50

// ErrNotReadOnly is returned for statements other than a single SELECT or
// WITH query.
var ErrNotReadOnly = errors.New("store: only a single SELECT or WITH statement is allowed")

// ValidateReadOnly checks that query is a single SELECT or WITH statement and
// returns it without a trailing semicolon.
func ValidateReadOnly(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" || strings.Contains(q, ";") {
		return "", ErrNotReadOnly
	}
	fields := strings.Fields(q)
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return q, nil
	default:
		return "", ErrNotReadOnly
	}
}

// ReadOnlyQuery runs a validated SELECT against the database with SQLite's
// query_only pragma enabled, returning at most limit rows (limit <= 0 uses
// DefaultQueryRowLimit).
func (s *SQLiteStore) ReadOnlyQuery(ctx context.Context, query string, limit int) ([]index.Record, error) {
	q, err := ValidateReadOnly(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryRowLimit
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: query: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		return nil, fmt.Errorf("store: query: enable query_only: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), `PRAGMA query_only = OFF`) }()

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	records, err := scanRecords(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	if records == nil {
		records = []index.Record{}
	}
	return records, nil
}

// Schema returns the CREATE statement of the books table, for prompting
// text-to-SQL models.
func (s *SQLiteStore) Schema(ctx context.Context) (string, error) {
	var ddl string
	err := s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'books'`).Scan(&ddl)
	if err != nil {
		return "", fmt.Errorf("store: schema: %w", err)
	}
	return ddl, nil
}
