package storage

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/perebor/askdb/internal/sample"
)

// ErrNotReadOnly is returned when a statement other than a single SELECT
// (or WITH ... SELECT) is handed to ExecuteReadOnly.
var ErrNotReadOnly = errors.New("only read-only SELECT statements are allowed")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// TableNames lists the user tables in the database, excluding internal
// bookkeeping tables.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT IN ('schema_version', 'interactions', 'user_profiles')
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RowCount returns the number of rows in table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

// SampleRows reads the rows selected by plan using stride sampling over
// rowid. The selection is deterministic for a given plan, so repeated
// reads within one cache window return the same rows.
func (s *Store) SampleRows(ctx context.Context, table string, plan sample.Plan) (ResultSet, error) {
	if err := validIdent(table); err != nil {
		return ResultSet{}, err
	}
	if plan.Rows <= 0 {
		return ResultSet{}, nil
	}

	var rows *sql.Rows
	var err error
	if plan.Full() {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM %s ORDER BY rowid LIMIT ?", table), plan.Rows)
	} else {
		stride := plan.RowCount / plan.Rows
		if stride < 1 {
			stride = 1
		}
		offset := int64(plan.SelectionKey % uint64(stride))
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM %s WHERE (rowid - 1) %% ? = ? ORDER BY rowid LIMIT ?", table),
			stride, offset, plan.Rows)
	}
	if err != nil {
		return ResultSet{}, fmt.Errorf("sampling %s: %w", table, err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// ExecuteReadOnly runs a single SELECT statement and collects the result.
// Anything that is not a SELECT (or a WITH-prefixed SELECT) is rejected.
func (s *Store) ExecuteReadOnly(ctx context.Context, query string) (ResultSet, error) {
	if !isReadOnly(query) {
		return ResultSet{}, ErrNotReadOnly
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return ResultSet{}, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

func isReadOnly(query string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if strings.ContainsRune(trimmed, ';') {
		return false
	}
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func collectRows(rows *sql.Rows) (ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}

	rs := ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}

// SchemaContext renders the database schema with per-table row counts as
// prose suitable for an LLM system prompt.
func (s *Store) SchemaContext(ctx context.Context) (string, error) {
	tables, err := s.TableNames(ctx)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("no dataset tables found")
	}

	var sb strings.Builder
	sb.WriteString("SQLite database schema:\n")

	for _, table := range tables {
		fmt.Fprintf(&sb, "\nTable: %s\n", table)

		cols, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return "", fmt.Errorf("reading columns of %s: %w", table, err)
		}
		for cols.Next() {
			var cid int
			var name, ctype string
			var notNull, pk int
			var dflt sql.NullString
			if err := cols.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
				cols.Close()
				return "", err
			}
			fmt.Fprintf(&sb, "  - %s (%s)", name, strings.ToLower(ctype))
			if notNull == 1 {
				sb.WriteString(" NOT NULL")
			}
			if pk == 1 {
				sb.WriteString(" PRIMARY KEY")
			}
			sb.WriteString("\n")
		}
		if err := cols.Err(); err != nil {
			cols.Close()
			return "", err
		}
		cols.Close()

		count, err := s.RowCount(ctx, table)
		if err != nil {
			fmt.Fprintf(&sb, "  Total rows: unknown\n")
			continue
		}
		fmt.Fprintf(&sb, "  Total rows: %d\n", count)
	}

	return sb.String(), nil
}

// FallbackSchema describes the expected superstore dataset when the
// database cannot be introspected.
const FallbackSchema = `SQLite database schema (fallback - superstore sample):

Table: orders
  - row_id (integer) PRIMARY KEY
  - order_id (text)
  - order_date (text)
  - ship_date (text)
  - ship_mode (text)
  - customer_id (text)
  - customer_name (text)
  - segment (text)
  - country (text)
  - city (text)
  - state (text)
  - postal_code (text)
  - region (text)
  - product_id (text)
  - category (text)
  - sub_category (text)
  - product_name (text)
  - sales (real)
  - quantity (integer)
  - discount (real)
  - profit (real)
  Total rows: ~10000

This is a retail/superstore dataset with order, customer, and sales data.`

// ordersColumns is the canonical column order of the orders table,
// matching the superstore CSV export header.
var ordersColumns = []string{
	"row_id", "order_id", "order_date", "ship_date", "ship_mode",
	"customer_id", "customer_name", "segment", "country", "city",
	"state", "postal_code", "region", "product_id", "category",
	"sub_category", "product_name", "sales", "quantity", "discount", "profit",
}

// LoadOrdersCSV bulk-loads the superstore orders CSV into the orders
// table. The header row must carry the canonical column names (case and
// spacing insensitive). Returns the number of rows inserted.
func (s *Store) LoadOrdersCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("reading csv header: %w", err)
	}

	// Map canonical column -> csv field index.
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[normalizeHeader(h)] = i
	}
	for _, col := range ordersColumns {
		if _, ok := index[col]; !ok {
			return 0, fmt.Errorf("csv missing column %q", col)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat(",?", len(ordersColumns)-1)
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO orders (%s) VALUES (?%s)",
		strings.Join(ordersColumns, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading csv row %d: %w", inserted+2, err)
		}

		args := make([]any, len(ordersColumns))
		for i, col := range ordersColumns {
			args[i] = record[index[col]]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("inserting csv row %d: %w", inserted+2, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing load: %w", err)
	}
	return inserted, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}
