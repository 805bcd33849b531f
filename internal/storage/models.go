package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered (or failed) query, kept for auditing and
// feedback collection.
type Interaction struct {
	ID              string
	CreatedAt       time.Time
	UserID          string
	UserQuery       string
	SQLQuery        string
	Source          string // "cache", "fast_path", "llm"
	Status          string // "completed", "failed"
	ComplexityScore int
	RowCount        int
	DurationMs      int64
	FeedbackScore   int
	FeedbackNotes   string
}

// ResultSet is a column-ordered query result. Cell values are the driver
// types (int64, float64, string, nil) with []byte normalized to string.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Limit returns a copy of rs truncated to at most n rows. Non-positive n
// returns rs unchanged.
func (rs ResultSet) Limit(n int) ResultSet {
	if n <= 0 || len(rs.Rows) <= n {
		return rs
	}
	out := ResultSet{Columns: rs.Columns, Rows: make([][]any, n)}
	copy(out.Rows, rs.Rows[:n])
	return out
}
