package agent

import (
	"strings"
	"testing"

	"github.com/perebor/askdb/internal/storage"
)

func TestCleanSQL(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"SELECT * FROM orders", "SELECT * FROM orders"},
		{"SELECT * FROM orders;", "SELECT * FROM orders"},
		{"```sql\nSELECT * FROM orders\n```", "SELECT * FROM orders"},
		{"```sqlite\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1;\n```\nThis query counts rows.", "SELECT 1"},
		{"SQL: SELECT * FROM orders", "SELECT * FROM orders"},
		{"sql: select region from orders", "select region from orders"},
		{"Here is the query: SELECT region FROM orders", "SELECT region FROM orders"},
		{"SELECT 1; DROP TABLE orders", "SELECT 1"},
		{"WITH r AS (SELECT 1) SELECT * FROM r", "WITH r AS (SELECT 1) SELECT * FROM r"},
		{"", ""},
		{"I cannot answer that.", ""},
	}

	for _, tc := range cases {
		if got := cleanSQL(tc.raw); got != tc.want {
			t.Errorf("cleanSQL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestRenderSample(t *testing.T) {
	rs := storage.ResultSet{
		Columns: []string{"region", "sales"},
		Rows:    [][]any{{"West", 100.5}, {"East", nil}},
	}

	out := renderSample(rs)
	if !strings.HasPrefix(out, "region | sales\n") {
		t.Errorf("header missing:\n%s", out)
	}
	if !strings.Contains(out, "West | 100.5") {
		t.Errorf("row missing:\n%s", out)
	}
	if !strings.Contains(out, "East | NULL") {
		t.Errorf("nil cell not rendered as NULL:\n%s", out)
	}
}

func TestRenderSampleTruncates(t *testing.T) {
	rs := storage.ResultSet{Columns: []string{"n"}}
	for i := range 50 {
		rs.Rows = append(rs.Rows, []any{i})
	}

	out := renderSample(rs)
	if !strings.Contains(out, "(20 more sampled rows omitted)") {
		t.Errorf("truncation note missing:\n%s", out)
	}
	if got := strings.Count(out, "\n"); got != maxPromptSampleRows+2 {
		t.Errorf("line count = %d, want header plus %d rows plus note", got, maxPromptSampleRows)
	}
}

func TestRenderSampleEmpty(t *testing.T) {
	if got := renderSample(storage.ResultSet{}); got != "(no sample available)" {
		t.Errorf("got %q", got)
	}
}

func TestBuildSQLPrompt(t *testing.T) {
	prompt := buildSQLPrompt("Table: orders", storage.ResultSet{Columns: []string{"region"}, Rows: [][]any{{"West"}}})

	for _, want := range []string{"exactly one SELECT", "Table: orders", "region\nWest"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
