package agent

import (
	"fmt"
	"strings"

	"github.com/perebor/askdb/internal/storage"
)

// maxPromptSampleRows bounds how much sampled data is rendered into the
// prompt regardless of the sampling plan.
const maxPromptSampleRows = 30

const sqlSystemPrompt = `You translate natural-language data questions into SQLite SQL.

Rules:
- Respond with exactly one SELECT statement and nothing else.
- Never use UNION, INSERT, UPDATE, DELETE, DROP, or PRAGMA.
- Use only tables and columns from the schema below.
- Prefer explicit column lists over SELECT * when aggregating.
- Use standard SQLite functions only.

%s

Sample rows from the data (for value formats, not exhaustive):
%s`

func buildSQLPrompt(schema string, sampled storage.ResultSet) string {
	return fmt.Sprintf(sqlSystemPrompt, schema, renderSample(sampled))
}

// renderSample formats sampled rows as a compact pipe-separated table.
func renderSample(rs storage.ResultSet) string {
	if len(rs.Columns) == 0 {
		return "(no sample available)"
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(rs.Columns, " | "))
	sb.WriteString("\n")

	n := len(rs.Rows)
	if n > maxPromptSampleRows {
		n = maxPromptSampleRows
	}
	for _, row := range rs.Rows[:n] {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
	if len(rs.Rows) > n {
		fmt.Fprintf(&sb, "... (%d more sampled rows omitted)\n", len(rs.Rows)-n)
	}
	return sb.String()
}

// cleanSQL strips the decoration LLMs wrap around SQL: code fences, a
// leading "SQL:" label, and any prose after the statement's semicolon.
func cleanSQL(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "sql")
		s = strings.TrimPrefix(s, "sqlite")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "SQL:") {
		s = strings.TrimSpace(s[4:])
	}

	// Keep only the first statement; drop trailing prose after it.
	if idx := strings.Index(s, ";"); idx >= 0 {
		s = s[:idx]
	}

	// Some replies lead with prose before the statement itself.
	if idx := indexFold(s, "SELECT"); idx > 0 && !strings.HasPrefix(strings.ToUpper(s), "WITH") {
		s = s[idx:]
	}

	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ""
	}
	return s
}

// indexFold is a case-insensitive strings.Index.
func indexFold(s, substr string) int {
	return strings.Index(strings.ToUpper(s), strings.ToUpper(substr))
}
