package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// defaultPreviewRows is how many rows a bare "show ..." request returns.
const defaultPreviewRows = 10

var (
	topNPattern    = regexp.MustCompile(`top\s+(\d+)\s+([a-z_]+)(?:\s+by\s+([a-z_]+))?`)
	columnSafe     = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	numericMetrics = map[string]bool{"sales": true, "profit": true, "quantity": true, "discount": true}
)

// buildFastSQL turns a triaged retrieval request into SQL without an LLM
// round-trip. It returns ok=false when the request does not fit a known
// template; the caller then falls back to the LLM path. The generated SQL
// still goes through the read-only executor, so a bad column guess fails
// there and falls back the same way.
func buildFastSQL(text, table string) (sql string, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	if strings.HasPrefix(normalized, "count") || strings.HasPrefix(normalized, "how many") {
		return fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", table), true
	}

	if m := topNPattern.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || n > 1000 {
			return "", false
		}
		group := singular(m[2])
		if !columnSafe.MatchString(group) {
			return "", false
		}
		metric := singular(m[3])
		if metric == "" || !numericMetrics[metric] {
			// "top N customers" without a metric: rank by row frequency.
			return fmt.Sprintf(
				"SELECT %s, COUNT(*) AS count FROM %s GROUP BY %s ORDER BY count DESC LIMIT %d",
				group, table, group, n), true
		}
		return fmt.Sprintf(
			"SELECT %s, SUM(%s) AS total_%s FROM %s GROUP BY %s ORDER BY total_%s DESC LIMIT %d",
			group, metric, metric, table, group, metric, n), true
	}

	// Plain preview: "show orders", "list the data", "display rows".
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, defaultPreviewRows), true
}

// singular strips a trailing plural "s" so "regions" matches the region
// column. Columns that legitimately end in "s" (sales) are kept.
func singular(word string) string {
	if word == "" {
		return ""
	}
	if numericMetrics[word] || !strings.HasSuffix(word, "s") {
		return word
	}
	return strings.TrimSuffix(word, "s")
}
