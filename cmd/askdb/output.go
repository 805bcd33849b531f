package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/perebor/askdb/internal/agent"
	"github.com/perebor/askdb/internal/storage"
)

// ANSI escapes for terminal output. colorize is a no-op under --no-color.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// printMark writes one marked status line to stderr.
func printMark(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printMark(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { printMark(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { printMark(colorYellow, "⚠", format, args...) }

func printStep(format string, args ...any) { printMark(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// printResult renders a query answer: the SQL, the rows, and the optional
// explanation go to stdout; the source and timing footer goes to stderr
// so piped output stays clean.
func printResult(res agent.Result) {
	fmt.Printf("%s %s\n", colorize(colorBold, "SQL:"), res.SQLQuery)

	printTable(res.Data)
	if res.Truncated {
		fmt.Printf("(showing %d of %d rows)\n", len(res.Data.Rows), res.RowCount)
	}

	if res.Explanation != nil {
		fmt.Printf("\n%s\n%s\n", colorize(colorBold, "Explanation:"), res.Explanation.Text)
		if len(res.Explanation.Concepts) > 0 {
			fmt.Printf("%s %s\n", colorize(colorBold, "Concepts:"), strings.Join(res.Explanation.Concepts, ", "))
		}
	}

	source := res.Source
	if res.CacheHit {
		source += " (cached)"
	}
	fmt.Fprintf(os.Stderr, "\n%s\n", colorize(colorCyan, fmt.Sprintf("source=%s complexity=%d duration=%dms", source, res.ComplexityScore, res.DurationMs)))
}

// printTable writes a result set as pipe-separated lines.
func printTable(rs storage.ResultSet) {
	if len(rs.Columns) == 0 {
		fmt.Println("(no results)")
		return
	}
	fmt.Println(strings.Join(rs.Columns, " | "))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = renderCell(v)
		}
		fmt.Println(strings.Join(cells, " | "))
	}
}

func renderCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// shortID abbreviates a server-issued id for list display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
