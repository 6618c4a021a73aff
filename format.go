package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Timestamp layouts for status output. The year is dropped for the current year.
const (
	timeLayoutThisYear = "Jan _2 15:04"
	timeLayoutOlder    = "Jan _2  2006"
)

// columnGap separates table columns.
const columnGap = "  "

// Statusf writes a progress line to stderr unless --quiet is set. Command
// results go to cc.Out instead.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if cc.Flags.Quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// formatTime renders a token expiry or push time for status.
func formatTime(t time.Time) string {
	if t.Year() == time.Now().Year() {
		return t.Format(timeLayoutThisYear)
	}

	return t.Format(timeLayoutOlder)
}

// printTable writes headers and rows with every column padded to its widest
// cell. Rows must have as many cells as headers.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := columnWidths(headers, rows)

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	return widths
}

func printRow(w io.Writer, cells []string, widths []int) {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(padded, columnGap))
}
