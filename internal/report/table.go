// Package report renders collection summaries as aligned text tables.
package report

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Alignment of a table column.
type Alignment int

// Column alignments.
const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table is a header row plus body rows rendered as a pipe table.
type Table struct {
	Headers []string
	Align   []Alignment
	Rows    [][]string
}

// AddRow appends a body row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Lines renders the table with columns padded to their display width, so
// wide runes in recipient names keep the pipes aligned.
func (t *Table) Lines() []string {
	colCount := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	if colCount == 0 {
		return nil
	}

	colWidths := make([]int, colCount)

	for _, row := range append([][]string{t.Headers}, t.Rows...) {
		for i := 0; i < len(row); i++ {
			if w := runewidth.StringWidth(row[i]); w > colWidths[i] {
				colWidths[i] = w
			}
		}
	}

	// Minimum separator width.
	for i := range colWidths {
		if colWidths[i] < 3 {
			colWidths[i] = 3
		}
	}

	result := make([]string, 0, len(t.Rows)+2)
	result = append(result, t.line(t.Headers, colWidths, false))
	result = append(result, t.line(nil, colWidths, true))

	for _, row := range t.Rows {
		result = append(result, t.line(row, colWidths, false))
	}

	return result
}

// String renders the table as one block.
func (t *Table) String() string {
	return strings.Join(t.Lines(), "\n")
}

func (t *Table) line(row []string, colWidths []int, separator bool) string {
	var sb strings.Builder

	sb.WriteString("|")

	for j, width := range colWidths {
		sb.WriteString(" ")

		if separator {
			sb.WriteString(strings.Repeat("-", width))
			sb.WriteString(" |")

			continue
		}

		content := ""
		if j < len(row) {
			content = row[j]
		}

		padding := strings.Repeat(" ", max(width-runewidth.StringWidth(content), 0))

		if j < len(t.Align) && t.Align[j] == AlignRight {
			sb.WriteString(padding + content)
		} else {
			sb.WriteString(content + padding)
		}

		sb.WriteString(" |")
	}

	return sb.String()
}
