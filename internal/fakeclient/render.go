package fakeclient

import (
	"fmt"
	"strconv"
	"strings"
)

// renderAligned prints rows the way the client's default aligned output does:
// centered headers, right-aligned integers, a row-count footer and a blank line.
func renderAligned(cols []string, rows []Row) string {
	widths := make([]int, len(cols))
	cells := make([][]string, len(rows))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(cols))
		for i := range cols {
			v := strconv.FormatInt(row[i], 10)
			cells[r][i] = v
			if len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}

	var sb strings.Builder
	for i, c := range cols {
		if i > 0 {
			sb.WriteByte('|')
		}
		left := (widths[i] - len(c)) / 2
		right := widths[i] - len(c) - left
		sb.WriteString(" " + strings.Repeat(" ", left) + c + strings.Repeat(" ", right) + " ")
	}
	sb.WriteByte('\n')
	for i := range cols {
		if i > 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(strings.Repeat("-", widths[i]+2))
	}
	sb.WriteByte('\n')
	for _, row := range cells {
		for i, v := range row {
			if i > 0 {
				sb.WriteByte('|')
			}
			sb.WriteString(" " + strings.Repeat(" ", widths[i]-len(v)) + v)
			if i < len(row)-1 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	if len(rows) == 1 {
		sb.WriteString("(1 row)\n\n")
	} else {
		fmt.Fprintf(&sb, "(%d rows)\n\n", len(rows))
	}
	return sb.String()
}
