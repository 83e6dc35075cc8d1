package verify

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/pmezard/go-difflib/difflib"
)

const noNewline = "\\ No newline at end of output"

// Diff renders a line diff of actual against expected. Lines only in actual are
// prefixed "-", lines only in expected "+", shared lines " ". With color, removals
// are red and insertions green.
func Diff(actual, expected string, color bool) string {
	a := splitLines(actual)
	b := splitLines(expected)

	p := newPainter(color)
	var sb strings.Builder
	m := difflib.NewMatcher(a, b)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			p.lines(&sb, ' ', a[op.I1:op.I2])
		case 'd':
			p.lines(&sb, '-', a[op.I1:op.I2])
		case 'i':
			p.lines(&sb, '+', b[op.J1:op.J2])
		case 'r':
			p.lines(&sb, '-', a[op.I1:op.I2])
			p.lines(&sb, '+', b[op.J1:op.J2])
		}
	}
	return sb.String()
}

// splitLines keeps line terminators so a missing final newline shows up in the diff.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type painter struct {
	color bool
	del   lipgloss.Style
	ins   lipgloss.Style
}

func newPainter(color bool) painter {
	p := painter{color: color}
	if !color {
		return p
	}
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.ANSI)
	p.del = r.NewStyle().Foreground(lipgloss.Color("1")).TabWidth(lipgloss.NoTabConversion)
	p.ins = r.NewStyle().Foreground(lipgloss.Color("2")).TabWidth(lipgloss.NoTabConversion)
	return p
}

func (p painter) lines(sb *strings.Builder, sign byte, lines []string) {
	for _, l := range lines {
		text := string(sign) + strings.TrimSuffix(l, "\n")
		if p.color {
			switch sign {
			case '-':
				text = p.del.Render(text)
			case '+':
				text = p.ins.Render(text)
			}
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
		if !strings.HasSuffix(l, "\n") {
			sb.WriteString(noNewline)
			sb.WriteByte('\n')
		}
	}
}
