// Package tablewriter prints rows as aligned columns. Cells may carry ANSI
// color codes and wide runes; widths are measured in terminal columns.
package tablewriter

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Style selects how a table is drawn.
type Style int

const (
	// StylePlain separates columns with spaces and draws no borders.
	StylePlain Style = iota
	// StyleBoxed draws ASCII borders around every cell.
	StyleBoxed
)

const plainGap = "  "

// Writer buffers a table and prints it on Render.
type Writer struct {
	out     io.Writer
	style   Style
	headers []string
	rows    [][]string
	widths  []int
	header  func(string) string
}

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// DisplayWidth returns the number of terminal columns s occupies.
func DisplayWidth(s string) int {
	return runewidth.StringWidth(StripANSI(s))
}

// NewWriter creates a table writer.
func NewWriter(w io.Writer, style Style) *Writer {
	return &Writer{out: w, style: style}
}

// SetHeader sets the column titles. The header fixes the column count;
// extra cells in later rows are dropped.
func (t *Writer) SetHeader(headers ...string) {
	t.headers = headers
	t.fit(headers)
}

// SetHeaderFormatter styles header cells at render time, after widths are
// computed.
func (t *Writer) SetHeaderFormatter(fn func(string) string) {
	t.header = fn
}

// Append adds a row.
func (t *Writer) Append(cells ...string) {
	if n := len(t.headers); n > 0 && len(cells) > n {
		cells = cells[:n]
	}
	t.rows = append(t.rows, cells)
	t.fit(cells)
}

// Len returns the number of rows appended.
func (t *Writer) Len() int {
	return len(t.rows)
}

func (t *Writer) fit(cells []string) {
	for i, c := range cells {
		if i >= len(t.widths) {
			t.widths = append(t.widths, 0)
		}
		if w := DisplayWidth(c); w > t.widths[i] {
			t.widths[i] = w
		}
	}
}

// Render writes the table. Nothing is written for an empty table.
func (t *Writer) Render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}
	if t.style == StyleBoxed {
		t.border()
	}
	if len(t.headers) > 0 {
		t.row(t.headers, t.header)
		if t.style == StyleBoxed {
			t.border()
		}
	}
	for _, r := range t.rows {
		t.row(r, nil)
	}
	if t.style == StyleBoxed {
		t.border()
	}
}

func (t *Writer) border() {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range t.widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("+")
	}
	fmt.Fprintln(t.out, b.String())
}

func (t *Writer) row(cells []string, format func(string) string) {
	var b strings.Builder
	if t.style == StyleBoxed {
		b.WriteString("|")
	}
	last := len(t.widths) - 1
	for i, w := range t.widths {
		c := ""
		if i < len(cells) {
			c = cells[i]
		}
		pad := strings.Repeat(" ", w-DisplayWidth(c))
		if format != nil {
			c = format(c)
		}
		switch {
		case t.style == StyleBoxed:
			b.WriteString(" " + c + pad + " |")
		case i == last:
			b.WriteString(c)
		default:
			b.WriteString(c + pad + plainGap)
		}
	}
	fmt.Fprintln(t.out, b.String())
}
