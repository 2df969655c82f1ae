package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// SGR sequences used on terminals.
const (
	sgrReset = "\033[0m"
	sgrBold  = "\033[1m"
	sgrRed   = "\033[31m"
	sgrCyan  = "\033[36m"
	sgrGray  = "\033[90m"
)

// painter wraps text in SGR sequences when true.
type painter bool

func (p painter) paint(s string, sgr ...string) string {
	if !p || s == "" {
		return s
	}
	return strings.Join(sgr, "") + s + sgrReset
}

// Format returns the error as plain text for a terminal.
func (e *Error) Format() string {
	return e.render(false)
}

func (e *Error) render(p painter) string {
	var b strings.Builder

	title := "ERROR: "
	if e.Code != "" {
		title = "ERROR " + e.Code + ": "
	}
	fmt.Fprintf(&b, "\n%s%s\n\n", p.paint(title, sgrBold, sgrRed), p.paint(e.Message, sgrBold))

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s\n\n", p.paint(e.Location.String(), sgrCyan))
		if len(e.Context) > 0 {
			writeExcerpt(&b, p, e.Location, e.Context)
			b.WriteString("\n")
		}
	}

	detail := e.Detail
	if detail == "" && e.Wrapped != nil {
		detail = e.Wrapped.Error()
	}
	if lines := wrapText(detail, 70); len(lines) > 0 {
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}

	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", p.paint("Hint: ", sgrCyan), e.Suggestion)
	}
	return b.String()
}

// writeExcerpt prints the lines read by WithLocation, which are centered on
// loc.Line, and a caret under loc.Column.
func writeExcerpt(b *strings.Builder, p painter, loc *Location, lines []string) {
	first := max(loc.Line-len(lines)/2, 1)
	bar := p.paint(" │ ", sgrGray)
	for i, line := range lines {
		n := first + i
		marker := "    "
		if n == loc.Line {
			marker = "  " + p.paint("→ ", sgrRed)
		}
		fmt.Fprintf(b, "%s%4d%s%s\n", marker, n, bar, line)
		if n == loc.Line && loc.Column > 0 {
			fmt.Fprintf(b, "       %s%s%s\n",
				p.paint("│ ", sgrGray), strings.Repeat(" ", loc.Column-1), p.paint("^", sgrRed))
		}
	}
}

// FormatCompact returns the error on one line, prefixed by its location.
func (e *Error) FormatCompact() string {
	if e.Location == nil {
		return e.Error()
	}
	return e.Location.String() + ": " + e.Error()
}

// wrapText breaks text at spaces into lines of at most width bytes. A word
// longer than width gets a line of its own.
func wrapText(text string, width int) []string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= width:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// PrintError writes err to w, in color when w is a terminal and NO_COLOR is
// unset.
func PrintError(w io.Writer, err error) {
	e, ok := err.(*Error)
	if !ok {
		e = &Error{Message: err.Error()}
	}
	fmt.Fprint(w, e.render(painter(isTerminal(w))))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
