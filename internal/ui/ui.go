// Package ui renders command output. Colour and borders are used only when
// the output is a terminal; piped output stays plain.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes styled output to one writer.
type Printer struct {
	w        io.Writer
	r        *lipgloss.Renderer
	terminal bool

	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// New returns a printer for w.
func New(w io.Writer) *Printer {
	tty := IsTerminal(w)
	r := lipgloss.NewRenderer(w)
	if !tty {
		r.SetColorProfile(termenv.Ascii)
	}
	return newPrinter(w, r, tty)
}

// Plain returns a printer that never styles its output.
func Plain(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.Ascii)
	return newPrinter(w, r, false)
}

func newPrinter(w io.Writer, r *lipgloss.Renderer, tty bool) *Printer {
	return &Printer{
		w:        w,
		r:        r,
		terminal: tty,
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#F25D94")),
		label:    r.NewStyle().Foreground(lipgloss.Color("#7D56F4")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("241")),
		success:  r.NewStyle().Foreground(lipgloss.Color("#04B575")),
		warning:  r.NewStyle().Foreground(lipgloss.Color("#FFB000")),
		failure:  r.NewStyle().Foreground(lipgloss.Color("#FF4672")).Bold(true),
		header:   r.NewStyle().Bold(true).Padding(0, 1),
		cell:     r.NewStyle().Padding(0, 1),
	}
}

// Terminal reports whether the printer writes to a terminal.
func (p *Printer) Terminal() bool {
	return p.terminal
}

// Title prints a heading.
func (p *Printer) Title(s string) {
	fmt.Fprintln(p.w, p.title.Render(s))
}

// Field prints an aligned "label: value" line.
func (p *Printer) Field(label string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.label.Render(fmt.Sprintf("%-14s", label+":")), value)
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.warning.Render("! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.w, p.failure.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Muted prints de-emphasised text.
func (p *Printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}

// State colours a sync state name.
func (p *Printer) State(state string) string {
	switch state {
	case "success":
		return p.success.Render(state)
	case "error":
		return p.failure.Render(state)
	case "syncing":
		return p.warning.Render(state)
	default:
		return p.muted.Render(state)
	}
}

// Table prints rows under headers. Terminals get a rounded border; other
// writers get tab-separated lines.
func (p *Printer) Table(headers []string, rows [][]string) {
	if !p.terminal {
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return p.cell
		})
	fmt.Fprintln(p.w, t.Render())
}
