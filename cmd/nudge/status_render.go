package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// tone picks the color of a status line.
type tone int

const (
	toneNeutral tone = iota
	toneGood
	toneWarn
	toneBad
)

var toneColors = map[tone]string{
	toneGood: "\x1b[32m",
	toneWarn: "\x1b[33m",
	toneBad:  "\x1b[31m",
}

const (
	colorHeader = "\x1b[34m"
	colorReset  = "\x1b[0m"
	labelWidth  = 16
)

// statusPrinter writes "== Section ==" headers and aligned "label: value"
// lines, colored only when out is a terminal.
type statusPrinter struct {
	out   io.Writer
	color bool
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, color: isTerminal(out)}
}

func (p *statusPrinter) section(title string) {
	header := "== " + title + " =="
	if p.color {
		header = colorHeader + header + colorReset
	}
	fmt.Fprintln(p.out, header)
}

func (p *statusPrinter) line(label string, t tone, value string) {
	fmt.Fprintln(p.out, p.format(label, t, value))
}

func (p *statusPrinter) linef(label string, t tone, format string, args ...any) {
	p.line(label, t, fmt.Sprintf(format, args...))
}

func (p *statusPrinter) format(label string, t tone, value string) string {
	text := fmt.Sprintf("  %-*s %s", labelWidth, label+":", value)
	if c, ok := toneColors[t]; ok && p.color {
		return c + text + colorReset
	}
	return text
}

func (p *statusPrinter) gap() { fmt.Fprintln(p.out) }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// stateTone colors active sessions and unlocked screens green and their
// opposites yellow.
func stateTone(state string) tone {
	switch state {
	case "active", "unlocked":
		return toneGood
	case "inactive", "locked":
		return toneWarn
	}
	return toneNeutral
}

// stateLabel turns "unlocked" into "Unlocked".
func stateLabel(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return "Unknown"
	}
	return cases.Title(language.Und).String(state)
}
