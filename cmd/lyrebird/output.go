package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// printer writes human-readable command output. Colors are only used when
// the destination is a terminal and NO_COLOR is unset.
type printer struct {
	w     io.Writer
	title *color.Color
	good  *color.Color
	warn  *color.Color
	dim   *color.Color
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:     w,
		title: color.New(color.FgCyan, color.Bold),
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		dim:   color.New(color.Faint),
	}
	if !useColor(w) {
		for _, c := range []*color.Color{p.title, p.good, p.warn, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) Section(format string, a ...any) {
	p.title.Fprintf(p.w, format+"\n", a...)
}

func (p *printer) Success(format string, a ...any) {
	p.good.Fprintf(p.w, "✓ "+format+"\n", a...)
}

func (p *printer) Warning(format string, a ...any) {
	p.warn.Fprintf(p.w, "! "+format+"\n", a...)
}

func (p *printer) Info(format string, a ...any) {
	fmt.Fprintf(p.w, format+"\n", a...)
}

func (p *printer) Detail(format string, a ...any) {
	p.dim.Fprintf(p.w, "  "+format+"\n", a...)
}
