package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/probe"
	"github.com/JakeFAU/shadowprobe/internal/report"
)

// Printer writes human-readable run output.
type Printer struct {
	w       io.Writer
	noColor bool
}

// NewPrinter builds a Printer. Colors are also suppressed when w is not a
// terminal.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	return &Printer{w: w, noColor: noColor}
}

// Report prints the summary line followed by one line per result.
func (p *Printer) Report(rep report.Report) {
	p.Summary(rep)
	for _, res := range rep.Results {
		p.Result(res)
	}
}

// Summary prints "<N> sites checked in <s>s".
func (p *Printer) Summary(rep report.Report) {
	fmt.Fprintf(p.w, "%d sites checked in %.2fs\n", rep.CheckedCount, rep.ElapsedSeconds)
}

// Result prints "site | FOUND/not | status | reason | url".
func (p *Printer) Result(res probe.Result) {
	state := "not"
	if res.Found {
		state = "FOUND"
	}
	status := res.StatusText()
	if status == "" {
		status = "-"
	}
	reason := res.ReasonText()
	if reason == "" {
		reason = "-"
	}
	if p.noColor {
		fmt.Fprintf(p.w, "%s | %s | %s | %s | %s\n", res.Site, state, status, reason, res.URL)
		return
	}
	if res.Found {
		state = color.HiGreenString(state)
	} else {
		state = color.HiRedString(state)
	}
	fmt.Fprintf(p.w, "%s | %s | %s | %s | %s\n",
		color.HiWhiteString(res.Site), state, status, color.HiYellowString(reason), res.URL)
}

// Sites prints one catalog entry per line.
func (p *Printer) Sites(sites catalog.Catalog) {
	for _, site := range sites {
		name := site.Name
		if !p.noColor {
			name = color.HiWhiteString(name)
		}
		fmt.Fprintf(p.w, "%s\t%s\n", name, site.URLTemplate)
	}
}
