package control

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const barWidth = 50

// Printer renders the textual progress line. On a terminal the line is
// redrawn in place; elsewhere every update gets its own line.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	tty  bool
	last string
}

func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

// Line formats pct as "progress: |=====-----| 42.5%".
func Line(pct float64) string {
	pct = max(0, min(pct, 100))
	filled := int(pct / 100 * barWidth)
	return fmt.Sprintf("progress: |%s%s| %.1f%%",
		strings.Repeat("=", filled), strings.Repeat("-", barWidth-filled), pct)
}

// Print writes the line for p unless it matches the previous one.
func (p *Printer) Print(pr Progress) {
	line := Line(pr.Percent())
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	if p.tty {
		fmt.Fprint(p.w, "\r"+line)
		return
	}
	fmt.Fprintln(p.w, line)
}

// Done terminates a redrawn line.
func (p *Printer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.last != "" {
		fmt.Fprintln(p.w)
	}
}
