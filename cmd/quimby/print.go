package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/cloudant/quimby/types"
)

// printer writes one line per row. Colors are only used on terminals
// unless forced.
type printer struct {
	w io.Writer

	seq     func(string, ...any) string
	id      func(string, ...any) string
	deleted func(string, ...any) string
	last    func(string, ...any) string
	note    func(string, ...any) string
}

func useColor(w io.Writer, mode string) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		f, ok := w.(*os.File)
		return ok && isatty.IsTerminal(f.Fd()), nil
	}
	return false, errors.Newf("invalid color mode %q", mode)
}

func newPrinter(w io.Writer, mode string) (*printer, error) {
	colored, err := useColor(w, mode)
	if err != nil {
		return nil, err
	}
	p := &printer{
		w:       w,
		seq:     fmt.Sprintf,
		id:      fmt.Sprintf,
		deleted: fmt.Sprintf,
		last:    fmt.Sprintf,
		note:    fmt.Sprintf,
	}
	if colored {
		p.seq = sprintf(color.FgYellow)
		p.id = sprintf(color.FgCyan, color.Bold)
		p.deleted = sprintf(color.FgRed)
		p.last = sprintf(color.FgGreen)
		p.note = sprintf(color.FgHiBlack)
	}
	return p, nil
}

func sprintf(attrs ...color.Attribute) func(string, ...any) string {
	c := color.New(attrs...)
	c.EnableColor()
	return c.SprintfFunc()
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (p *printer) event(event types.ChangeEvent) {
	if seq, ok := event.LastSeq(); ok {
		p.lastSeq(seq, nil)
		return
	}

	key := event.ID()
	if key == "" {
		key = event.DBName()
	}
	line := p.seq("%s", compact(event.Seq())) + " " + p.id("%s", key)
	if event.Deleted() {
		line += " " + p.deleted("deleted")
	}
	fmt.Fprintf(p.w, "%s %s\n", line, compact(map[string]any(event)))
}

func (p *printer) checkpoint(cp *types.Checkpoint) {
	if cp == nil {
		return
	}
	p.lastSeq(cp.LastSeq, cp.Pending)
}

func (p *printer) lastSeq(seq any, pending *int64) {
	line := p.last("last_seq %s", compact(seq))
	if pending != nil {
		line += p.note(" pending %d", *pending)
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) notef(format string, args ...any) {
	fmt.Fprintln(p.w, p.note(format, args...))
}

func (p *printer) row(row types.Row) {
	fmt.Fprintf(p.w, "%s %s\n", p.id("%s", compact(row["key"])), compact(map[string]any(row)))
}

func (p *printer) key(key string) {
	fmt.Fprintln(p.w, p.id("%s", key))
}
