package couch

import (
	"io"
	"strings"
	"sync"

	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/types"
)

// ViewIterator streams the rows of a view response. The server writes
// the header up to "rows":[ on the first line, one row per line, and
// "]}" on the last.
type ViewIterator struct {
	TotalRows *int64
	Offset    *int64
	UpdateSeq any

	mu      sync.Mutex
	lines   *feed.LineReader
	lineNo  int
	pending []types.Row
	done    bool
	err     error
	rows    []types.Row
	read    bool
}

// NewViewIterator reads the header of body and returns an iterator over
// its rows. The iterator owns body.
func NewViewIterator(body io.ReadCloser) (*ViewIterator, error) {
	v := &ViewIterator{lines: feed.NewLineReader(body)}
	if err := v.readHeader(); err != nil {
		v.lines.Close()
		return nil, err
	}
	return v, nil
}

func (v *ViewIterator) nextLine() (string, error) {
	for {
		line, err := v.lines.NextLine()
		if err != nil {
			return "", err
		}
		v.lineNo++
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

func (v *ViewIterator) framingError(line, detail string) error {
	return &feed.Error{Err: feed.ErrInvalidFraming, Line: v.lineNo, Text: line, Detail: detail}
}

func (v *ViewIterator) readHeader() error {
	line, err := v.nextLine()
	if err == io.EOF {
		return &feed.Error{Err: feed.ErrInvalidFraming, Detail: "empty view response"}
	}
	if err != nil {
		return err
	}

	var complete bool
	text := line
	switch {
	case strings.HasSuffix(line, "]}"):
		complete = true
	case strings.HasSuffix(line, "["):
		text = line + "]}"
	default:
		return v.framingError(line, `expected a header ending in "["`)
	}

	header, err := feed.DecodeObject(text)
	if err != nil {
		return v.framingError(line, err.Error())
	}
	rows, ok := header["rows"].([]any)
	if !ok {
		return v.framingError(line, "header has no rows")
	}

	if n, ok := header["total_rows"].(int64); ok {
		v.TotalRows = &n
	}
	if n, ok := header["offset"].(int64); ok {
		v.Offset = &n
	}
	v.UpdateSeq = header["update_seq"]

	if complete {
		for _, r := range rows {
			row, ok := r.(map[string]any)
			if !ok {
				return v.framingError(line, "row is not an object")
			}
			v.pending = append(v.pending, row)
		}
		v.done = true
		v.lines.Close()
	}
	return nil
}

// Next returns the next row, or io.EOF after the last one.
func (v *ViewIterator) Next() (types.Row, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.next()
}

func (v *ViewIterator) next() (types.Row, error) {
	if len(v.pending) > 0 {
		row := v.pending[0]
		v.pending = v.pending[1:]
		return row, nil
	}
	if v.err != nil {
		return nil, v.err
	}
	if v.done {
		return nil, io.EOF
	}

	line, err := v.nextLine()
	if err == io.EOF {
		return nil, v.fail(&feed.Error{Err: feed.ErrInvalidFraming, Detail: `view ended before "]}"`})
	}
	if err != nil {
		return nil, v.fail(err)
	}
	if line == "]}" {
		v.done = true
		v.lines.Close()
		return nil, io.EOF
	}

	row, err := feed.DecodeObject(strings.TrimSuffix(line, ","))
	if err != nil {
		return nil, v.fail(&feed.Error{Err: feed.ErrMalformedRecord, Line: v.lineNo, Text: line, Detail: err.Error()})
	}
	return row, nil
}

func (v *ViewIterator) fail(err error) error {
	v.err = err
	v.lines.Close()
	return err
}

// Rows drains the iterator. The result is cached, so later calls return
// the same rows.
func (v *ViewIterator) Rows() ([]types.Row, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.read {
		return v.rows, v.err
	}
	v.read = true
	v.rows = []types.Row{}
	for {
		row, err := v.next()
		if err == io.EOF {
			return v.rows, nil
		}
		if err != nil {
			v.rows = nil
			return nil, err
		}
		v.rows = append(v.rows, row)
	}
}

func (v *ViewIterator) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.done && v.err == nil {
		v.done = true
	}
	return v.lines.Close()
}
