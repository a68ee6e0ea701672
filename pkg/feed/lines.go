package feed

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"
)

const (
	initialLineBuffer = 64 << 10
	maxLineLength     = 16 << 20
)

// LineSource delivers one logical line per call, without its line
// terminator. Blank lines are preserved. NextLine returns io.EOF once
// the source is exhausted.
type LineSource interface {
	NextLine() (string, error)
}

// LineReader is a LineSource over a response body. Chunk boundaries of
// the underlying transfer are irrelevant to the lines it returns.
type LineReader struct {
	r       io.Reader
	scanner *bufio.Scanner
}

func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initialLineBuffer), maxLineLength)
	return &LineReader{r: r, scanner: sc}
}

func (lr *LineReader) NextLine() (string, error) {
	if lr.scanner.Scan() {
		return lr.scanner.Text(), nil
	}
	if err := lr.scanner.Err(); err != nil {
		return "", errors.Wrap(err, "reading feed line")
	}
	return "", io.EOF
}

// Close closes the underlying reader if it can be closed.
func (lr *LineReader) Close() error {
	if closer, ok := lr.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type sliceSource struct {
	lines []string
	pos   int
}

// FromLines returns a LineSource replaying the given lines.
func FromLines(lines ...string) LineSource {
	return &sliceSource{lines: lines}
}

func (s *sliceSource) NextLine() (string, error) {
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}
