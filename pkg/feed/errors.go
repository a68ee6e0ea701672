package feed

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidFraming is returned when a feed does not open or close
	// with the literal tokens expected for its mode.
	ErrInvalidFraming = errors.New("invalid feed framing")
	// ErrMalformedRecord is returned when a result line is not a JSON
	// object once its trailing comma is stripped.
	ErrMalformedRecord = errors.New("malformed feed record")
	// ErrUnexpectedTrailingData is returned for any content following
	// the last_seq line of a normal or longpoll feed.
	ErrUnexpectedTrailingData = errors.New("unexpected data after last_seq")
	// ErrCursorAlreadyConsumed is returned by Read once Next has been
	// used on the same cursor.
	ErrCursorAlreadyConsumed = errors.New("feed cursor is being iterated")
	// ErrCursorExhausted is returned by a second call to Read.
	ErrCursorExhausted = errors.New("feed cursor already read")
	// ErrClosed is returned when a normal or longpoll cursor is closed
	// before its last_seq line was read.
	ErrClosed = errors.New("feed cursor closed")
)

// Error describes which framing expectation failed, and where.
type Error struct {
	// Err is one of the sentinel errors of this package.
	Err error
	// Line is the 1-based line number of the offending line, or 0 when
	// the failure was not caused by a specific line.
	Line int
	// Text is the offending line.
	Text string
	// Detail says what was expected, or holds the decoding failure.
	Detail string
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Line > 0 {
		msg = fmt.Sprintf("%s at line %d %q", msg, e.Line, truncate(e.Text, 120))
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
