// Package feed turns the line oriented body of a changes, global changes
// or view feed into a single-pass stream of decoded rows.
//
// Normal and longpoll feeds are framed as a results array followed by a
// last_seq line:
//
//	{"results":[
//	{"seq":"1-x","id":"a","changes":[{"rev":"1-a"}]},
//	],
//	"last_seq":"1-x","pending":0}
//
// Continuous feeds carry one JSON object per line, with blank lines sent
// as heartbeats.
package feed

import (
	"io"
	"iter"
	"strings"
	"sync"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/cloudant/quimby/types"
)

const (
	openToken       = `{"results":[`
	closeToken      = `],`
	lastSeqField    = `"last_seq"`
	heartbeatLogLvl = 4
)

// ErrNoCheckpoint is returned by LastSeq when the feed was continuous and
// the server never sent a terminal last_seq row.
var ErrNoCheckpoint = errors.New("feed carried no checkpoint")

type Option func(opts *options)

type options struct {
	log                 logr.Logger
	stopAfterHeartbeats int
}

func WithLogger(log logr.Logger) Option {
	return func(opts *options) {
		opts.log = log
	}
}

// StopAfterHeartbeats ends a continuous feed cleanly once at least n
// heartbeats have been read. It has no effect on other feed modes.
func StopAfterHeartbeats(n int) Option {
	return func(opts *options) {
		opts.stopAfterHeartbeats = n
	}
}

// parseState is the position of a normal or longpoll cursor within the
// feed framing.
type parseState int

const (
	expectOpen parseState = iota
	streamingRows
	expectLastSeq
	finishing
)

func (s parseState) String() string {
	switch s {
	case expectOpen:
		return "expect-open"
	case streamingRows:
		return "streaming-rows"
	case expectLastSeq:
		return "expect-last-seq"
	case finishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// expecting describes what a state is waiting for, for error messages.
func (s parseState) expecting() string {
	switch s {
	case expectOpen:
		return "expected " + openToken
	case streamingRows:
		return "expected a result row or " + closeToken
	case expectLastSeq:
		return "expected a " + lastSeqField + " line"
	default:
		return "expected end of feed"
	}
}

// step is the outcome of handing one non-blank line to the current
// state: the next state plus at most one of a row or a checkpoint.
type step struct {
	next       parseState
	event      types.ChangeEvent
	checkpoint *types.Checkpoint
}

// Cursor reads a feed one line at a time. It is single-pass: rows are
// either pulled with Next (or All), or drained once with Read, never
// both. A Cursor owns its line source and closes it on reaching the
// end of the feed, on error, or on Close.
type Cursor struct {
	lines      LineSource
	closer     io.Closer
	continuous bool
	opts       options

	mu        sync.Mutex
	state     types.CursorState
	released  bool
	cancelled bool

	parse      parseState
	lineNo     int
	heartbeats int
	err        error
	checkpoint *types.Checkpoint
	iterating  bool

	readCalled bool
	results    []types.ChangeEvent
	readErr    error
}

// New creates a cursor over lines. If lines is also an io.Closer it is
// closed once the cursor is done with it.
func New(lines LineSource, continuous bool, opt ...Option) *Cursor {
	opts := options{
		log: klog.Background().WithName("feed"),
	}
	for _, o := range opt {
		o(&opts)
	}

	c := &Cursor{
		lines:      lines,
		continuous: continuous,
		opts:       opts,
	}
	if closer, ok := lines.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// NewFromReader creates a cursor reading lines from a response body.
func NewFromReader(body io.ReadCloser, mode types.FeedMode, opt ...Option) *Cursor {
	return New(NewLineReader(body), mode.Continuous(), opt...)
}

func (c *Cursor) Continuous() bool {
	return c.continuous
}

func (c *Cursor) State() types.CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Heartbeats returns the number of blank lines read so far.
func (c *Cursor) Heartbeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.heartbeats
}

// Checkpoint returns the checkpoint read from the feed, if any. For a
// continuous feed this is the terminal last_seq row the server sends
// when its timeout fires.
func (c *Cursor) Checkpoint() *types.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.checkpoint
}

// Next returns the next row of the feed, or io.EOF once the feed is
// exhausted. Once Next has been called, Read can no longer be used.
func (c *Cursor) Next() (types.ChangeEvent, error) {
	c.iterating = true
	return c.next()
}

// All returns the rows of the feed as a range-over-func sequence. The
// sequence stops after the first error.
func (c *Cursor) All() iter.Seq2[types.ChangeEvent, error] {
	return func(yield func(types.ChangeEvent, error) bool) {
		for {
			event, err := c.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Read drains the whole feed and returns its rows and checkpoint. It
// may only be called once, and not after Next. On error no rows are
// returned.
func (c *Cursor) Read() ([]types.ChangeEvent, *types.Checkpoint, error) {
	if c.readCalled {
		return nil, nil, &Error{Err: ErrCursorExhausted}
	}
	if c.iterating {
		return nil, nil, &Error{Err: ErrCursorAlreadyConsumed}
	}
	c.readCalled = true

	c.results, c.readErr = c.drain()
	if c.readErr != nil {
		return nil, nil, c.readErr
	}
	return c.results, c.Checkpoint(), nil
}

// Results returns the rows of the feed, reading it on first use.
func (c *Cursor) Results() ([]types.ChangeEvent, error) {
	if !c.readCalled {
		if _, _, err := c.Read(); err != nil {
			return nil, err
		}
	}
	return c.results, c.readErr
}

// LastSeq returns the checkpoint token of the feed, reading it on first
// use.
func (c *Cursor) LastSeq() (any, error) {
	if _, err := c.Results(); err != nil {
		return nil, err
	}
	cp := c.Checkpoint()
	if cp == nil {
		return nil, ErrNoCheckpoint
	}
	return cp.LastSeq, nil
}

// Close releases the line source and discards any unread content. A
// continuous cursor then reports io.EOF. A normal or longpoll cursor
// closed before its last_seq line fails with ErrClosed, so a feed cut
// short is never mistaken for a complete one.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.state == types.CursorInit || c.state == types.CursorStreaming {
		c.cancelled = true
	}
	c.mu.Unlock()

	return c.release()
}

func (c *Cursor) drain() ([]types.ChangeEvent, error) {
	results := []types.ChangeEvent{}
	terminal := false
	for {
		event, err := c.next()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return nil, err
		}
		if !c.continuous {
			results = append(results, event)
			continue
		}
		// A continuous feed cut off by the server's timeout ends with a
		// last_seq row, which nothing may follow.
		if terminal {
			return nil, c.fail(&Error{
				Err:    ErrUnexpectedTrailingData,
				Line:   c.lineNo,
				Detail: "row follows the terminal last_seq row",
			})
		}
		if _, ok := event.LastSeq(); ok {
			terminal = true
			continue
		}
		results = append(results, event)
	}
}

func (c *Cursor) next() (types.ChangeEvent, error) {
	if c.err != nil {
		return nil, c.err
	}

	c.mu.Lock()
	state, cancelled := c.state, c.cancelled
	if state == types.CursorInit {
		c.state = types.CursorStreaming
	}
	c.mu.Unlock()

	if cancelled {
		return nil, c.closedEnd()
	}
	if state == types.CursorExhausted {
		return nil, io.EOF
	}

	for {
		line, err := c.lines.NextLine()
		if errors.Is(err, io.EOF) {
			return nil, c.endOfStream()
		}
		if err != nil {
			if c.isCancelled() {
				return nil, c.closedEnd()
			}
			return nil, c.fail(err)
		}
		c.lineNo++

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			c.mu.Lock()
			c.heartbeats++
			n := c.heartbeats
			c.mu.Unlock()
			c.opts.log.V(heartbeatLogLvl).Info("heartbeat", "count", n)
			if c.continuous && c.opts.stopAfterHeartbeats > 0 && n >= c.opts.stopAfterHeartbeats {
				c.finish()
				return nil, io.EOF
			}
			continue
		}

		if c.continuous {
			return c.continuousLine(trimmed)
		}

		st, err := c.transition(trimmed)
		if err != nil {
			return nil, c.fail(err)
		}
		c.parse = st.next
		if st.checkpoint != nil {
			c.setCheckpoint(st.checkpoint)
		}
		if st.event != nil {
			return st.event, nil
		}
	}
}

func (c *Cursor) transition(line string) (step, error) {
	switch c.parse {
	case expectOpen:
		return c.expectOpen(line)
	case streamingRows:
		return c.streamingRows(line)
	case expectLastSeq:
		return c.expectLastSeq(line)
	case finishing:
		return c.finishing(line)
	}
	return step{}, errors.AssertionFailedf("no transition out of feed state %s", c.parse)
}

func (c *Cursor) expectOpen(line string) (step, error) {
	if line != openToken {
		return step{}, c.lineError(ErrInvalidFraming, line, expectOpen.expecting())
	}
	return step{next: streamingRows}, nil
}

func (c *Cursor) streamingRows(line string) (step, error) {
	if line == closeToken {
		return step{next: expectLastSeq}, nil
	}
	record := strings.TrimSuffix(strings.TrimRightFunc(line, unicode.IsSpace), ",")
	obj, err := DecodeObject(record)
	if err != nil {
		return step{}, c.lineError(ErrMalformedRecord, line, err.Error())
	}
	return step{next: streamingRows, event: obj}, nil
}

func (c *Cursor) expectLastSeq(line string) (step, error) {
	if !strings.HasPrefix(line, lastSeqField) {
		return step{}, c.lineError(ErrInvalidFraming, line, expectLastSeq.expecting())
	}
	cp, err := decodeCheckpoint("{" + line)
	if err != nil {
		return step{}, c.lineError(ErrInvalidFraming, line, err.Error())
	}
	return step{next: finishing, checkpoint: cp}, nil
}

func (c *Cursor) finishing(line string) (step, error) {
	return step{}, c.lineError(ErrUnexpectedTrailingData, line, "")
}

func (c *Cursor) continuousLine(line string) (types.ChangeEvent, error) {
	obj, err := DecodeObject(line)
	if err != nil {
		return nil, c.fail(c.lineError(ErrMalformedRecord, line, err.Error()))
	}
	event := types.ChangeEvent(obj)
	if seq, ok := event.LastSeq(); ok {
		cp := &types.Checkpoint{LastSeq: seq}
		if pending, ok := event["pending"].(int64); ok {
			cp.Pending = &pending
		}
		c.setCheckpoint(cp)
	}
	return event, nil
}

func (c *Cursor) endOfStream() error {
	if c.isCancelled() {
		return c.closedEnd()
	}
	if c.continuous || c.parse == finishing {
		c.finish()
		return io.EOF
	}
	return c.fail(&Error{
		Err:    ErrInvalidFraming,
		Detail: "feed ended early, " + c.parse.expecting(),
	})
}

// closedEnd ends a cursor that was closed while it was still reading.
func (c *Cursor) closedEnd() error {
	if c.continuous || c.parse == finishing {
		c.finish()
		return io.EOF
	}
	return c.fail(&Error{
		Err:    ErrClosed,
		Detail: "closed before the feed ended, " + c.parse.expecting(),
	})
}

func (c *Cursor) lineError(sentinel error, line, detail string) *Error {
	return &Error{
		Err:    sentinel,
		Line:   c.lineNo,
		Text:   line,
		Detail: detail,
	}
}

func (c *Cursor) fail(err error) error {
	c.err = err
	c.setState(types.CursorError)
	c.opts.log.V(1).Info("feed cursor failed", "line", c.lineNo, "state", c.parse.String(), "err", err)
	c.release()
	return err
}

func (c *Cursor) finish() {
	c.setState(types.CursorExhausted)
	c.release()
}

func (c *Cursor) setCheckpoint(cp *types.Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checkpoint = cp
}

func (c *Cursor) setState(state types.CursorState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
}

func (c *Cursor) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled
}

func (c *Cursor) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.closer == nil {
		c.released = true
		return nil
	}
	c.released = true
	return c.closer.Close()
}
