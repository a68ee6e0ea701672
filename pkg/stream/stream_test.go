package stream

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceStream struct {
	items []int
	err   error

	mu     sync.Mutex
	closed bool
}

func (s *sliceStream) Next() (int, error) {
	if len(s.items) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestFromDecoder(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"id":"a"} {"id":"b"}`))
	items, err := Collect(FromDecoder[map[string]string](dec))
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"id": "a"}, {"id": "b"}}, items)
}

func TestFromDecoderError(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"id":"a"} {"id":`))
	s := FromDecoder[map[string]string](dec)

	_, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCollectError(t *testing.T) {
	boom := errors.New("boom")
	items, err := Collect[int](&sliceStream{items: []int{1, 2}, err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, items)
}

func TestAsyncStream(t *testing.T) {
	src := &sliceStream{items: []int{1, 2, 3}}
	as := NewAsyncStream[int](src)

	var got []int
	for item := range as.ResultChan() {
		got = append(got, item)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.NoError(t, as.Error())
	assert.True(t, as.Stopped())
	assert.True(t, src.closed)

	_, err := as.Next()
	assert.Equal(t, io.EOF, err)
}

func TestAsyncStreamError(t *testing.T) {
	boom := errors.New("boom")
	as := NewAsyncStream[int](&sliceStream{items: []int{1}, err: boom})

	item, err := as.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	_, err = as.Next()
	assert.ErrorIs(t, err, boom)
}

// blockingStream never produces a value until closed.
type blockingStream struct {
	done chan struct{}
	once sync.Once
}

func (b *blockingStream) Next() (int, error) {
	<-b.done
	return 0, errors.New("closed")
}

func (b *blockingStream) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func TestAsyncStreamStop(t *testing.T) {
	src := &blockingStream{done: make(chan struct{})}
	as := NewAsyncStream[int](src)

	as.Stop()
	as.Stop()

	_, ok := <-as.ResultChan()
	assert.False(t, ok)
	assert.NoError(t, as.Error())
}
