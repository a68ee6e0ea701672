package stream

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// AsyncStream acts as a wrapper for any Stream and allows objects to be
// read from it asynchronously.
//
// Most streams are synchronous by their nature, because the underlying
// source needs to be read sequentially, however once parsed its common
// that items can be processed independently.
type AsyncStream[T any] struct {
	stream  Stream[T]
	result  chan T
	done    chan struct{}
	lock    sync.RWMutex
	stopped bool
	err     error
}

func NewAsyncStream[T any](stream Stream[T]) *AsyncStream[T] {
	sd := &AsyncStream[T]{
		stream: stream,
		result: make(chan T),
		done:   make(chan struct{}),
	}

	go sd.run()

	return sd
}

func (sd *AsyncStream[T]) Stopped() bool {
	sd.lock.RLock()
	defer sd.lock.RUnlock()

	return sd.stopped
}

func (sd *AsyncStream[T]) run() {
	defer close(sd.result)
	defer sd.Stop()

	for {
		result, err := sd.stream.Next()
		if err != nil {
			// A clean end of stream is not an error, and neither is
			// the read failure caused by Stop closing the source.
			if !errors.Is(err, io.EOF) && !sd.Stopped() {
				sd.lock.Lock()
				sd.err = err
				sd.lock.Unlock()
			}
			return
		}

		select {
		case sd.result <- result:
		case <-sd.done:
			return
		}
	}
}

func (sd *AsyncStream[T]) Stop() {
	sd.lock.Lock()
	defer sd.lock.Unlock()

	if sd.stopped {
		return
	}

	// Once this is set, the main run loop will ignore any further events
	// and will exit.
	sd.stopped = true
	close(sd.done)

	// If the stream we've been given can be closed, we'll call that as
	// part of the shutdown.
	if closer, ok := sd.stream.(io.Closer); ok {
		closer.Close()
	}
}

// Next returns the next value, or io.EOF once the stream has ended.
func (sd *AsyncStream[T]) Next() (T, error) {
	result, ok := <-sd.result
	if !ok {
		if err := sd.Error(); err != nil {
			return result, err
		}
		return result, io.EOF
	}
	return result, nil
}

func (sd *AsyncStream[T]) ResultChan() <-chan T {
	return sd.result
}

func (sd *AsyncStream[T]) Error() error {
	sd.lock.RLock()
	defer sd.lock.RUnlock()

	return sd.err
}
