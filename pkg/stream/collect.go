package stream

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Collect drains s into a slice. A clean io.EOF ends the stream; any
// other error is returned along with nothing read so far.
func Collect[T any](s Stream[T]) ([]T, error) {
	var items []T
	for {
		item, err := s.Next()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}
