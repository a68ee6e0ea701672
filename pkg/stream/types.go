// Package stream implements a set of generic interfaces and classes
// designed to allow streams of atomic objects to be pipelined, much
// like one might do with an [io.Reader].
package stream

// A Decoder is able to hydrate an arbitrary variable.
type Decoder interface {
	Decode(v any) error
}

// A Stream is able to provide a source of atomic data values.
//
// The source of a Stream's data is implementation specific - an example
// may be reading change rows from a long running HTTP response. Next
// returns [io.EOF] once the source is cleanly exhausted.
type Stream[T any] interface {
	Next() (T, error)
}
