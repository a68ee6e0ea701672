package stream

type decoderStream[T any] struct {
	decoder Decoder
}

// FromDecoder returns a Stream[T] based on the given [Decoder].
func FromDecoder[T any](decoder Decoder) Stream[T] {
	return &decoderStream[T]{
		decoder: decoder,
	}
}

// Next() blocks until it can return the next object in the reader.
// Returns an error if the reader is closed or an object can't be
// decoded.
func (sd *decoderStream[T]) Next() (T, error) {
	var t T
	if err := sd.decoder.Decode(&t); err != nil {
		var zero T
		return zero, err
	}
	return t, nil
}
