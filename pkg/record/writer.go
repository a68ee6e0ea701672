// Package record keeps feed rows as zstd compressed JSON lines, so a
// followed feed can be replayed later without the cluster.
package record

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// Writer appends one JSON document per line to a zstd stream.
type Writer struct {
	mu  sync.Mutex
	f   io.Closer
	enc *zstd.Encoder
	w   *bufio.Writer
}

// NewWriter compresses into w. Closing the Writer does not close w.
func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	return &Writer{
		enc: enc,
		w:   bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

// Create opens path for appending. Each Create starts a new zstd frame,
// and concatenated frames read back as one stream.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.f = f
	return w, nil
}

// Write appends v. Lines are flushed to the encoder as they are written
// but only become durable once Flush or Close is called.
func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return errors.New("record writer is closed")
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush writes everything buffered so far as a complete zstd block.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return nil
	}
	err := w.w.Flush()
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	w.w = nil
	return err
}
