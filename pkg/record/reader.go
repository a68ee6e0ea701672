package record

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	jsonpreserve "sigs.k8s.io/json"

	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/pkg/stream"
	"github.com/cloudant/quimby/types"
)

// lineDecoder decodes one JSON line per call, keeping integers as
// int64 the way the feed cursor does.
type lineDecoder struct {
	lines *feed.LineReader
}

func (d *lineDecoder) Decode(v any) error {
	for {
		line, err := d.lines.NextLine()
		if err != nil {
			return err
		}
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		if err := jsonpreserve.UnmarshalCaseSensitivePreserveInts([]byte(line), v); err != nil {
			return errors.Wrap(err, "decoding record")
		}
		return nil
	}
}

// Reader replays recorded change events.
type Reader struct {
	stream.Stream[types.ChangeEvent]

	dec *zstd.Decoder
	f   io.Closer
}

func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd decoder")
	}
	return &Reader{
		Stream: stream.FromDecoder[types.ChangeEvent](&lineDecoder{lines: feed.NewLineReader(dec)}),
		dec:    dec,
	}, nil
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

func (r *Reader) Close() error {
	r.dec.Close()
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}
