package record

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudant/quimby/pkg/stream"
	"github.com/cloudant/quimby/types"
)

func TestRoundTrip(t *testing.T) {
	events := []types.ChangeEvent{
		{"id": "a", "seq": "1-x", "changes": []any{map[string]any{"rev": "1-a"}}},
		{"id": "b", "seq": int64(2), "deleted": true},
	}

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, w.Write(e))
	}
	require.NoError(t, w.Close())
	assert.Error(t, w.Write(events[0]))

	r, err := NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()

	got, err := stream.Collect[types.ChangeEvent](r)
	require.NoError(t, err)
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendAcrossWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "feed.jsonl.zst")

	for _, id := range []string{"a", "b"} {
		w, err := Create(path)
		require.NoError(t, err)
		require.NoError(t, w.Write(types.ChangeEvent{"id": id}))
		require.NoError(t, w.Close())
	}

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := stream.Collect[types.ChangeEvent](r)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID())
	assert.Equal(t, "b", got[1].ID())
}

func TestReaderRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Write("not an object"))
	require.NoError(t, w.Close())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.Error(t, err)
}
