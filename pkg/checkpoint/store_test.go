package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "db")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "db", "12-g1AAAA"))
	seq, ok, err := s.Load(ctx, "db")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12-g1AAAA", seq)

	require.NoError(t, s.Save(ctx, "db", int64(42)))
	seq, _, err = s.Load(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	require.NoError(t, s.Save(ctx, "_db_updates", []any{int64(1), "x"}))
	seq, _, err = s.Load(ctx, "_db_updates")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "x"}, seq)

	assert.Error(t, s.Save(ctx, "db", make(chan int)))
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoints.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	testStore(t, s)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	seq, ok, err := s.Load(context.Background(), "db")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), seq)
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}
