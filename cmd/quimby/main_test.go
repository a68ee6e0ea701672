package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/pkg/record"
	"github.com/cloudant/quimby/types"
)

func writeConfig(t *testing.T, serverURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	netloc := strings.TrimPrefix(serverURL, "http://")
	require.NoError(t, os.WriteFile(path, []byte("cluster_netloc: \""+netloc+"\"\n"), 0o600))
	return path
}

func run(t *testing.T, h http.Handler, args ...string) (string, error) {
	t.Helper()
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append(args, "--config", writeConfig(t, s.URL), "--color", "never"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestChangesCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/db/_changes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "now", r.URL.Query().Get("since"))
		assert.Equal(t, "1", r.URL.Query().Get("style"))
		feed.Encode(w, []types.ChangeEvent{
			{"id": "a", "seq": "1-x"},
			{"id": "b", "seq": "2-y", "deleted": true},
		}, types.Checkpoint{LastSeq: "2-y"})
	})

	out, err := run(t, mux, "changes", "db", "--since", "now", "--param", "style=1")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`"1-x" a {"id":"a","seq":"1-x"}`,
		`"2-y" b deleted {"deleted":true,"id":"b","seq":"2-y"}`,
		`last_seq "2-y"`,
		``,
	}, "\n"), out)
}

func TestDBUpdatesContinuous(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/_db_updates", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "continuous", r.URL.Query().Get("feed"))
		feed.EncodeContinuous(w, []types.ChangeEvent{
			{"db_name": "db1", "type": "created", "seq": "1-a"},
		}, 0)
		io.WriteString(w, `{"last_seq":"1-a"}`+"\n")
	})

	out, err := run(t, mux, "db-updates", "--feed", "continuous")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`"1-a" db1 {"db_name":"db1","seq":"1-a","type":"created"}`,
		`last_seq "1-a"`,
		``,
	}, "\n"), out)
}

func TestChangesFramingErrorFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/db/_changes", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not a feed\n")
	})

	_, err := run(t, mux, "changes", "db")
	assert.ErrorIs(t, err, feed.ErrInvalidFraming)
}

func TestViewCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/db/_all_docs", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"total_rows\":1,\"offset\":0,\"rows\":[\n{\"id\":\"a\",\"key\":\"a\",\"value\":{\"rev\":\"1-a\"}}\n]}\n")
	})

	out, err := run(t, mux, "view", "db")
	require.NoError(t, err)
	assert.Equal(t, "total_rows 1\n"+`"a" {"id":"a","key":"a","value":{"rev":"1-a"}}`+"\n", out)

	_, err = run(t, mux, "view", "db", "ddoc")
	assert.Error(t, err)
}

func TestFeedFlags(t *testing.T) {
	f := &feedFlags{feed: "sideways"}
	_, err := f.options()
	assert.Error(t, err)

	f = &feedFlags{feed: "longpoll", since: "5", params: []string{"filter=_view", "view=d/v"}}
	opts, err := f.options()
	require.NoError(t, err)
	assert.Equal(t, types.FeedLongPoll, opts.Feed)
	assert.Equal(t, "5", opts.Since)
	assert.Equal(t, map[string]any{"filter": "_view", "view": "d/v"}, opts.Params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
}

func TestColorMode(t *testing.T) {
	var buf bytes.Buffer
	on, err := useColor(&buf, "auto")
	require.NoError(t, err)
	assert.False(t, on)

	on, err = useColor(&buf, "always")
	require.NoError(t, err)
	assert.True(t, on)

	_, err = useColor(&buf, "rainbow")
	assert.Error(t, err)
}

func TestReplayCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.zst")
	w, err := record.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(types.ChangeEvent{"id": "a", "seq": "1-x"}))
	require.NoError(t, w.Write(types.ChangeEvent{"id": "b", "seq": "2-y", "deleted": true}))
	require.NoError(t, w.Close())

	out, err := run(t, http.NotFoundHandler(), "replay", path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`"1-x" a {"id":"a","seq":"1-x"}`,
		`"2-y" b deleted {"deleted":true,"id":"b","seq":"2-y"}`,
		`2 changes`,
		``,
	}, "\n"), out)

	_, err = run(t, http.NotFoundHandler(), "replay", filepath.Join(t.TempDir(), "missing.zst"))
	assert.Error(t, err)
}
