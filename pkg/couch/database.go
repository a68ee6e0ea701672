package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/cloudant/quimby/pkg/client"
	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/pkg/util"
	"github.com/cloudant/quimby/types"
)

// ErrNoChange is returned by WaitForChange when the longpoll request
// timed out without a change.
var ErrNoChange = errors.New("no change")

const compactPollInterval = 100 * time.Millisecond

type Database struct {
	srv  *Server
	name string
}

func (db *Database) Name() string {
	return db.name
}

func (db *Database) path(segments ...string) []string {
	return append([]string{client.Quote(db.name)}, segments...)
}

func (db *Database) request(verb string, params map[string]any, body any, segments ...string) (client.ResourceRequest, error) {
	r := client.ResourceRequest{
		Verb: verb,
		Path: db.path(segments...),
	}
	if len(params) > 0 {
		values, err := client.Params(params)
		if err != nil {
			return r, err
		}
		r.Values = values
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return r, errors.Wrapf(err, "encoding %s body", verb)
		}
		r.Body = bytes.NewReader(b)
	}
	return r, nil
}

func (db *Database) doJSON(ctx context.Context, verb string, params map[string]any, body, out any, segments ...string) error {
	r, err := db.request(verb, params, body, segments...)
	if err != nil {
		return err
	}
	return client.DoJSON(ctx, db.srv.kc, r, out)
}

// head reports whether the resource exists.
func (db *Database) head(ctx context.Context, segments ...string) (bool, error) {
	r, _ := db.request(http.MethodHead, nil, nil, segments...)
	r.ReturnErrors = true
	resp, err := db.srv.kc.Do(ctx, r)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	}
	return false, &client.StatusError{StatusCode: resp.StatusCode, URL: db.srv.kc.ServerURL() + r.URL()}
}

func (db *Database) Create(ctx context.Context, params map[string]any) error {
	return db.doJSON(ctx, http.MethodPut, params, nil, nil)
}

func (db *Database) Delete(ctx context.Context, params map[string]any) error {
	return db.doJSON(ctx, http.MethodDelete, params, nil, nil)
}

// Reset deletes the database if it exists and creates it again.
func (db *Database) Reset(ctx context.Context, params map[string]any) error {
	if err := db.Delete(ctx, nil); err != nil && !client.IsNotFound(err) {
		return err
	}
	return db.Create(ctx, params)
}

func (db *Database) Exists(ctx context.Context) (bool, error) {
	return db.head(ctx)
}

func (db *Database) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, db.doJSON(ctx, http.MethodGet, nil, nil, &out)
}

// Compact triggers compaction, and with waitDone set polls the database
// info until compaction is no longer running.
func (db *Database) Compact(ctx context.Context, waitDone bool) error {
	if err := db.doJSON(ctx, http.MethodPost, nil, map[string]any{}, nil, "_compact"); err != nil {
		return err
	}
	if !waitDone {
		return nil
	}
	return wait.PollUntilContextCancel(ctx, compactPollInterval, true, func(ctx context.Context) (bool, error) {
		info, err := db.Info(ctx)
		if err != nil {
			return false, err
		}
		running, _ := info["compact_running"].(bool)
		if running {
			db.srv.log.V(2).Info("compaction running", "db", db.name)
		}
		return !running, nil
	})
}

func (db *Database) DocOpen(ctx context.Context, id string, params map[string]any) (types.Doc, error) {
	var doc types.Doc
	return doc, db.doJSON(ctx, http.MethodGet, params, nil, &doc, client.Quote(id))
}

func (db *Database) DocExists(ctx context.Context, id string) (bool, error) {
	return db.head(ctx, client.Quote(id))
}

type docResponse struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// DocSave creates or updates doc and sets its _id and _rev from the
// response. Documents without an _id are POSTed so the server assigns
// one.
func (db *Database) DocSave(ctx context.Context, doc types.Doc, params map[string]any) (types.Doc, error) {
	var (
		resp docResponse
		err  error
	)
	if id := doc.ID(); id == "" {
		err = db.doJSON(ctx, http.MethodPost, params, doc, &resp)
	} else {
		err = db.doJSON(ctx, http.MethodPut, params, doc, &resp, client.Quote(id))
	}
	if err != nil {
		return nil, err
	}
	doc["_id"] = resp.ID
	doc["_rev"] = resp.Rev
	return doc, nil
}

// DocDelete deletes the document at rev and returns the revision of the
// deletion. An empty rev deletes the current revision.
func (db *Database) DocDelete(ctx context.Context, id, rev string) (string, error) {
	if rev == "" {
		doc, err := db.DocOpen(ctx, id, nil)
		if err != nil {
			return "", err
		}
		rev = doc.Rev()
	}
	var resp docResponse
	err := db.doJSON(ctx, http.MethodDelete, map[string]any{"rev": rev}, nil, &resp, client.Quote(id))
	return resp.Rev, err
}

// BulkDocs saves docs in one request. Each successfully saved document
// has its _id and _rev updated in place.
func (db *Database) BulkDocs(ctx context.Context, docs []types.Doc, params map[string]any) ([]types.BulkResult, error) {
	if docs == nil {
		docs = []types.Doc{}
	}
	var results []types.BulkResult
	if err := db.doJSON(ctx, http.MethodPost, params, map[string]any{"docs": docs}, &results, "_bulk_docs"); err != nil {
		return nil, err
	}
	for i, r := range results {
		if i >= len(docs) || r.Error != "" {
			continue
		}
		docs[i]["_id"] = r.ID
		docs[i]["_rev"] = r.Rev
	}
	return results, nil
}

// Changes opens the database's _changes feed. The cursor owns the
// response body and must be closed unless it is read to the end.
func (db *Database) Changes(ctx context.Context, opts ChangesOptions) (*feed.Cursor, error) {
	return openFeed(ctx, db.srv.kc, db.srv.log.WithValues("db", db.name), db.path("_changes"), opts)
}

// WaitForChange blocks until a change after since is visible, or the
// server side timeout passes, and returns that change's sequence.
func (db *Database) WaitForChange(ctx context.Context, since any, timeout time.Duration) (any, error) {
	cursor, err := db.Changes(ctx, ChangesOptions{
		Feed:    types.FeedLongPoll,
		Since:   since,
		Limit:   1,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	results, err := cursor.Results()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoChange
	}
	return results[0].Seq(), nil
}

func (db *Database) GetSecurity(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, db.doJSON(ctx, http.MethodGet, nil, nil, &out, "_security")
}

// SetSecurity replaces the security object, skipping the write when it
// already holds props.
func (db *Database) SetSecurity(ctx context.Context, props map[string]any) error {
	current, err := db.GetSecurity(ctx)
	if err != nil {
		return err
	}
	if reflect.DeepEqual(normalize(current), normalize(props)) {
		return nil
	}
	return db.doJSON(ctx, http.MethodPut, nil, props, nil, "_security")
}

// normalize round trips v through JSON so that values decoded from a
// response compare equal to the ones a caller built by hand.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// ViewOptions are the query parameters of a view or _all_docs request.
// Keys, when set, turns the request into a POST.
type ViewOptions struct {
	Keys   []any
	Params map[string]any
}

func (db *Database) AllDocs(ctx context.Context, opts ViewOptions) (*ViewIterator, error) {
	return db.openView(ctx, opts, "_all_docs")
}

func (db *Database) View(ctx context.Context, ddoc, view string, opts ViewOptions) (*ViewIterator, error) {
	return db.openView(ctx, opts, "_design", client.Quote(util.SplitDesignDocID(ddoc)), "_view", client.Quote(view))
}

func (db *Database) openView(ctx context.Context, opts ViewOptions, segments ...string) (*ViewIterator, error) {
	verb := http.MethodGet
	var body any
	if opts.Keys != nil {
		verb = http.MethodPost
		body = map[string]any{"keys": opts.Keys}
	}
	r, err := db.request(verb, opts.Params, body, segments...)
	if err != nil {
		return nil, err
	}
	resp, err := db.srv.kc.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	return NewViewIterator(resp.Body)
}

// WaitForIndexers waits for the indexers of this database, see
// [Server.WaitForIndexers].
func (db *Database) WaitForIndexers(ctx context.Context, ddoc string, w IndexerWait) error {
	return db.srv.WaitForIndexers(ctx, db.name, ddoc, w)
}
