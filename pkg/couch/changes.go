package couch

import (
	"context"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/cloudant/quimby/pkg/client"
	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/types"
)

// ChangesOptions are the query parameters of a _changes or _db_updates
// request.
type ChangesOptions struct {
	Feed        types.FeedMode
	Since       any
	Limit       int
	Timeout     time.Duration
	Heartbeat   time.Duration
	SeqInterval int
	IncludeDocs bool
	Descending  bool
	Filter      string

	// StopAfterHeartbeats ends a continuous feed once that many
	// heartbeats have been read.
	StopAfterHeartbeats int
	// Gzip requests a gzip encoded feed.
	Gzip bool

	// Params holds any other query parameters.
	Params map[string]any
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func (o ChangesOptions) params() map[string]any {
	p := make(map[string]any, len(o.Params)+8)
	for k, v := range o.Params {
		p[k] = v
	}
	if o.Feed != "" {
		p["feed"] = string(o.Feed)
	}
	if o.Since != nil {
		p["since"] = o.Since
	}
	if o.Limit > 0 {
		p["limit"] = o.Limit
	}
	if o.Timeout > 0 {
		p["timeout"] = millis(o.Timeout)
	}
	if o.Heartbeat > 0 {
		p["heartbeat"] = millis(o.Heartbeat)
	}
	if o.SeqInterval > 0 {
		p["seq_interval"] = o.SeqInterval
	}
	if o.IncludeDocs {
		p["include_docs"] = true
	}
	if o.Descending {
		p["descending"] = true
	}
	if o.Filter != "" {
		p["filter"] = o.Filter
	}
	return p
}

// openFeed issues a feed request and hands its body to a cursor, which
// then owns it.
func openFeed(ctx context.Context, kc client.Interface, log logr.Logger, path []string, opts ChangesOptions) (*feed.Cursor, error) {
	values, err := client.Params(opts.params())
	if err != nil {
		return nil, err
	}

	resp, err := kc.Do(ctx, client.ResourceRequest{
		Path:   path,
		Values: values,
		Gzip:   opts.Gzip,
	})
	if err != nil {
		return nil, err
	}

	mode := opts.Feed
	if mode == "" {
		mode = types.FeedNormal
	}
	log.V(2).Info("opened feed", "path", path, "feed", mode, "since", opts.Since)

	cursorOpts := []feed.Option{feed.WithLogger(log)}
	if opts.StopAfterHeartbeats > 0 {
		cursorOpts = append(cursorOpts, feed.StopAfterHeartbeats(opts.StopAfterHeartbeats))
	}
	return feed.NewFromReader(resp.Body, mode, cursorOpts...), nil
}
