// Package follower keeps a continuous changes feed open across
// disconnects and turns its rows into a de-duplicated work queue.
//
// A [feed.Cursor] reports framing errors and transport failures but never
// reconnects. The Follower owns that policy: it re-issues the request
// from the last sequence it saw, backing off between failed attempts,
// and saves each sequence to a [checkpoint.Store] so a restarted process
// resumes from the same place.
package follower

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/cloudant/quimby/pkg/checkpoint"
	"github.com/cloudant/quimby/pkg/couch"
	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/types"
)

// Opener issues one feed request.
type Opener func(ctx context.Context, opts couch.ChangesOptions) (*feed.Cursor, error)

// DefaultBackoff is used between failed attempts. Its Steps bound the
// number of consecutive failures before Follow gives up.
var DefaultBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    8,
	Cap:      30 * time.Second,
}

type Option func(f *Follower)

func WithStore(store checkpoint.Store) Option {
	return func(f *Follower) {
		f.store = store
	}
}

func WithBackoff(b wait.Backoff) Option {
	return func(f *Follower) {
		f.backoff = b
	}
}

func WithIndexer(indexer Indexer) Option {
	return func(f *Follower) {
		f.indexer = indexer
	}
}

func WithRecorder(r Recorder) Option {
	return func(f *Follower) {
		f.recorder = r
	}
}

func WithLogger(log logr.Logger) Option {
	return func(f *Follower) {
		f.log = log
	}
}

// WithChangesOptions sets the request parameters. Feed defaults to
// continuous, and Since is overridden by the follower's position.
func WithChangesOptions(opts couch.ChangesOptions) Option {
	return func(f *Follower) {
		f.opts = opts
	}
}

type Follower struct {
	name     string
	open     Opener
	opts     couch.ChangesOptions
	store    checkpoint.Store
	backoff  wait.Backoff
	indexer  Indexer
	recorder Recorder
	log      logr.Logger

	queue *queue

	mu    sync.Mutex
	since any
}

// New creates a Follower for the feed opened by open. name keys the
// feed's checkpoint.
func New(name string, open Opener, opt ...Option) *Follower {
	f := &Follower{
		name:    name,
		open:    open,
		backoff: DefaultBackoff,
		indexer: defaultIndexer,
		log:     klog.Background().WithName("follower").WithValues("feed", name),
		queue:   newQueue(),
	}
	for _, o := range opt {
		o(f)
	}
	if f.opts.Feed == "" {
		f.opts.Feed = types.FeedContinuous
	}
	return f
}

// ForDatabase follows the _changes feed of db.
func ForDatabase(db *couch.Database, opt ...Option) *Follower {
	return New(db.Name(), db.Changes, opt...)
}

// ForUpdates follows the _db_updates feed of srv, queueing database
// names.
func ForUpdates(srv *couch.Server, opt ...Option) *Follower {
	return New("_db_updates", srv.GlobalChanges, append([]Option{WithIndexer(KeyFromDBName)}, opt...)...)
}

// Since returns the last sequence the follower has seen.
func (f *Follower) Since() any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.since
}

func (f *Follower) setSince(seq any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.since = seq
}

// Pending returns the number of keys waiting to be reconciled.
func (f *Follower) Pending() int {
	return f.queue.len()
}

// Run hands queued keys to r until ctx is done. It may be called from
// several goroutines to reconcile keys in parallel.
func (f *Follower) Run(ctx context.Context, r Reconciler) {
	f.queue.run(ctx, r, func(key string, err error) {
		f.log.Error(err, "reconcile failed", "key", key)
	})
}

// Follow reads the feed until ctx is done, reconnecting after failures.
// It returns ctx's error, or the last failure once the backoff is
// exhausted.
func (f *Follower) Follow(ctx context.Context) error {
	f.setSince(f.opts.Since)
	if f.store != nil {
		seq, ok, err := f.store.Load(ctx, f.name)
		if err != nil {
			return err
		}
		if ok {
			f.setSince(seq)
		}
	}

	backoff := f.backoff
	for {
		progress, err := f.followOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if progress {
			backoff = f.backoff
		}

		var delay time.Duration
		switch {
		case err == nil && progress:
			f.log.V(2).Info("feed ended, reconnecting", "since", f.Since())
			continue
		case err == nil:
			// An empty feed that ends at once would otherwise be
			// requested in a tight loop.
			delay = f.backoff.Duration
		case backoff.Steps < 1:
			return errors.Wrapf(err, "following %s", f.name)
		default:
			delay = backoff.Step()
			f.log.Info("feed failed, reconnecting", "since", f.Since(), "delay", delay, "err", err.Error())
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// followOnce reads one feed response to its end. progress reports
// whether any row was read.
func (f *Follower) followOnce(ctx context.Context) (progress bool, err error) {
	opts := f.opts
	opts.Since = f.Since()

	cursor, err := f.open(ctx, opts)
	if err != nil {
		return false, err
	}
	defer cursor.Close()

	for event, err := range cursor.All() {
		if err != nil {
			return progress, err
		}
		progress = true

		if seq, ok := event.LastSeq(); ok {
			f.advance(ctx, seq)
			continue
		}
		if f.recorder != nil {
			if err := f.recorder.Write(event); err != nil {
				return progress, errors.Wrap(err, "recording row")
			}
		}
		if key := f.indexer(event); key != "" {
			f.queue.add(key)
		}
		f.advance(ctx, event.Seq())
	}

	if cp := cursor.Checkpoint(); cp != nil {
		f.advance(ctx, cp.LastSeq)
	}
	return progress, nil
}

func (f *Follower) advance(ctx context.Context, seq any) {
	if seq == nil {
		return
	}
	f.setSince(seq)
	if f.store == nil {
		return
	}
	if err := f.store.Save(ctx, f.name, seq); err != nil && ctx.Err() == nil {
		f.log.Error(err, "saving checkpoint", "seq", seq)
	}
}
