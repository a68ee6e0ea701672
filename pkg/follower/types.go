package follower

import (
	"context"

	"github.com/cloudant/quimby/types"
)

// Reconciler processes one queued key.
type Reconciler interface {
	Reconcile(ctx context.Context, key string) error
}

// RunAction adapts a function to a Reconciler.
type RunAction func(ctx context.Context, key string) error

func (a RunAction) Reconcile(ctx context.Context, key string) error {
	return a(ctx, key)
}

// Recorder receives every row the follower reads, before it is indexed.
type Recorder interface {
	Write(v any) error
}

// Indexer maps a row to the key queued for it. Rows mapping to "" are
// not queued.
type Indexer func(types.ChangeEvent) string

// KeyFromID queues the document id of _changes rows.
func KeyFromID(event types.ChangeEvent) string {
	return event.ID()
}

// KeyFromDBName queues the database name of _db_updates rows.
func KeyFromDBName(event types.ChangeEvent) string {
	return event.DBName()
}

// KeyFromField queues the string value of a top level field.
func KeyFromField(field string) Indexer {
	return func(event types.ChangeEvent) string {
		value, _ := event[field].(string)
		return value
	}
}

func defaultIndexer(event types.ChangeEvent) string {
	if id := event.ID(); id != "" {
		return id
	}
	return event.DBName()
}
