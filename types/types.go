package types

type FeedMode string

const (
	FeedNormal     FeedMode = "normal"
	FeedLongPoll   FeedMode = "longpoll"
	FeedContinuous FeedMode = "continuous"
)

// Continuous reports whether the feed is framed as one JSON object per
// line rather than a bracketed results array.
func (m FeedMode) Continuous() bool {
	return m == FeedContinuous
}

// ChangeEvent is a single decoded row of a changes, global changes or
// streamed view feed. Integers are kept as int64.
type ChangeEvent map[string]any

func (e ChangeEvent) ID() string {
	id, _ := e["id"].(string)
	return id
}

func (e ChangeEvent) Seq() any {
	return e["seq"]
}

func (e ChangeEvent) Deleted() bool {
	deleted, _ := e["deleted"].(bool)
	return deleted
}

// DBName returns the database name of a _db_updates row.
func (e ChangeEvent) DBName() string {
	name, _ := e["db_name"].(string)
	return name
}

// LastSeq returns the checkpoint token carried by a terminal row, as sent
// at the end of a timed out continuous feed.
func (e ChangeEvent) LastSeq() (any, bool) {
	seq, ok := e["last_seq"]
	return seq, ok
}

// Checkpoint closes a normal or longpoll feed.
type Checkpoint struct {
	LastSeq any    `json:"last_seq"`
	Pending *int64 `json:"pending,omitempty"`
}

type CursorState int

const (
	CursorInit CursorState = iota
	CursorStreaming
	CursorExhausted
	CursorError
)

func (s CursorState) String() string {
	switch s {
	case CursorInit:
		return "init"
	case CursorStreaming:
		return "streaming"
	case CursorExhausted:
		return "exhausted"
	case CursorError:
		return "error"
	default:
		return "unknown"
	}
}

// Doc is a JSON document as stored in a database.
type Doc map[string]any

func (d Doc) ID() string {
	id, _ := d["_id"].(string)
	return id
}

func (d Doc) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// Row is one row of a view or _all_docs response.
type Row map[string]any

// BulkResult is the per-document outcome of a _bulk_docs request.
type BulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ActiveTask map[string]any
