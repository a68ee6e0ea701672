package checkpoint

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single sqlite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the checkpoint database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("empty checkpoint db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating checkpoint dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS checkpoints (
			feed TEXT PRIMARY KEY,
			seq TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "initialising %s", path)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, feed string) (any, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM checkpoints WHERE feed = ?`, feed).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "loading checkpoint of %s", feed)
	}
	seq, err := decodeSeq(text)
	return seq, err == nil, err
}

func (s *SQLite) Save(ctx context.Context, feed string, seq any) error {
	text, err := encodeSeq(seq)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (feed, seq, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(feed) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at`,
		feed, text, time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrapf(err, "saving checkpoint of %s", feed)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
