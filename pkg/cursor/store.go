package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const cursorsSchema = `
CREATE TABLE IF NOT EXISTS cursors (
    consumer_id TEXT    NOT NULL,
    db_id       INTEGER NOT NULL,
    table_id    INTEGER NOT NULL,
    commit_seq  INTEGER NOT NULL,
    updated_ms  INTEGER NOT NULL,
    PRIMARY KEY (consumer_id, db_id, table_id)
);
`

// Store persists consumer cursor positions between incremental pulls, so a
// reconnecting consumer resumes from what it acknowledged. Commits only
// move a cursor forward; re-delivered acknowledgements are absorbed.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cursor database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cursor db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(cursorsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cursor schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Commit records a consumer's acknowledged position. A commit at or below
// the stored position is a no-op, which makes retried acknowledgements and
// replica replays safe.
func (s *Store) Commit(ctx context.Context, consumerID string, dbID, tableID int64, seq uint64) error {
	if consumerID == "" {
		return fmt.Errorf("cursor: consumer id must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (consumer_id, db_id, table_id, commit_seq, updated_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(consumer_id, db_id, table_id) DO UPDATE SET
    commit_seq = excluded.commit_seq,
    updated_ms = excluded.updated_ms
WHERE excluded.commit_seq > cursors.commit_seq`,
		consumerID, dbID, tableID, int64(seq), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("commit cursor: %w", err)
	}
	return nil
}

// Position returns a consumer's stored position for one table. ok is false
// when the consumer has never committed there.
func (s *Store) Position(ctx context.Context, consumerID string, dbID, tableID int64) (uint64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
SELECT commit_seq FROM cursors
WHERE consumer_id = ? AND db_id = ? AND table_id = ?`,
		consumerID, dbID, tableID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cursor: %w", err)
	}
	return uint64(seq), true, nil
}

// MinCommitted returns the slowest committed position across every
// consumer of a database. Deployments that gc by consumer progress feed
// this to the collection horizon. ok is false when the database has no
// committed cursors at all.
func (s *Store) MinCommitted(ctx context.Context, dbID int64) (uint64, bool, error) {
	var min sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT MIN(commit_seq) FROM cursors WHERE db_id = ?`, dbID).Scan(&min)
	if err != nil {
		return 0, false, fmt.Errorf("read min cursor: %w", err)
	}
	if !min.Valid {
		return 0, false, nil
	}
	return uint64(min.Int64), true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
