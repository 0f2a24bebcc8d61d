package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history_entries (
	id         TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	framework  TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS history_entries_ts ON history_entries (ts);
`

// SQLite stores one history entry per row. The full entry is kept as JSON in
// the data column; ts and framework are denormalised for ordering.
type SQLite struct {
	path string
	db   *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &errs.StorageError{Op: "mkdir", Path: path, Err: err}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &errs.StorageError{Op: "open", Path: path, Err: err}
	}
	// One writer; the driver serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &errs.StorageError{Op: "migrate", Path: path, Err: err}
	}
	return &SQLite{path: path, db: db}, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Load(ctx context.Context) ([]types.HistoryEntry, int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM history_entries ORDER BY ts, id`)
	if err != nil {
		return nil, 0, &errs.StorageError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	var (
		entries []types.HistoryEntry
		skipped int
	)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, 0, &errs.StorageError{Op: "load", Path: s.path, Err: err}
		}
		var e types.HistoryEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			slog.Warn("storage: skipping undecodable history row", "path", s.path, "id", id, "err", err)
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &errs.StorageError{Op: "load", Path: s.path, Err: err}
	}
	return entries, skipped, nil
}

func (s *SQLite) Save(ctx context.Context, entries []types.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StorageError{Op: "save", Path: s.path, Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
		return &errs.StorageError{Op: "save", Path: s.path, Err: err}
	}
	for _, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return &errs.StorageError{Op: "save", Path: s.path, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &errs.StorageError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, entry types.HistoryEntry) error {
	if err := insertEntry(ctx, s.db, entry); err != nil {
		return &errs.StorageError{Op: "append", Path: s.path, Err: err}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e types.HistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO history_entries (id, ts, framework, data) VALUES (?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().UnixNano(), string(e.Framework), string(data),
	)
	return err
}

var (
	_ Store = (*JSONFile)(nil)
	_ Store = (*SQLite)(nil)
)
