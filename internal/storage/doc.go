// Package storage persists the history log behind a small interface so the
// history manager does not depend on the on-disk format.
//
// Two backends exist: JSONFile (a single JSON document, rewritten atomically)
// and SQLite (one row per entry, via modernc.org/sqlite). Neither takes file
// locks; concurrent writers from different processes race and the last write
// wins.
//
// ReadJSON and WriteJSON are the same atomic read/write helpers for the other
// JSON files testpulse keeps (metrics log, snapshots, final stats).
package storage
